package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"sticky-board/backend"
	"sticky-board/board"
)

// app wires the backends and the board for a single CLI invocation.
type app struct {
	configPath string
	saved      *Config
	cfg        Config

	kv      *backend.SQLiteKV
	session *backend.Session
	remote  *backend.Remote
	board   *board.Board
	log     *log.Logger
	out     io.Writer
}

func openApp(cmd *cobra.Command) (*app, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}
	saved, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	cfg := saved.withEnv()

	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(log.WarnLevel)
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logger.SetLevel(log.DebugLevel)
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), configDirPerm); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	kv, err := backend.OpenSQLiteKV(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	a := &app{
		configPath: configPath,
		saved:      saved,
		cfg:        cfg,
		kv:         kv,
		session:    backend.NewSession(cfg.Token),
		log:        logger,
		out:        cmd.OutOrStdout(),
	}
	a.wire(cfg.APIURL)
	return a, nil
}

// wire builds the remote for apiURL and a board selecting between it and
// the local store.
func (a *app) wire(apiURL string) {
	a.remote = backend.NewRemote(apiURL, a.session, nil, a.log)
	selector := backend.NewSelector(a.session, backend.NewLocal(a.kv, a.log), a.remote)
	a.board = board.New(selector, board.WithLogger(a.log))
}

// loadedApp opens the app and loads the collection from the selected backend.
func loadedApp(cmd *cobra.Command) (*app, error) {
	a, err := openApp(cmd)
	if err != nil {
		return nil, err
	}
	if err := a.board.Load(cmd.Context()); err != nil {
		a.Close()
		return nil, fmt.Errorf("load board (%s): %w", a.board.Mode(), err)
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.kv.Close(); err != nil {
		a.log.WithError(err).Warn("close local store")
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func (a *app) saveToken(token string) error {
	a.saved.Token = token
	return SaveConfig(a.configPath, a.saved)
}
