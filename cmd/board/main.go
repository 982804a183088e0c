package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "board",
		Short:         "Sticky note task board, local or synced with the task service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.config/sticky-board/config.json)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log board activity to stderr")

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(moveCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(payloadCmd())
	rootCmd.AddCommand(dropCmd())
	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())

	return rootCmd
}
