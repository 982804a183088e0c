package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sticky-board/board"
	"sticky-board/domain"
)

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the board as three columns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			search, _ := cmd.Flags().GetString("search")
			view := a.board.Snapshot()
			a.printf("%s\n", renderBoard(board.Project(view.Tasks, search), view.Mode, search))
			return nil
		},
	}

	cmd.Flags().StringP("search", "s", "", "Only show tasks containing this text")

	return cmd
}

func addCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add a note to a column",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("status")
			status, err := domain.ParseStatus(raw)
			if err != nil {
				return err
			}
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.board.Create(cmd.Context(), status, strings.Join(args, " "))
			if err != nil {
				return err
			}
			a.printf("%s\n", renderTask("added", task))
			return nil
		},
	}

	cmd.Flags().StringP("status", "s", string(domain.StatusTodo), "Column for the new note (todo, progress, completed)")

	return cmd
}

func editCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> [text...]",
		Short: "Replace the text of a note",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.board.Edit(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			a.printf("%s\n", renderTask("saved", task))
			return nil
		},
	}
}

func moveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "move <id> <status>",
		Short: "Move a note to another column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			pos := domain.Head
			if tail, _ := cmd.Flags().GetBool("tail"); tail {
				pos = domain.Tail
			}
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.board.ChangeStatus(cmd.Context(), args[0], status, pos)
			if err != nil {
				return err
			}
			a.printf("%s\n", renderTask("moved", task))
			return nil
		},
	}

	cmd.Flags().Bool("tail", false, "Append to the end of the board instead of the front")

	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a note",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.board.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			a.printf("%s %s\n", okStyle.Render("deleted"), idStyle.Render(args[0]))
			return nil
		},
	}
}

func payloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "payload <id>",
		Short: "Print the drag payload of a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, t := range a.board.Tasks() {
				if t.ID == args[0] {
					data, err := board.EncodePayload(t)
					if err != nil {
						return err
					}
					a.printf("%s\n", data)
					return nil
				}
			}
			return domain.NotFound("payload", args[0])
		},
	}
}

func dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop <payload> <status>",
		Short: "Drop a dragged note on a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := domain.ParseStatus(args[1])
			if err != nil {
				return err
			}
			a, err := loadedApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			moved, err := a.board.Drop(cmd.Context(), []byte(args[0]), status)
			if err != nil {
				return err
			}
			if !moved {
				a.printf("%s\n", modeStyle.Render("nothing to move"))
				return nil
			}
			a.printf("%s %s\n", okStyle.Render("dropped on"), status)
			return nil
		},
	}
}

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login [token]",
		Short: "Sign in to the task service and load the remote board",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, _ := cmd.Flags().GetString("token")
			if len(args) == 1 {
				token = args[0]
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return errors.New("a bearer token is required")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if url, _ := cmd.Flags().GetString("api-url"); url != "" {
				a.saved.APIURL = url
				a.wire(url)
			}
			a.session.SignIn(token)
			user, err := a.remote.EnsureUser(cmd.Context())
			if err != nil {
				a.session.SignOut()
				return err
			}
			if err := a.saveToken(token); err != nil {
				return err
			}
			a.printf("%s %s\n", okStyle.Render("signed in as"), user.ID)
			if err := a.board.Load(cmd.Context()); err != nil {
				return fmt.Errorf("load board (%s): %w", a.board.Mode(), err)
			}
			a.printf("%d tasks on the %s board\n", len(a.board.Tasks()), a.board.Mode())
			return nil
		},
	}

	cmd.Flags().StringP("token", "t", "", "Bearer token issued for the task service")
	cmd.Flags().String("api-url", "", "Task service base URL to remember")

	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the credential and use the local board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			a.session.SignOut()
			if err := a.saveToken(""); err != nil {
				return err
			}
			a.printf("%s\n", okStyle.Render("signed out, using the local board"))
			return nil
		},
	}
}
