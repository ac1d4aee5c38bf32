package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ojage/lokkito-backend/internal/config"
	"github.com/ojage/lokkito-backend/internal/store"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage stored sessions",
	}

	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	cmd.AddCommand(newSessionsClearCmd())

	return cmd
}

// openStore opens the configured SQLite store for offline inspection.
func openStore() (store.SessionStore, func(), error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Store.Backend == "memory" {
		return nil, nil, fmt.Errorf("store backend is %q; sessions commands need the sqlite backend", cfg.Store.Backend)
	}

	dbPath := cfg.Store.Path
	if dbPath == "" {
		dbPath = filepath.Join(paths.Data, "lokkito.db")
	}
	db, err := store.Open(dbPath, log)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	return store.NewSQLiteSessionStore(db), func() { db.Close() }, nil
}

func newSessionsListCmd() *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			summaries, err := st.List(owner)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range summaries {
				fmt.Printf("%-30s messages=%-4d docs=%-3d lastActivity=%s\n",
					s.ID, s.MessageCount, len(s.DocumentRefs), s.LastActivity.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "only sessions owned by this user id")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sessionId>",
		Short: "Print a session's full history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			sess, err := st.Get(args[0])
			if err != nil {
				return err
			}

			fmt.Printf("session %s", sess.ID)
			if sess.OwnerID != "" {
				fmt.Printf(" (owner %s)", sess.OwnerID)
			}
			fmt.Println()
			if len(sess.DocumentRefs) > 0 {
				fmt.Printf("documents: %v\n", sess.DocumentRefs)
			}
			for _, msg := range sess.Messages {
				fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04:05"), msg.Role, msg.Content)
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sessionId>",
		Short: "Delete a session and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			deleted, err := st.Delete(args[0])
			if err != nil {
				return err
			}
			if !deleted {
				return fmt.Errorf("session %q not found", args[0])
			}
			fmt.Printf("deleted %s\n", args[0])
			return nil
		},
	}
}

func newSessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <sessionId>",
		Short: "Clear a session's messages, keeping the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, closeFn, err := openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			cleared, err := st.Clear(args[0])
			if err != nil {
				return err
			}
			if !cleared {
				return fmt.Errorf("session %q not found", args[0])
			}
			fmt.Printf("cleared %s\n", args[0])
			return nil
		},
	}
}
