package cli

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojage/lokkito-backend/internal/chat"
	"github.com/ojage/lokkito-backend/internal/config"
	"github.com/ojage/lokkito-backend/internal/gateway"
	"github.com/ojage/lokkito-backend/internal/identity"
	"github.com/ojage/lokkito-backend/internal/llm"
	"github.com/ojage/lokkito-backend/internal/store"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the chat server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(paths.Config)
			if err != nil {
				return err
			}

			if port != 0 {
				cfg.Server.Port = port
			}
			if bind != "" {
				cfg.Server.Bind = bind
			}

			issues := config.Validate(&cfg)
			if len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}

			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			// Session store (SQLite or in-memory)
			var sessions store.SessionStore
			if cfg.Store.Backend == "memory" {
				sessions = store.NewMemorySessionStore()
				log.Info().Msg("using in-memory session store")
			} else {
				dbPath := cfg.Store.Path
				if dbPath == "" {
					dbPath = filepath.Join(paths.Data, "lokkito.db")
				}
				db, err := store.Open(dbPath, log)
				if err != nil {
					return fmt.Errorf("opening database: %w", err)
				}
				defer db.Close()
				sessions = store.NewSQLiteSessionStore(db)
				log.Info().Str("path", dbPath).Msg("using SQLite session store")
			}

			provider := llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL)
			manager := chat.NewManager(sessions, provider,
				time.Duration(cfg.Provider.TimeoutSeconds)*time.Second, log)

			idp := identity.NewProvider(cfg.Identity.Domain, cfg.Identity.ClientID, cfg.Identity.ClientSecret, log)
			if idp.Enabled() {
				log.Info().Str("domain", cfg.Identity.Domain).Msg("identity provider configured")
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.New(cfg, manager, idp, log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode: loopback, lan, custom (overrides config)")

	return cmd
}
