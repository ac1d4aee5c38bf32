package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ojage/lokkito-backend/internal/chat"
	"github.com/ojage/lokkito-backend/internal/config"
	"github.com/ojage/lokkito-backend/internal/llm"
	"github.com/ojage/lokkito-backend/internal/store"
)

func newSendCmd() *cobra.Command {
	var (
		sessionID string
		docs      []string
		stream    bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message through a one-off session and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")

			cfg, err := config.Load(paths.Config)
			if err != nil {
				cfg = config.Defaults()
			}
			if cfg.Provider.APIKey == "" {
				return fmt.Errorf("no provider API key configured (set provider.apiKey or OPENAI_API_KEY)")
			}

			if sessionID == "" {
				sessionID = fmt.Sprintf("cli-%d", time.Now().Unix())
			}

			provider := llm.NewOpenAIClient(cfg.Provider.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL)
			manager := chat.NewManager(store.NewMemorySessionStore(), provider,
				time.Duration(cfg.Provider.TimeoutSeconds)*time.Second, log)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			req := chat.SendRequest{
				SessionID:    sessionID,
				Text:         message,
				DocumentRefs: docs,
			}

			if stream {
				_, err := manager.SendMessageStream(ctx, req, func(ev llm.StreamEvent) {
					if ev.Type == "delta" {
						fmt.Print(ev.Content)
					}
				})
				if err != nil {
					return err
				}
				fmt.Println()
				return nil
			}

			result, err := manager.SendMessage(ctx, req)
			if err != nil {
				return err
			}
			fmt.Println(result.ReplyText)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: fresh per invocation)")
	cmd.Flags().StringSliceVar(&docs, "doc", nil, "document name to attach (repeatable)")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the response")

	return cmd
}
