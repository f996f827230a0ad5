// ABOUTME: msgsync CLI for running the sync engine against a message service
// ABOUTME: Subcommands watch the conversation list, send messages, and resolve pairs

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/auth"
	"github.com/trovato-app/msgsync/internal/config"
	"github.com/trovato-app/msgsync/internal/engine"
	"github.com/trovato-app/msgsync/internal/guard"
)

var (
	flagConfig  string
	flagBaseURL string
	flagToken   string
)

func main() {
	root := &cobra.Command{
		Use:           "msgsync",
		Short:         "Conversation synchronization client for the Trovato message service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config")
	root.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "message service base URL (overrides config)")
	root.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (or MSGSYNC_TOKEN)")

	root.AddCommand(watchCmd(), conversationsCmd(), sendCmd(), contactCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

// loadConfig merges the config file, flags, and environment.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if flagConfig != "" {
		loaded, err := config.Load(flagConfig)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if flagBaseURL != "" {
		cfg.Service.BaseURL = flagBaseURL
	}
	if cfg.Service.BaseURL == "" {
		return nil, fmt.Errorf("no service base URL; pass --base-url or set service.base_url")
	}
	return cfg, nil
}

func bearerToken() (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}
	if tok := os.Getenv("MSGSYNC_TOKEN"); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("no bearer token; pass --token or set MSGSYNC_TOKEN")
}

// buildEngine constructs a started engine from flags and config.
func buildEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	token, err := bearerToken()
	if err != nil {
		return nil, nil, err
	}

	logger := newLogger(cfg.Logging)
	client, err := api.NewClient(cfg.Service.BaseURL, &http.Client{Timeout: cfg.Service.Timeout}, logger)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.New(client, engine.Options{
		PollInterval:     cfg.Sync.PollInterval,
		FailureThreshold: cfg.Sync.FailureThreshold,
		PageLimit:        cfg.Sync.PageLimit,
	}, logger)
	eng.Start(auth.NewCredential(token))
	return eng, cfg, nil
}

// refreshNow forces a conversations refresh for a one-shot command,
// retrying briefly when the engine's own startup firing holds the guard.
func refreshNow(ctx context.Context, eng *engine.Engine) error {
	for {
		err := eng.RefreshConversations(ctx)
		if !errors.Is(err, guard.ErrSkipped) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

func watchCmd() *cobra.Command {
	var open int64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the service and print conversation updates until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, cfg, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Stop()

			if open != 0 {
				eng.Open(open)
			}

			// SIGCONT plays the role of a foreground resume: a process
			// brought back with `fg` refreshes immediately instead of
			// waiting out the poll interval.
			resume := make(chan os.Signal, 1)
			signal.Notify(resume, syscall.SIGCONT)
			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

			ticker := time.NewTicker(cfg.Sync.PollInterval)
			defer ticker.Stop()

			bold := color.New(color.Bold)
			for {
				select {
				case <-stop:
					return nil
				case <-resume:
					eng.NotifyVisible()
				case <-ticker.C:
					printConversations(eng, bold)
					if open != 0 {
						printMessages(eng, open)
					}
				}
			}
		},
	}
	cmd.Flags().Int64Var(&open, "open", 0, "conversation id to keep open (its messages are polled too)")
	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "Fetch and print the conversation list once",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Stop()

			if err := refreshNow(cmd.Context(), eng); err != nil {
				return err
			}
			printConversations(eng, color.New(color.Bold))
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var conversationID int64
	cmd := &cobra.Command{
		Use:   "send [body]",
		Short: "Send a message to a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Stop()

			if err := refreshNow(cmd.Context(), eng); err != nil {
				return err
			}
			if err := eng.Send(cmd.Context(), conversationID, args[0]); err != nil {
				return err
			}
			color.Green("sent to conversation %d", conversationID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&conversationID, "conversation", 0, "conversation id")
	cmd.MarkFlagRequired("conversation")
	return cmd
}

func contactCmd() *cobra.Command {
	var productID, counterpartyID int64
	cmd := &cobra.Command{
		Use:   "contact [first message]",
		Short: "Find or create the conversation for a product and counterparty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, err := buildEngine()
			if err != nil {
				return err
			}
			defer eng.Stop()

			if err := refreshNow(cmd.Context(), eng); err != nil {
				return err
			}
			eng.SetPendingPair(productID, counterpartyID)
			id, err := eng.Resolve(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			color.Green("conversation %d", id)
			return nil
		},
	}
	cmd.Flags().Int64Var(&productID, "product", 0, "product id")
	cmd.Flags().Int64Var(&counterpartyID, "counterparty", 0, "counterparty user id")
	cmd.MarkFlagRequired("product")
	cmd.MarkFlagRequired("counterparty")
	return cmd
}

func printConversations(eng *engine.Engine, bold *color.Color) {
	convs := eng.Conversations()
	bold.Printf("%d conversations, %d unread", len(convs), eng.UnreadTotal())
	if eng.Degraded() {
		color.Yellow("  (refresh degraded, data may be stale)")
	} else {
		fmt.Println()
	}
	for _, c := range convs {
		marker := " "
		if c.UnreadCount > 0 {
			marker = color.RedString("%d", c.UnreadCount)
		}
		at := ""
		if c.LastMessageAt != nil {
			at = c.LastMessageAt.Local().Format("15:04")
		}
		fmt.Printf("  [%s] #%d product=%d %s %s\n",
			marker, c.ID, c.ProductID, at, c.LastMessagePreview)
	}
}

func printMessages(eng *engine.Engine, conversationID int64) {
	for _, m := range eng.Messages(conversationID) {
		fmt.Printf("    %s  %d: %s\n",
			m.CreatedAt.Local().Format("15:04:05"), m.SenderID, m.Body)
	}
}
