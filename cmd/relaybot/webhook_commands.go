package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hsitotv/relaybot/internal/channel/adapters/telegram"
	"github.com/hsitotv/relaybot/internal/logger"
)

const webhookCommandTimeout = 30 * time.Second

func newWebhookCommand(ctx *commandContext) *cobra.Command {
	webhookCmd := &cobra.Command{
		Use:   "webhook",
		Short: "Inspect or change the Telegram webhook registration",
	}
	webhookCmd.AddCommand(newWebhookInfoCommand(ctx))
	webhookCmd.AddCommand(newWebhookSetCommand(ctx))
	webhookCmd.AddCommand(newWebhookDeleteCommand(ctx))
	return webhookCmd
}

func (c *commandContext) adapter() (*telegram.Adapter, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log := logger.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	return telegram.New(log, cfg.Telegram)
}

func newWebhookInfoCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the webhook currently registered with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			adapter, err := ctx.adapter()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), webhookCommandTimeout)
			defer cancel()
			status, err := adapter.WebhookInfo(reqCtx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			registered := "no"
			if status.URL != "" {
				registered = "yes"
			}
			// The registered URL carries the token and is never printed.
			matches := status.URL != "" && status.URL == cfg.Telegram.WebhookTarget()
			fmt.Fprintf(out, "registered:       %s\n", registered)
			fmt.Fprintf(out, "matches config:   %t\n", matches)
			fmt.Fprintf(out, "pending updates:  %d\n", status.PendingUpdateCount)
			fmt.Fprintf(out, "max connections:  %d\n", status.MaxConnections)
			if !status.LastErrorAt.IsZero() {
				fmt.Fprintf(out, "last error:       %s (%s)\n", status.LastErrorMessage, status.LastErrorAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newWebhookSetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "set",
		Short: "Register telegram.webhook_url with Telegram",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := cfg.Telegram.WebhookTarget()
			if target == "" {
				return errors.New("telegram.webhook_url is not configured")
			}
			adapter, err := ctx.adapter()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), webhookCommandTimeout)
			defer cancel()
			if err := adapter.SetWebhook(reqCtx, target); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook registered")
			return nil
		},
	}
}

func newWebhookDeleteCommand(ctx *commandContext) *cobra.Command {
	var dropPending bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Remove the webhook registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter, err := ctx.adapter()
			if err != nil {
				return err
			}
			reqCtx, cancel := context.WithTimeout(cmd.Context(), webhookCommandTimeout)
			defer cancel()
			if err := adapter.DeleteWebhook(reqCtx, dropPending); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&dropPending, "drop-pending", false, "Discard updates Telegram has queued")
	return cmd
}
