package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigCheckCommand(ctx))
	return configCmd
}

func newConfigCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config ok: %s\n", ctx.configPath())
			fmt.Fprintf(out, "  listen:            %s\n", cfg.Server.Addr)
			fmt.Fprintf(out, "  movies channel:    %d\n", cfg.Content.MoviesChannelID)
			fmt.Fprintf(out, "  series channel:    %d\n", cfg.Content.SeriesChannelID)
			fmt.Fprintf(out, "  required channels: %d\n", len(cfg.Membership.RequiredChannels))
			fmt.Fprintf(out, "  free limit:        %d\n", cfg.Quota.FreeLimit)
			if strings.TrimSpace(cfg.Telegram.BotToken) == "" {
				fmt.Fprintln(out, "warning: telegram.bot_token is empty (set BOT_TOKEN)")
			}
			if strings.TrimSpace(cfg.Telegram.WebhookURL) == "" {
				fmt.Fprintln(out, "warning: telegram.webhook_url is empty, no updates will be received")
			}
			return nil
		},
	}
}
