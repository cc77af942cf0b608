package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hsitotv/relaybot/internal/config"
)

// commandContext loads the configuration once per invocation.
type commandContext struct {
	configFlag *string
	cfg        *config.Config
}

func (c *commandContext) configPath() string {
	if c.configFlag != nil {
		if path := strings.TrimSpace(*c.configFlag); path != "" {
			return path
		}
	}
	if path := strings.TrimSpace(os.Getenv("CONFIG_PATH")); path != "" {
		return path
	}
	return config.DefaultConfigPath
}

func (c *commandContext) ensureConfig() (config.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := config.Load(c.configPath())
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	c.cfg = &cfg
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	var configFlag string
	ctx := &commandContext{configFlag: &configFlag}

	rootCmd := &cobra.Command{
		Use:           "relaybot",
		Short:         "Telegram bot relaying movies and series from private channels",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (defaults to $CONFIG_PATH or config.toml)")

	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newWebhookCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))
	return rootCmd
}

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and background jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(ctx)
		},
	}
}
