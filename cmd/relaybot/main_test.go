package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/fx"

	"github.com/hsitotv/relaybot/internal/config"
)

func TestServeGraphIsComplete(t *testing.T) {
	if err := fx.ValidateApp(serveOptions(config.Default())...); err != nil {
		t.Fatalf("dependency graph: %v", err)
	}
}

func TestKeepAliveURL(t *testing.T) {
	cfg := config.Default()
	if got := keepAliveURL(cfg); got != "" {
		t.Fatalf("expected no keep-alive url without webhook, got %q", got)
	}
	cfg.Telegram.WebhookURL = "https://bot.example.com/"
	if got := keepAliveURL(cfg); got != "https://bot.example.com/health" {
		t.Fatalf("unexpected keep-alive url: %q", got)
	}
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConfigCheck(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	t.Setenv("WEBHOOK_URL", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[telegram]
bot_token = "123:abc"
webhook_url = "https://bot.example.com"

[quota]
free_limit = 5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runRoot(t, "config", "check", "--config", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "config ok: "+path) || !strings.Contains(out, "free limit:        5") {
		t.Fatalf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "warning:") {
		t.Fatalf("unexpected warnings:\n%s", out)
	}
	if strings.Contains(out, "123:abc") {
		t.Fatal("token must not be printed")
	}
}

func TestConfigCheckRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[relay]\nbatch_counting = \"sometimes\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := runRoot(t, "config", "check", "-c", path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestWebhookSetRequiresURL(t *testing.T) {
	t.Setenv("WEBHOOK_URL", "")
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[telegram]\nbot_token = \"123:abc\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := runRoot(t, "webhook", "set", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "webhook_url") {
		t.Fatalf("expected missing url error, got %v", err)
	}
}
