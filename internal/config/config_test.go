package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeJSON(t *testing.T, path string, data map[string]any) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadRequiresBotTokenAndChatID(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	if _, err := Load(work); err == nil {
		t.Fatal("expected error when botToken/chatId are unset")
	}
}

func TestLoadHomeConfigIsBaseline(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeJSON(t, filepath.Join(home, ".config", AppName, "telegram.json"), map[string]any{
		"botToken": "home-token",
		"chatId":   111,
	})

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "home-token" || cfg.ChatID != 111 {
		t.Fatalf("expected home config values, got %+v", cfg)
	}
}

func TestLoadWorkdirConfigOverridesHome(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeJSON(t, filepath.Join(home, ".config", AppName, "telegram.json"), map[string]any{
		"botToken": "home-token",
		"chatId":   111,
	})
	writeJSON(t, filepath.Join(work, ".opencode", "telegram.json"), map[string]any{
		"botToken": "workdir-token",
	})

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "workdir-token" {
		t.Fatalf("expected workdir config to override home, got botToken=%q", cfg.BotToken)
	}
	if cfg.ChatID != 111 {
		t.Fatalf("expected chatId from home config to survive merge, got %d", cfg.ChatID)
	}
}

func TestLoadEnvOverridesFiles(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)

	writeJSON(t, filepath.Join(home, ".config", AppName, "telegram.json"), map[string]any{
		"botToken": "home-token",
		"chatId":   111,
	})
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")
	t.Setenv("TELEGRAM_CHAT_ID", "222")
	t.Setenv("TELEGRAM_THREAD_ID", "7")

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BotToken != "env-token" {
		t.Fatalf("expected env bot token to win, got %q", cfg.BotToken)
	}
	if cfg.ChatID != 222 {
		t.Fatalf("expected env chat id to win, got %d", cfg.ChatID)
	}
	if cfg.ThreadID != 7 {
		t.Fatalf("expected env thread id applied, got %d", cfg.ThreadID)
	}
}

func TestUseICloudCoordinatorDefaultsTrue(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "1")

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.UseICloudCoordinator {
		t.Fatal("expected USE_ICLOUD_COORDINATOR to default true")
	}
}

func TestUseICloudCoordinatorEnvOverrideFalse(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "1")
	t.Setenv("USE_ICLOUD_COORDINATOR", "false")

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.UseICloudCoordinator {
		t.Fatal("expected USE_ICLOUD_COORDINATOR=false to disable the coordinator")
	}
}

func TestVoiceAndDiffUploadEnabledFlags(t *testing.T) {
	home := t.TempDir()
	work := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("TELEGRAM_BOT_TOKEN", "tok")
	t.Setenv("TELEGRAM_CHAT_ID", "1")

	cfg, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.VoiceEnabled() || cfg.DiffUploadEnabled() {
		t.Fatal("expected voice/diff upload disabled without OPENAI_API_KEY/DIFF_VIEWER_URL")
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("DIFF_VIEWER_URL", "https://diff.example.com")
	cfg2, err := Load(work)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg2.VoiceEnabled() || !cfg2.DiffUploadEnabled() {
		t.Fatal("expected voice/diff upload enabled once keys are set")
	}
}
