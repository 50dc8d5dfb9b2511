// Package config loads bridge configuration from a layered set of sources:
// a home-directory config file, a working-directory config file, and
// environment variables, in that precedence order (later overrides earlier).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// AppName names the shared-store subdirectory and the config file family
// ("telegram.json" under $HOME/.config/<AppName>/ and <workdir>/.opencode/).
const AppName = "tg-agent-bridge"

// Config holds everything read from telegram.json / environment for one
// bridge instance. Required fields (BotToken, ChatID) are validated by Load.
type Config struct {
	BotToken    string `mapstructure:"botToken"`
	ChatID      int64  `mapstructure:"chatId"`
	ThreadID    int    `mapstructure:"threadId"`
	UpdatesURL  string `mapstructure:"updatesUrl"`
	SendURL     string `mapstructure:"sendUrl"`

	UseICloudCoordinator bool   `mapstructure:"useICloudCoordinator"`
	DeviceName           string `mapstructure:"deviceName"`
	OpencodeURL          string `mapstructure:"opencodeUrl"`
	OpenAIAPIKey         string `mapstructure:"openaiApiKey"`
	DiffViewerURL        string `mapstructure:"diffViewerUrl"`

	StoreRoot string `mapstructure:"storeRoot"`
	Debug     bool   `mapstructure:"debug"`
}

// VoiceEnabled reports whether voice-note transcription is configured.
func (c *Config) VoiceEnabled() bool { return c.OpenAIAPIKey != "" }

// DiffUploadEnabled reports whether full-diff uploads are configured.
func (c *Config) DiffUploadEnabled() bool { return c.DiffViewerURL != "" }

func defaults() map[string]any {
	return map[string]any{
		"useICloudCoordinator": true,
		"storeRoot":            defaultStoreRoot(),
	}
}

func defaultStoreRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, "Library", "Mobile Documents", "com~apple~CloudDocs", AppName)
}

// Load builds the layered viper configuration described in spec.md §6.3:
// $HOME/.config/<app>/telegram.json, then <workdir>/.opencode/telegram.json
// merged on top, then environment variables taking highest precedence.
func Load(workdir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("json")

	for key, value := range defaults() {
		v.SetDefault(key, value)
	}

	home, err := os.UserHomeDir()
	if err == nil {
		homePath := filepath.Join(home, ".config", AppName, "telegram.json")
		if _, statErr := os.Stat(homePath); statErr == nil {
			v.SetConfigFile(homePath)
			if readErr := v.ReadInConfig(); readErr != nil {
				return nil, fmt.Errorf("reading home config %s: %w", homePath, readErr)
			}
		}
	}

	if workdir == "" {
		workdir, _ = os.Getwd()
	}
	workPath := filepath.Join(workdir, ".opencode", "telegram.json")
	if _, statErr := os.Stat(workPath); statErr == nil {
		v.SetConfigFile(workPath)
		if readErr := v.MergeInConfig(); readErr != nil {
			return nil, fmt.Errorf("reading workdir config %s: %w", workPath, readErr)
		}
	}

	bindEnv(v)
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnvOverrides(&cfg)

	if cfg.BotToken == "" || cfg.ChatID == 0 {
		return nil, fmt.Errorf("botToken and chatId are required")
	}

	return &cfg, nil
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("botToken", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("chatId", "TELEGRAM_CHAT_ID")
	_ = v.BindEnv("threadId", "TELEGRAM_THREAD_ID")
	_ = v.BindEnv("updatesUrl", "TELEGRAM_UPDATES_URL")
	_ = v.BindEnv("sendUrl", "TELEGRAM_SEND_URL")
	_ = v.BindEnv("useICloudCoordinator", "USE_ICLOUD_COORDINATOR")
	_ = v.BindEnv("deviceName", "DEVICE_NAME")
	_ = v.BindEnv("opencodeUrl", "OPENCODE_URL")
	_ = v.BindEnv("openaiApiKey", "OPENAI_API_KEY")
	_ = v.BindEnv("diffViewerUrl", "DIFF_VIEWER_URL")
}

// applyEnvOverrides fixes up the handful of fields whose env form needs
// type coercion viper's mapstructure pass won't do for us (chatId/threadId
// arrive as strings from the shell, and "useICloudCoordinator" accepts the
// usual boolean-ish spellings).
func applyEnvOverrides(cfg *Config) {
	if s := os.Getenv("TELEGRAM_CHAT_ID"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			cfg.ChatID = n
		}
	}
	if s := os.Getenv("TELEGRAM_THREAD_ID"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			cfg.ThreadID = n
		}
	}
	if s := os.Getenv("USE_ICLOUD_COORDINATOR"); s != "" {
		cfg.UseICloudCoordinator = !strings.EqualFold(s, "false") && s != "0"
	}
}
