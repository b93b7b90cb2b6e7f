package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var allEnv = []string{
	EnvHTTPAddr, EnvRateLimit, EnvQueueBackend, EnvQueueDSN, EnvQueueDir, EnvRedisAddr,
	EnvRedisPassword, EnvRedisDB, EnvRedisPrefix, EnvSessionDriver, EnvSessionDSN,
	EnvMessageTTL, EnvSweepInterval, EnvEventTTL, EnvDisableQueuing, EnvEventLogEnabled,
	EnvRequireMentionNew, EnvRequireMentionThread, EnvBreakKeyword, EnvStartKeyword,
	EnvClearQueueKeyword, EnvAllowedChannels, EnvHistoryLimit, EnvSystemPrompt,
	EnvGenAIProvider, EnvGenAIModel, EnvGenAIMaxTokens, EnvInputTokenPrice,
	EnvOutputTokenPrice, EnvBreakerThreshold, EnvBreakerCooldown, EnvAnthropicAPIKey,
	EnvDiscordToken, EnvDiscordInternalChannel, EnvRESTWebhookURL, EnvOTLPEndpoint,
}

// isolate clears the environment and runs from an empty directory with an empty home.
func isolate(t *testing.T) string {
	t.Helper()
	for _, key := range append(allEnv, EnvConfigFile) {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())

	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("get cwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(originalWD) })
	workDir := t.TempDir()
	if err := os.Chdir(workDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	return workDir
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadDefaultsWhenNoFile(t *testing.T) {
	isolate(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != DefaultHTTPAddr || cfg.Queue.Backend != DefaultQueueBackend || cfg.Queue.MessageTTL != DefaultMessageTTL {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Queue.EventTTL != DefaultEventTTL {
		t.Fatalf("unexpected default event ttl %s", cfg.Queue.EventTTL)
	}
	if !cfg.EventLogEnabled || !cfg.Behavior.RequireMentionNewMessage || cfg.Behavior.RequireMentionThreadMessage {
		t.Fatalf("unexpected default flags: %+v", cfg)
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), EnvAnthropicAPIKey) {
		t.Fatalf("expected missing api key error, got %v", err)
	}
}

func TestLoadYAMLThenEnvOverrides(t *testing.T) {
	dir := isolate(t)
	path := writeFile(t, filepath.Join(dir, "bot.yaml"), `
version: 1
http_addr: "127.0.0.1:7070"
queue:
  backend: redis
  redis_addr: "localhost:6379"
  message_ttl: "30m"
  event_ttl: "72h"
  disable_queuing: true
behavior:
  require_mention_new_message: false
  allowed_channels: ["support-*", "C42"]
  history_limit: 10
genai:
  model: "claude-test"
  input_token_price: 0.003
  output_token_price: 0.015
  anthropic_api_key: "yaml-key"
reactions:
  acknowledge: "thumbsup"
discord:
  internal_channel: "ops"
`)
	t.Setenv(EnvConfigFile, path)
	t.Setenv(EnvMessageTTL, "45m")
	t.Setenv(EnvEventTTL, "48h")
	t.Setenv(EnvAllowedChannels, "env-1, env-2")
	t.Setenv(EnvAnthropicAPIKey, "env-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:7070" || cfg.Queue.Backend != "redis" || !cfg.Queue.DisableQueuing {
		t.Fatalf("yaml values not applied: %+v", cfg.Queue)
	}
	if cfg.Queue.MessageTTL != 45*time.Minute {
		t.Fatalf("expected env ttl override, got %s", cfg.Queue.MessageTTL)
	}
	if cfg.Queue.EventTTL != 48*time.Hour {
		t.Fatalf("expected env event ttl override, got %s", cfg.Queue.EventTTL)
	}
	if cfg.Behavior.RequireMentionNewMessage || cfg.Behavior.HistoryLimit != 10 {
		t.Fatalf("unexpected behavior: %+v", cfg.Behavior)
	}
	if strings.Join(cfg.Behavior.AllowedChannels, ",") != "env-1,env-2" {
		t.Fatalf("unexpected allowed channels %v", cfg.Behavior.AllowedChannels)
	}
	if cfg.GenAI.AnthropicAPIKey != "env-key" || cfg.GenAI.Model != "claude-test" || cfg.GenAI.OutputTokenPrice != 0.015 {
		t.Fatalf("unexpected genai: %+v", cfg.GenAI)
	}
	if cfg.Reactions["ACKNOWLEDGE"] != "thumbsup" || cfg.DiscordInternalChannel != "ops" {
		t.Fatalf("unexpected reactions/discord: %+v %s", cfg.Reactions, cfg.DiscordInternalChannel)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestLoadPrefersLocalConfigDir(t *testing.T) {
	dir := isolate(t)
	home := os.Getenv("HOME")
	writeFile(t, filepath.Join(home, configDirName, "config.yaml"), `http_addr: ":1111"`)
	writeFile(t, filepath.Join(dir, configDirName, "config.yml"), `http_addr: ":2222"`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":2222" {
		t.Fatalf("expected local config, got %s", cfg.HTTPAddr)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	dir := isolate(t)
	_ = os.Unsetenv(EnvQueueBackend)
	writeFile(t, filepath.Join(dir, ".env"), EnvQueueBackend+"=memory")
	t.Cleanup(func() { _ = os.Unsetenv(EnvQueueBackend) })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Backend != "memory" {
		t.Fatalf("expected .env value, got %s", cfg.Queue.Backend)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	dir := isolate(t)
	t.Setenv(EnvConfigFile, writeFile(t, filepath.Join(dir, "c.yaml"), `
queue:
  sweep_interval: "soon"
`))
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "queue.sweep_interval") {
		t.Fatalf("expected duration error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	valid := Default()
	valid.GenAI.AnthropicAPIKey = "k"
	if err := valid.Validate(); err != nil {
		t.Fatalf("default config with key should validate: %v", err)
	}

	cases := map[string]func(*Config){
		EnvQueueBackend:   func(c *Config) { c.Queue.Backend = "kafka" },
		EnvRedisAddr:      func(c *Config) { c.Queue.Backend = "redis" },
		EnvMessageTTL:     func(c *Config) { c.Queue.MessageTTL = 0 },
		EnvEventTTL:       func(c *Config) { c.Queue.EventTTL = 0 },
		EnvSessionDriver:  func(c *Config) { c.Session.Driver = "mongo" },
		EnvGenAIProvider:  func(c *Config) { c.GenAI.Provider = "other" },
		"reactions.BOGUS": func(c *Config) { c.Reactions = map[string]string{"BOGUS": "x"} },
	}
	for want, mutate := range cases {
		cfg := valid
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Fatalf("%s: expected error mentioning it, got %v", want, err)
		}
	}
}
