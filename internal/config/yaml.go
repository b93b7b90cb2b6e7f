package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile           = "GENAIBOTS_CONFIG_FILE"
	configDirName           = ".genaibots"
	defaultConfigFileName   = "config.yaml"
	alternateConfigFileName = "config.yml"
)

type fileConfig struct {
	Version   int               `yaml:"version"`
	HTTPAddr  string            `yaml:"http_addr"`
	RateLimit *int              `yaml:"rate_limit"`
	Queue     fileQueueConfig   `yaml:"queue"`
	Session   fileSessionConfig `yaml:"session"`
	Behavior  fileBehavior      `yaml:"behavior"`
	GenAI     fileGenAIConfig   `yaml:"genai"`
	EventLog  *bool             `yaml:"event_log_enabled"`
	Reactions map[string]string `yaml:"reactions"`
	Discord   fileDiscordConfig `yaml:"discord"`
	REST      fileRESTConfig    `yaml:"rest"`
	OTLP      string            `yaml:"otlp_endpoint"`
}

type fileQueueConfig struct {
	Backend        string `yaml:"backend"`
	DSN            string `yaml:"dsn"`
	Dir            string `yaml:"dir"`
	RedisAddr      string `yaml:"redis_addr"`
	RedisPassword  string `yaml:"redis_password"`
	RedisDB        *int   `yaml:"redis_db"`
	RedisPrefix    string `yaml:"redis_prefix"`
	MessageTTL     string `yaml:"message_ttl"`
	SweepInterval  string `yaml:"sweep_interval"`
	DisableQueuing *bool  `yaml:"disable_queuing"`
	EventTTL       string `yaml:"event_ttl"`
}

type fileSessionConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type fileBehavior struct {
	RequireMentionNewMessage    *bool    `yaml:"require_mention_new_message"`
	RequireMentionThreadMessage *bool    `yaml:"require_mention_thread_message"`
	BreakKeyword                string   `yaml:"break_keyword"`
	StartKeyword                string   `yaml:"start_keyword"`
	ClearQueueKeyword           string   `yaml:"clear_queue_keyword"`
	AllowedChannels             []string `yaml:"allowed_channels"`
	HistoryLimit                *int     `yaml:"history_limit"`
	SystemPrompt                string   `yaml:"system_prompt"`
}

type fileGenAIConfig struct {
	Provider         string   `yaml:"provider"`
	Model            string   `yaml:"model"`
	MaxTokens        *int     `yaml:"max_tokens"`
	InputTokenPrice  *float64 `yaml:"input_token_price"`
	OutputTokenPrice *float64 `yaml:"output_token_price"`
	BreakerThreshold *int     `yaml:"breaker_threshold"`
	BreakerCooldown  string   `yaml:"breaker_cooldown"`
	AnthropicAPIKey  string   `yaml:"anthropic_api_key"`
}

type fileDiscordConfig struct {
	Token           string `yaml:"token"`
	InternalChannel string `yaml:"internal_channel"`
}

type fileRESTConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

func applyYAML(cfg *Config, source fileConfig) error {
	setString(&cfg.HTTPAddr, source.HTTPAddr)
	setInt(&cfg.RateLimit, source.RateLimit)

	q := &cfg.Queue
	if v := strings.TrimSpace(source.Queue.Backend); v != "" {
		q.Backend = strings.ToLower(v)
	}
	setString(&q.DSN, source.Queue.DSN)
	setString(&q.Dir, source.Queue.Dir)
	setString(&q.RedisAddr, source.Queue.RedisAddr)
	setString(&q.RedisPassword, source.Queue.RedisPassword)
	setString(&q.RedisPrefix, source.Queue.RedisPrefix)
	setInt(&q.RedisDB, source.Queue.RedisDB)
	var err error
	if q.MessageTTL, err = parseOptionalDuration(source.Queue.MessageTTL, q.MessageTTL, "queue.message_ttl"); err != nil {
		return err
	}
	if q.SweepInterval, err = parseOptionalDuration(source.Queue.SweepInterval, q.SweepInterval, "queue.sweep_interval"); err != nil {
		return err
	}
	if q.EventTTL, err = parseOptionalDuration(source.Queue.EventTTL, q.EventTTL, "queue.event_ttl"); err != nil {
		return err
	}
	setBool(&q.DisableQueuing, source.Queue.DisableQueuing)

	if v := strings.TrimSpace(source.Session.Driver); v != "" {
		cfg.Session.Driver = strings.ToLower(v)
	}
	setString(&cfg.Session.DSN, source.Session.DSN)

	b := &cfg.Behavior
	setBool(&b.RequireMentionNewMessage, source.Behavior.RequireMentionNewMessage)
	setBool(&b.RequireMentionThreadMessage, source.Behavior.RequireMentionThreadMessage)
	setString(&b.BreakKeyword, source.Behavior.BreakKeyword)
	setString(&b.StartKeyword, source.Behavior.StartKeyword)
	setString(&b.ClearQueueKeyword, source.Behavior.ClearQueueKeyword)
	if len(source.Behavior.AllowedChannels) > 0 {
		b.AllowedChannels = append([]string(nil), source.Behavior.AllowedChannels...)
	}
	setInt(&b.HistoryLimit, source.Behavior.HistoryLimit)
	setString(&b.SystemPrompt, source.Behavior.SystemPrompt)

	g := &cfg.GenAI
	if v := strings.TrimSpace(source.GenAI.Provider); v != "" {
		g.Provider = strings.ToLower(v)
	}
	setString(&g.Model, source.GenAI.Model)
	setInt(&g.MaxTokens, source.GenAI.MaxTokens)
	if source.GenAI.InputTokenPrice != nil {
		g.InputTokenPrice = *source.GenAI.InputTokenPrice
	}
	if source.GenAI.OutputTokenPrice != nil {
		g.OutputTokenPrice = *source.GenAI.OutputTokenPrice
	}
	setInt(&g.BreakerThreshold, source.GenAI.BreakerThreshold)
	if g.BreakerCooldown, err = parseOptionalDuration(source.GenAI.BreakerCooldown, g.BreakerCooldown, "genai.breaker_cooldown"); err != nil {
		return err
	}
	setString(&g.AnthropicAPIKey, source.GenAI.AnthropicAPIKey)

	setBool(&cfg.EventLogEnabled, source.EventLog)
	if len(source.Reactions) > 0 {
		cfg.Reactions = make(map[string]string, len(source.Reactions))
		for status, name := range source.Reactions {
			cfg.Reactions[strings.ToUpper(strings.TrimSpace(status))] = strings.TrimSpace(name)
		}
	}
	setString(&cfg.DiscordToken, source.Discord.Token)
	setString(&cfg.DiscordInternalChannel, source.Discord.InternalChannel)
	setString(&cfg.RESTWebhookURL, source.REST.WebhookURL)
	setString(&cfg.OTLPEndpoint, source.OTLP)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func loadFileConfig() (fileConfig, error) {
	path, ok, err := resolveConfigFilePath()
	if err != nil {
		return fileConfig{}, err
	}
	if !ok {
		return fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fileConfig{}, fmt.Errorf("decode config file %s: %w", path, err)
	}
	return cfg, nil
}

func resolveConfigFilePath() (string, bool, error) {
	if explicit := EnvString(EnvConfigFile); explicit != "" {
		resolvedPath, err := expandPath(explicit)
		if err != nil {
			return "", false, fmt.Errorf("resolve %s: %w", EnvConfigFile, err)
		}
		info, err := os.Stat(resolvedPath)
		if err != nil {
			return "", false, fmt.Errorf("config file %s: %w", resolvedPath, err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config file %s is a directory", resolvedPath)
		}
		return resolvedPath, true, nil
	}

	candidates := []string{
		filepath.Join(configDirName, defaultConfigFileName),
		filepath.Join(configDirName, alternateConfigFileName),
	}
	if homeDir, err := os.UserHomeDir(); err == nil && strings.TrimSpace(homeDir) != "" {
		candidates = append(candidates,
			filepath.Join(homeDir, configDirName, defaultConfigFileName),
			filepath.Join(homeDir, configDirName, alternateConfigFileName),
		)
	}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", false, fmt.Errorf("config path %s is a directory", candidate)
			}
			return candidate, true, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}
	return "", false, nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(trimmed, "~")), nil
	}
	return trimmed, nil
}
