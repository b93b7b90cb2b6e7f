package config

import (
	"fmt"
	"strings"
	"time"
)

const (
	EnvHTTPAddr               = "GENAIBOTS_HTTP_ADDR"
	EnvRateLimit              = "GENAIBOTS_RATE_LIMIT"
	EnvQueueBackend           = "GENAIBOTS_QUEUE_BACKEND"
	EnvQueueDSN               = "GENAIBOTS_QUEUE_DSN"
	EnvQueueDir               = "GENAIBOTS_QUEUE_DIR"
	EnvRedisAddr              = "GENAIBOTS_REDIS_ADDR"
	EnvRedisPassword          = "GENAIBOTS_REDIS_PASSWORD"
	EnvRedisDB                = "GENAIBOTS_REDIS_DB"
	EnvRedisPrefix            = "GENAIBOTS_REDIS_PREFIX"
	EnvSessionDriver          = "GENAIBOTS_SESSION_DRIVER"
	EnvSessionDSN             = "GENAIBOTS_SESSION_DSN"
	EnvMessageTTL             = "GENAIBOTS_MESSAGE_TTL"
	EnvSweepInterval          = "GENAIBOTS_SWEEP_INTERVAL"
	EnvEventTTL               = "GENAIBOTS_EVENT_TTL"
	EnvDisableQueuing         = "GENAIBOTS_DISABLE_QUEUING"
	EnvEventLogEnabled        = "GENAIBOTS_EVENT_LOG_ENABLED"
	EnvRequireMentionNew      = "GENAIBOTS_REQUIRE_MENTION_NEW_MESSAGE"
	EnvRequireMentionThread   = "GENAIBOTS_REQUIRE_MENTION_THREAD_MESSAGE"
	EnvBreakKeyword           = "GENAIBOTS_BREAK_KEYWORD"
	EnvStartKeyword           = "GENAIBOTS_START_KEYWORD"
	EnvClearQueueKeyword      = "GENAIBOTS_CLEAR_QUEUE_KEYWORD"
	EnvAllowedChannels        = "GENAIBOTS_ALLOWED_CHANNELS"
	EnvHistoryLimit           = "GENAIBOTS_HISTORY_LIMIT"
	EnvSystemPrompt           = "GENAIBOTS_SYSTEM_PROMPT"
	EnvGenAIProvider          = "GENAIBOTS_GENAI_PROVIDER"
	EnvGenAIModel             = "GENAIBOTS_GENAI_MODEL"
	EnvGenAIMaxTokens         = "GENAIBOTS_GENAI_MAX_TOKENS"
	EnvInputTokenPrice        = "GENAIBOTS_INPUT_TOKEN_PRICE"
	EnvOutputTokenPrice       = "GENAIBOTS_OUTPUT_TOKEN_PRICE"
	EnvBreakerThreshold       = "GENAIBOTS_BREAKER_THRESHOLD"
	EnvBreakerCooldown        = "GENAIBOTS_BREAKER_COOLDOWN"
	EnvAnthropicAPIKey        = "ANTHROPIC_API_KEY"
	EnvDiscordToken           = "GENAIBOTS_DISCORD_TOKEN"
	EnvDiscordInternalChannel = "GENAIBOTS_DISCORD_INTERNAL_CHANNEL"
	EnvRESTWebhookURL         = "GENAIBOTS_REST_WEBHOOK_URL"
	EnvOTLPEndpoint           = "GENAIBOTS_OTLP_ENDPOINT"
)

const (
	DefaultHTTPAddr          = ":8080"
	DefaultRateLimit         = 120
	DefaultQueueBackend      = "sqlite"
	DefaultDBPath            = ".genaibots/genaibots.db"
	DefaultQueueDir          = ".genaibots/queues"
	DefaultRedisPrefix       = "genaibots"
	DefaultSessionDriver     = "sqlite"
	DefaultMessageTTL        = time.Hour
	DefaultSweepInterval     = time.Minute
	DefaultEventTTL          = 7 * 24 * time.Hour
	DefaultBreakKeyword      = "!STOP"
	DefaultStartKeyword      = "!START"
	DefaultClearQueueKeyword = "!CLEARQUEUE"
	DefaultHistoryLimit      = 50
	DefaultGenAIProvider     = "anthropic"
	DefaultGenAIMaxTokens    = 4096
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 30 * time.Second
)

type Config struct {
	HTTPAddr  string
	RateLimit int

	Queue    QueueConfig
	Session  SessionConfig
	Behavior BehaviorConfig
	GenAI    GenAIConfig

	EventLogEnabled bool
	// Reactions overrides reaction names per turn status (ACKNOWLEDGE, WAIT, ...).
	Reactions map[string]string

	DiscordToken           string
	DiscordInternalChannel string
	RESTWebhookURL         string
	OTLPEndpoint           string
}

type QueueConfig struct {
	Backend        string
	DSN            string
	Dir            string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisPrefix    string
	MessageTTL     time.Duration
	SweepInterval  time.Duration
	DisableQueuing bool
	EventTTL       time.Duration
}

type SessionConfig struct {
	Driver string
	DSN    string
}

type BehaviorConfig struct {
	RequireMentionNewMessage    bool
	RequireMentionThreadMessage bool
	BreakKeyword                string
	StartKeyword                string
	ClearQueueKeyword           string
	AllowedChannels             []string
	HistoryLimit                int
	SystemPrompt                string
}

type GenAIConfig struct {
	Provider         string
	Model            string
	MaxTokens        int
	InputTokenPrice  float64
	OutputTokenPrice float64
	BreakerThreshold int
	BreakerCooldown  time.Duration
	AnthropicAPIKey  string
}

// Load resolves defaults, then the YAML file, then the environment (after .env files).
func Load() (Config, error) {
	if err := LoadDotEnv(); err != nil {
		return Config{}, err
	}
	cfg := Default()

	fileCfg, err := loadFileConfig()
	if err != nil {
		return Config{}, err
	}
	if err := applyYAML(&cfg, fileCfg); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Default() Config {
	return Config{
		HTTPAddr:  DefaultHTTPAddr,
		RateLimit: DefaultRateLimit,
		Queue: QueueConfig{
			Backend:       DefaultQueueBackend,
			DSN:           DefaultDBPath,
			Dir:           DefaultQueueDir,
			RedisPrefix:   DefaultRedisPrefix,
			MessageTTL:    DefaultMessageTTL,
			SweepInterval: DefaultSweepInterval,
			EventTTL:      DefaultEventTTL,
		},
		Session: SessionConfig{
			Driver: DefaultSessionDriver,
			DSN:    DefaultDBPath,
		},
		Behavior: BehaviorConfig{
			RequireMentionNewMessage: true,
			BreakKeyword:             DefaultBreakKeyword,
			StartKeyword:             DefaultStartKeyword,
			ClearQueueKeyword:        DefaultClearQueueKeyword,
			HistoryLimit:             DefaultHistoryLimit,
		},
		GenAI: GenAIConfig{
			Provider:         DefaultGenAIProvider,
			MaxTokens:        DefaultGenAIMaxTokens,
			BreakerThreshold: DefaultBreakerThreshold,
			BreakerCooldown:  DefaultBreakerCooldown,
		},
		EventLogEnabled: true,
	}
}

func applyEnv(cfg *Config) error {
	var err error
	cfg.HTTPAddr = EnvOrDefault(EnvHTTPAddr, cfg.HTTPAddr)
	if cfg.RateLimit, err = parseIntEnv(EnvRateLimit, cfg.RateLimit); err != nil {
		return err
	}

	q := &cfg.Queue
	q.Backend = strings.ToLower(EnvOrDefault(EnvQueueBackend, q.Backend))
	q.DSN = EnvOrDefault(EnvQueueDSN, q.DSN)
	q.Dir = EnvOrDefault(EnvQueueDir, q.Dir)
	q.RedisAddr = EnvOrDefault(EnvRedisAddr, q.RedisAddr)
	q.RedisPassword = EnvOrDefault(EnvRedisPassword, q.RedisPassword)
	q.RedisPrefix = EnvOrDefault(EnvRedisPrefix, q.RedisPrefix)
	if q.RedisDB, err = parseIntEnv(EnvRedisDB, q.RedisDB); err != nil {
		return err
	}
	if q.MessageTTL, err = parseDurationEnv(EnvMessageTTL, q.MessageTTL); err != nil {
		return err
	}
	if q.SweepInterval, err = parseDurationEnv(EnvSweepInterval, q.SweepInterval); err != nil {
		return err
	}
	if q.EventTTL, err = parseDurationEnv(EnvEventTTL, q.EventTTL); err != nil {
		return err
	}
	q.DisableQueuing = parseBoolEnv(EnvDisableQueuing, q.DisableQueuing)

	cfg.Session.Driver = strings.ToLower(EnvOrDefault(EnvSessionDriver, cfg.Session.Driver))
	cfg.Session.DSN = EnvOrDefault(EnvSessionDSN, cfg.Session.DSN)

	b := &cfg.Behavior
	b.RequireMentionNewMessage = parseBoolEnv(EnvRequireMentionNew, b.RequireMentionNewMessage)
	b.RequireMentionThreadMessage = parseBoolEnv(EnvRequireMentionThread, b.RequireMentionThreadMessage)
	b.BreakKeyword = EnvOrDefault(EnvBreakKeyword, b.BreakKeyword)
	b.StartKeyword = EnvOrDefault(EnvStartKeyword, b.StartKeyword)
	b.ClearQueueKeyword = EnvOrDefault(EnvClearQueueKeyword, b.ClearQueueKeyword)
	if raw := EnvString(EnvAllowedChannels); raw != "" {
		b.AllowedChannels = splitList(raw)
	}
	if b.HistoryLimit, err = parseIntEnv(EnvHistoryLimit, b.HistoryLimit); err != nil {
		return err
	}
	b.SystemPrompt = EnvOrDefault(EnvSystemPrompt, b.SystemPrompt)

	g := &cfg.GenAI
	g.Provider = strings.ToLower(EnvOrDefault(EnvGenAIProvider, g.Provider))
	g.Model = EnvOrDefault(EnvGenAIModel, g.Model)
	if g.MaxTokens, err = parseIntEnv(EnvGenAIMaxTokens, g.MaxTokens); err != nil {
		return err
	}
	if g.InputTokenPrice, err = parseFloatEnv(EnvInputTokenPrice, g.InputTokenPrice); err != nil {
		return err
	}
	if g.OutputTokenPrice, err = parseFloatEnv(EnvOutputTokenPrice, g.OutputTokenPrice); err != nil {
		return err
	}
	if g.BreakerThreshold, err = parseIntEnv(EnvBreakerThreshold, g.BreakerThreshold); err != nil {
		return err
	}
	if g.BreakerCooldown, err = parseDurationEnv(EnvBreakerCooldown, g.BreakerCooldown); err != nil {
		return err
	}
	g.AnthropicAPIKey = EnvOrDefault(EnvAnthropicAPIKey, g.AnthropicAPIKey)

	cfg.EventLogEnabled = parseBoolEnv(EnvEventLogEnabled, cfg.EventLogEnabled)
	cfg.DiscordToken = EnvOrDefault(EnvDiscordToken, cfg.DiscordToken)
	cfg.DiscordInternalChannel = EnvOrDefault(EnvDiscordInternalChannel, cfg.DiscordInternalChannel)
	cfg.RESTWebhookURL = EnvOrDefault(EnvRESTWebhookURL, cfg.RESTWebhookURL)
	cfg.OTLPEndpoint = EnvOrDefault(EnvOTLPEndpoint, cfg.OTLPEndpoint)
	return nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%s must not be empty", EnvHTTPAddr)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%s must be >= 0", EnvRateLimit)
	}

	switch c.Queue.Backend {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Queue.DSN) == "" {
			return fmt.Errorf("%s must not be empty for backend %s", EnvQueueDSN, c.Queue.Backend)
		}
	case "file":
		if strings.TrimSpace(c.Queue.Dir) == "" {
			return fmt.Errorf("%s must not be empty for backend file", EnvQueueDir)
		}
	case "redis":
		if strings.TrimSpace(c.Queue.RedisAddr) == "" {
			return fmt.Errorf("%s must not be empty for backend redis", EnvRedisAddr)
		}
	default:
		return fmt.Errorf("%s must be memory, sqlite, postgres, file or redis", EnvQueueBackend)
	}
	if c.Queue.MessageTTL <= 0 {
		return fmt.Errorf("%s must be > 0", EnvMessageTTL)
	}
	if c.Queue.SweepInterval <= 0 {
		return fmt.Errorf("%s must be > 0", EnvSweepInterval)
	}
	if c.Queue.EventTTL <= 0 {
		return fmt.Errorf("%s must be > 0", EnvEventTTL)
	}

	switch c.Session.Driver {
	case "memory":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.Session.DSN) == "" {
			return fmt.Errorf("%s must not be empty", EnvSessionDSN)
		}
	default:
		return fmt.Errorf("%s must be memory, sqlite or postgres", EnvSessionDriver)
	}

	if c.Behavior.HistoryLimit < 0 {
		return fmt.Errorf("%s must be >= 0", EnvHistoryLimit)
	}

	switch c.GenAI.Provider {
	case "anthropic":
		if strings.TrimSpace(c.GenAI.AnthropicAPIKey) == "" {
			return fmt.Errorf("%s is required for provider anthropic", EnvAnthropicAPIKey)
		}
	default:
		return fmt.Errorf("%s must be anthropic", EnvGenAIProvider)
	}
	if c.GenAI.MaxTokens <= 0 {
		return fmt.Errorf("%s must be > 0", EnvGenAIMaxTokens)
	}
	if c.GenAI.InputTokenPrice < 0 || c.GenAI.OutputTokenPrice < 0 {
		return fmt.Errorf("%s and %s must be >= 0", EnvInputTokenPrice, EnvOutputTokenPrice)
	}
	if c.GenAI.BreakerThreshold <= 0 {
		return fmt.Errorf("%s must be > 0", EnvBreakerThreshold)
	}
	for status := range c.Reactions {
		switch strings.ToUpper(status) {
		case "ACKNOWLEDGE", "WAIT", "PROCESSING", "GENERATING", "WRITING", "DONE", "ERROR":
		default:
			return fmt.Errorf("reactions.%s is not a known status", status)
		}
	}
	return nil
}
