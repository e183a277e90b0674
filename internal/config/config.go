package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"

	"github.com/zhouzirui/llmpot/internal/model/persona"
	"github.com/zhouzirui/llmpot/internal/provider/anthropicmodel"
	"github.com/zhouzirui/llmpot/internal/provider/geminimodel"
	"github.com/zhouzirui/llmpot/internal/provider/openaimodel"
)

const (
	ProviderArk       = "ark"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// Config aggregates every setting of the honeypot.
type Config struct {
	Server   ServerConfig
	Accounts AccountsConfig
	Log      LogConfig
	AI       AIConfig
	Engine   EngineConfig
	Monitor  MonitorConfig
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	engine, err := loadEngineConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:   server,
		Accounts: AccountsConfig{Path: getEnvOrDefault("ACCOUNTS_FILE", "accounts.json")},
		Log:      logCfg,
		AI:       ai,
		Engine:   engine,
		Monitor:  MonitorConfig{Addr: strings.TrimSpace(os.Getenv("MONITOR_ADDR"))},
	}, nil
}

// ServerConfig describes the SSH listener.
type ServerConfig struct {
	Addr          string
	HostKeyPath   string
	HostCertPath  string
	ServerVersion string
	MaxConns      int
}

func loadServerConfig() (ServerConfig, error) {
	addr, err := parseAddr("SSH_ADDR", "8022")
	if err != nil {
		return ServerConfig{}, err
	}

	maxConns := 512
	if override, err := parseOptionalIntEnv("SSH_MAX_CONNS"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 1 {
			return ServerConfig{}, fmt.Errorf("invalid SSH_MAX_CONNS value %d: must be positive", *override)
		}
		maxConns = *override
	}

	return ServerConfig{
		Addr:          addr,
		HostKeyPath:   getEnvOrDefault("SSH_HOST_KEY", "ssh_host_key"),
		HostCertPath:  getEnvOrDefault("SSH_HOST_CERT", "ssh_host_key-cert.pub"),
		ServerVersion: getEnvOrDefault("SSH_SERVER_VERSION", "SSH-2.0-OpenSSH_8.9p1 Ubuntu-3ubuntu0.6"),
		MaxConns:      maxConns,
	}, nil
}

// AccountsConfig points at the username → secret document.
type AccountsConfig struct {
	Path string
}

// LogConfig describes the honeypot log sink.
type LogConfig struct {
	File   string
	Level  string
	Stderr bool
}

func loadLogConfig() (LogConfig, error) {
	stderr, err := parseBoolEnv("LOG_STDERR", false)
	if err != nil {
		return LogConfig{}, err
	}

	return LogConfig{
		File:   getEnvOrDefault("LOG_FILE", "ssh_log.log"),
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Stderr: stderr,
	}, nil
}

// MonitorConfig describes the operator HTTP API. An empty Addr disables it.
type MonitorConfig struct {
	Addr string
}

// Enabled reports whether the monitor API should be served.
func (c MonitorConfig) Enabled() bool {
	return c.Addr != ""
}

// AIConfig describes the text-completion provider.
type AIConfig struct {
	Provider      string
	APIKey        string
	AccessKey     string
	SecretKey     string
	Model         string
	BaseURL       string
	Region        string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string

	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string

	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether the selected provider has the credentials it needs.
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderOpenAI:
		return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
	case ProviderAnthropic:
		return c.AnthropicAPIKey != "" && c.AnthropicModel != ""
	case ProviderGemini:
		return c.GeminiAPIKey != "" && c.GeminiModel != ""
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return false
	}
}

// NewChatModel creates the chat model for the selected provider.
func (c AIConfig) NewChatModel(ctx context.Context) (model.BaseChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("credentials or model missing for AI provider %q", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	switch c.Provider {
	case ProviderOpenAI:
		chatModel, err := openaimodel.New(openaimodel.Config{
			APIKey:      c.OpenAIAPIKey,
			Model:       c.OpenAIModel,
			BaseURL:     c.OpenAIBaseURL,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, err
		}
		return chatModel, nil
	case ProviderAnthropic:
		chatModel, err := anthropicmodel.New(anthropicmodel.Config{
			APIKey:      c.AnthropicAPIKey,
			Model:       c.AnthropicModel,
			BaseURL:     c.AnthropicBaseURL,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, err
		}
		return chatModel, nil
	case ProviderGemini:
		chatModel, err := geminimodel.New(ctx, geminimodel.Config{
			APIKey:      c.GeminiAPIKey,
			Model:       c.GeminiModel,
			BaseURL:     c.GeminiBaseURL,
			Temperature: temperature,
			TopP:        topP,
			MaxTokens:   maxTokens,
		})
		if err != nil {
			return nil, err
		}
		return chatModel, nil
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("AI_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		if temperature, err = parseOptionalFloatEnv("ARK_TEMPERATURE"); err != nil {
			return AIConfig{}, err
		}
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	openAIKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	anthropicKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	geminiKey := getEnvOrDefault("GEMINI_API_KEY", strings.TrimSpace(os.Getenv("GOOGLE_API_KEY")))

	provider := strings.ToLower(strings.TrimSpace(os.Getenv("AI_PROVIDER")))
	switch provider {
	case "":
		switch {
		case openAIKey != "":
			provider = ProviderOpenAI
		case anthropicKey != "":
			provider = ProviderAnthropic
		case geminiKey != "":
			provider = ProviderGemini
		default:
			provider = ProviderArk
		}
	case ProviderArk, ProviderOpenAI, ProviderAnthropic, ProviderGemini:
	default:
		return AIConfig{}, fmt.Errorf("invalid AI_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:      provider,
		APIKey:        strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:     strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:     strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:         strings.TrimSpace(os.Getenv("Model")),
		BaseURL:       getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:        getEnvOrDefault("ARK_REGION", "cn-beijing"),
		OpenAIAPIKey:  openAIKey,
		OpenAIModel:   getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		OpenAIBaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),

		AnthropicAPIKey:  anthropicKey,
		AnthropicModel:   getEnvOrDefault("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		AnthropicBaseURL: strings.TrimSpace(os.Getenv("ANTHROPIC_BASE_URL")),

		GeminiAPIKey:  geminiKey,
		GeminiModel:   getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiBaseURL: strings.TrimSpace(os.Getenv("GEMINI_BASE_URL")),

		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

// EngineConfig tunes the conversation engine and the session retry policy.
type EngineConfig struct {
	PersonaID       string
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryMaxBackoff time.Duration
	Timeout         time.Duration
	HistoryLimit    int
	FailureMessage  string
}

func loadEngineConfig() (EngineConfig, error) {
	cfg := EngineConfig{
		PersonaID:       getEnvOrDefault("HONEYPOT_PERSONA", persona.DefaultID),
		MaxRetries:      2,
		RetryBackoff:    500 * time.Millisecond,
		RetryMaxBackoff: 5 * time.Second,
		Timeout:         30 * time.Second,
		FailureMessage:  getEnvOrDefault("AI_FAILURE_MESSAGE", "-bash: fork: retry: Resource temporarily unavailable\n"),
	}

	if retries, err := parseOptionalIntEnv("AI_MAX_RETRIES"); err != nil {
		return EngineConfig{}, err
	} else if retries != nil {
		if *retries < 0 {
			return EngineConfig{}, fmt.Errorf("invalid AI_MAX_RETRIES value %d: must not be negative", *retries)
		}
		cfg.MaxRetries = *retries
	}

	if limit, err := parseOptionalIntEnv("AI_HISTORY_LIMIT"); err != nil {
		return EngineConfig{}, err
	} else if limit != nil {
		if *limit < 0 {
			cfg.HistoryLimit = 0
		} else {
			cfg.HistoryLimit = *limit
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"AI_RETRY_BACKOFF", &cfg.RetryBackoff},
		{"AI_RETRY_MAX_BACKOFF", &cfg.RetryMaxBackoff},
		{"AI_TIMEOUT", &cfg.Timeout},
	}
	for _, d := range durations {
		val, err := parseOptionalDurationEnv(d.key)
		if err != nil {
			return EngineConfig{}, err
		}
		if val != nil {
			*d.dst = *val
		}
	}

	if cfg.RetryMaxBackoff < cfg.RetryBackoff {
		cfg.RetryMaxBackoff = cfg.RetryBackoff
	}

	return cfg, nil
}

// parseAddr accepts a bare port, ":port" or "host:port".
func parseAddr(key, defaultPort string) (string, error) {
	port := strings.TrimSpace(os.Getenv(key))
	if port == "" {
		port = defaultPort
	}

	if strings.Contains(port, ":") {
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid %s value: %q", key, port)
	}

	return ":" + port, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("invalid %s value %q: must not be negative", key, value)
	}
	return &val, nil
}
