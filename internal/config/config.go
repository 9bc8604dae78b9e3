package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the intake server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	SessionTTL       time.Duration
	MetricsNamespace string
	LogLevel         string

	DatabaseURL string
	SQLitePath  string

	LLMProvider string
	LLMAPIKey   string
	LLMModel    string
	LLMTimeout  time.Duration
	WrapUpTurns int

	ElevenLabsAPIKey        string
	ElevenLabsVoiceID       string
	ElevenLabsModelID       string
	ElevenLabsWebhookSecret string

	DeepgramAPIKey string
	AdminPassword  string

	NatsURL   string
	NatsToken string
}

// ClientConfig contains settings for the terminal intake client.
type ClientConfig struct {
	ServerURL      string
	Duplex         bool
	SilenceDelay   time.Duration
	GraceDelay     time.Duration
	ConnectTimeout time.Duration
	LogLevel       string

	DeepgramWSURL     string
	MicCommand        string
	RecognizerCommand string
	PlayerCommand     string
	SynthCommand      string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":3000"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "intake"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		SQLitePath:        stringsTrimSpace("SQLITE_PATH"),
		LLMProvider:       envOrDefault("LLM_PROVIDER", "auto"),
		LLMAPIKey:         stringsTrimSpace("LLM_API_KEY"),
		LLMModel:          envOrDefault("LLM_MODEL", "claude-sonnet-4-5-20250929"),
		ElevenLabsAPIKey:  stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: stringsTrimSpace("ELEVENLABS_VOICE_ID"),
		// Turbo keeps first-audio latency low for short interviewer replies.
		ElevenLabsModelID:       envOrDefault("ELEVENLABS_MODEL_ID", "eleven_turbo_v2_5"),
		ElevenLabsWebhookSecret: stringsTrimSpace("ELEVENLABS_WEBHOOK_SECRET"),
		DeepgramAPIKey:          stringsTrimSpace("DEEPGRAM_API_KEY"),
		AdminPassword:           stringsTrimSpace("ADMIN_PASSWORD"),
		NatsURL:                 stringsTrimSpace("NATS_URL"),
		NatsToken:               stringsTrimSpace("NATS_TOKEN"),
		ShutdownTimeout:         15 * time.Second,
		SessionTTL:              24 * time.Hour,
		LLMTimeout:              15 * time.Second,
		WrapUpTurns:             15,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.LLMTimeout, err = durationFromEnv("LLM_TIMEOUT", cfg.LLMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WrapUpTurns, err = intFromEnv("INTAKE_WRAP_UP_TURNS", cfg.WrapUpTurns)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 1m")
	}
	if cfg.LLMTimeout <= 0 {
		return Config{}, fmt.Errorf("LLM_TIMEOUT must be positive")
	}
	if cfg.WrapUpTurns <= 0 {
		return Config{}, fmt.Errorf("INTAKE_WRAP_UP_TURNS must be positive")
	}
	switch strings.ToLower(cfg.LLMProvider) {
	case "auto", "anthropic", "mock":
	default:
		return Config{}, fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|anthropic|mock)", cfg.LLMProvider)
	}

	return cfg, nil
}

// LoadClient reads the client-side settings.
func LoadClient() (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:         envOrDefault("INTAKE_SERVER_URL", "http://localhost:3000"),
		LogLevel:          envOrDefault("LOG_LEVEL", "warn"),
		DeepgramWSURL:     envOrDefault("DEEPGRAM_WS_URL", "wss://api.deepgram.com/v1/listen"),
		MicCommand:        envOrDefault("INTAKE_MIC_COMMAND", "arecord -q -f S16_LE -r 16000 -c 1 -t raw"),
		RecognizerCommand: stringsTrimSpace("INTAKE_RECOGNIZER_COMMAND"),
		PlayerCommand:     envOrDefault("INTAKE_PLAYER_COMMAND", "ffplay -nodisp -autoexit -loglevel quiet -"),
		SynthCommand:      envOrDefault("INTAKE_SYNTH_COMMAND", "espeak"),
		SilenceDelay:      1500 * time.Millisecond,
		GraceDelay:        500 * time.Millisecond,
		ConnectTimeout:    5 * time.Second,
	}
	var err error
	cfg.Duplex, err = boolFromEnv("INTAKE_DUPLEX", cfg.Duplex)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.SilenceDelay, err = durationFromEnv("INTAKE_SILENCE_DELAY", cfg.SilenceDelay)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.GraceDelay, err = durationFromEnv("INTAKE_GRACE_DELAY", cfg.GraceDelay)
	if err != nil {
		return ClientConfig{}, err
	}
	cfg.ConnectTimeout, err = durationFromEnv("INTAKE_CONNECT_TIMEOUT", cfg.ConnectTimeout)
	if err != nil {
		return ClientConfig{}, err
	}

	if cfg.SilenceDelay < 200*time.Millisecond {
		return ClientConfig{}, fmt.Errorf("INTAKE_SILENCE_DELAY must be at least 200ms")
	}
	if cfg.GraceDelay < 0 {
		return ClientConfig{}, fmt.Errorf("INTAKE_GRACE_DELAY must be >= 0")
	}
	if cfg.ConnectTimeout <= 0 {
		return ClientConfig{}, fmt.Errorf("INTAKE_CONNECT_TIMEOUT must be positive")
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
