package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// LiveKitSettings holds credentials for the realtime room service.
type LiveKitSettings struct {
	APIKey    string
	APISecret string
	URL       string
}

// ResembleSettings holds credentials for the voice-clone synthesis service.
type ResembleSettings struct {
	APIKey    string
	VoiceUUID string
	StreamURL string
}

// OpenAISettings holds credentials for the language model.
type OpenAISettings struct {
	APIKey string
	Model  string
}

// DeepgramSettings holds credentials for speech recognition.
type DeepgramSettings struct {
	APIKey string
}

// LangfuseSettings is optional trace-backend configuration.
type LangfuseSettings struct {
	PublicKey string
	SecretKey string
	Host      string
}

// Enabled reports whether the trace backend is fully configured.
func (l LangfuseSettings) Enabled() bool {
	return l.PublicKey != "" && l.SecretKey != ""
}

// VoiceSettings points at the agent character artifacts.
type VoiceSettings struct {
	InstructionsFile string
	IntroFile        string
}

// AppSettings are application-level knobs.
type AppSettings struct {
	Environment string
	LogLevel    string
	Debug       bool
}

// Settings is the full snapshot of external-service credentials and agent
// configuration. It is immutable once resolved.
type Settings struct {
	LiveKit  LiveKitSettings
	Resemble ResembleSettings
	OpenAI   OpenAISettings
	Deepgram DeepgramSettings
	Langfuse LangfuseSettings
	Voice    VoiceSettings
	App      AppSettings

	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
}

// RequireLiveKit fails when the room-service credentials or endpoint are
// missing. It must pass before any remote room operation is attempted.
func (s Settings) RequireLiveKit() error {
	if s.LiveKit.APIKey == "" || s.LiveKit.APISecret == "" {
		return fmt.Errorf("%w: LIVEKIT_API_KEY / LIVEKIT_API_SECRET", ErrNotConfigured)
	}
	if s.LiveKit.URL == "" {
		return fmt.Errorf("%w: LIVEKIT_URL", ErrNotConfigured)
	}
	return nil
}

// RequireAgent fails when any credential the conversational agent depends on
// is missing.
func (s Settings) RequireAgent() error {
	if err := s.RequireLiveKit(); err != nil {
		return err
	}
	if s.Deepgram.APIKey == "" {
		return fmt.Errorf("%w: DEEPGRAM_API_KEY", ErrNotConfigured)
	}
	if s.OpenAI.APIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY", ErrNotConfigured)
	}
	if s.Resemble.APIKey == "" || s.Resemble.VoiceUUID == "" {
		return fmt.Errorf("%w: RESEMBLE_API_KEY / RESEMBLE_VOICE_UUID", ErrNotConfigured)
	}
	return nil
}

// Load reads environment variables and applies safe defaults.
func Load() (Settings, error) {
	cfg := Settings{
		LiveKit: LiveKitSettings{
			APIKey:    envTrimmed("LIVEKIT_API_KEY"),
			APISecret: envTrimmed("LIVEKIT_API_SECRET"),
			URL:       envTrimmed("LIVEKIT_URL"),
		},
		Resemble: ResembleSettings{
			APIKey:    envTrimmed("RESEMBLE_API_KEY"),
			VoiceUUID: envTrimmed("RESEMBLE_VOICE_UUID"),
			StreamURL: envOrDefault("RESEMBLE_STREAM_URL", "wss://websocket.cluster.resemble.ai/stream"),
		},
		OpenAI: OpenAISettings{
			APIKey: envTrimmed("OPENAI_API_KEY"),
			Model:  envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Deepgram: DeepgramSettings{
			APIKey: envTrimmed("DEEPGRAM_API_KEY"),
		},
		Langfuse: LangfuseSettings{
			PublicKey: envTrimmed("LANGFUSE_PUBLIC_KEY"),
			SecretKey: envTrimmed("LANGFUSE_SECRET_KEY"),
			Host:      envOrDefault("LANGFUSE_HOST", "https://cloud.langfuse.com"),
		},
		Voice: VoiceSettings{
			InstructionsFile: envOrDefault("VOICE_INSTRUCTIONS_FILE", "prompts/default_instructions.md"),
			IntroFile:        envOrDefault("VOICE_INTRO_FILE", "prompts/default_intro.md"),
		},
		App: AppSettings{
			Environment: envOrDefault("ENVIRONMENT", "development"),
			LogLevel:    envOrDefault("LOG_LEVEL", "INFO"),
		},
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicetwin"),
		ShutdownTimeout:  15 * time.Second,
	}

	var err error
	cfg.App.Debug, err = boolFromEnv("DEBUG", false)
	if err != nil {
		return Settings{}, err
	}
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Resolver caches the first successful Load and hands out the same snapshot
// until Reload discards it. All components share one Resolver so "resolve
// once" holds process-wide without hidden globals.
type Resolver struct {
	mu       sync.Mutex
	resolved *Settings
}

func NewResolver() *Resolver { return &Resolver{} }

// Settings returns the cached snapshot, resolving it from the environment on
// first use.
func (r *Resolver) Settings() (Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.resolved != nil {
		return *r.resolved, nil
	}
	cfg, err := Load()
	if err != nil {
		return Settings{}, err
	}
	r.resolved = &cfg
	return cfg, nil
}

// Reload discards the cached snapshot; the next Settings call re-reads the
// environment.
func (r *Resolver) Reload() (Settings, error) {
	r.mu.Lock()
	r.resolved = nil
	r.mu.Unlock()
	return r.Settings()
}

func envOrDefault(key, fallback string) string {
	v := envTrimmed(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
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
