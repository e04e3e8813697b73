package config

import (
	"errors"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OpenAI.Model != "gpt-4o-mini" {
		t.Fatalf("OpenAI.Model = %q, want %q", cfg.OpenAI.Model, "gpt-4o-mini")
	}
	if cfg.Langfuse.Host != "https://cloud.langfuse.com" {
		t.Fatalf("Langfuse.Host = %q, want default host", cfg.Langfuse.Host)
	}
	if cfg.Voice.InstructionsFile != "prompts/default_instructions.md" {
		t.Fatalf("Voice.InstructionsFile = %q, want default path", cfg.Voice.InstructionsFile)
	}
	if cfg.App.Environment != "development" || cfg.App.Debug {
		t.Fatalf("App = %+v, want development/non-debug defaults", cfg.App)
	}
}

func TestLangfuseEnabledRequiresBothKeys(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("LANGFUSE_PUBLIC_KEY", "pk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Langfuse.Enabled() {
		t.Fatalf("Enabled() = true with secret key missing")
	}

	t.Setenv("LANGFUSE_SECRET_KEY", "sk-test")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Langfuse.Enabled() {
		t.Fatalf("Enabled() = false with both keys set")
	}
}

func TestResolverCachesUntilReload(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("OPENAI_MODEL", "gpt-4o-mini")

	r := NewResolver()
	first, err := r.Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}

	// A changed environment must not leak into the cached snapshot.
	t.Setenv("OPENAI_MODEL", "gpt-4.1")
	second, err := r.Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	if second.OpenAI.Model != first.OpenAI.Model {
		t.Fatalf("cached model = %q, want %q", second.OpenAI.Model, first.OpenAI.Model)
	}

	reloaded, err := r.Reload()
	if err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if reloaded.OpenAI.Model != "gpt-4.1" {
		t.Fatalf("reloaded model = %q, want %q", reloaded.OpenAI.Model, "gpt-4.1")
	}
}

func TestRequireLiveKitFailsFast(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.RequireLiveKit(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("RequireLiveKit() = %v, want ErrNotConfigured", err)
	}

	t.Setenv("LIVEKIT_API_KEY", "key")
	t.Setenv("LIVEKIT_API_SECRET", "secret")
	cfg, _ = Load()
	if err := cfg.RequireLiveKit(); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("RequireLiveKit() = %v, want ErrNotConfigured for missing URL", err)
	}

	t.Setenv("LIVEKIT_URL", "wss://example.livekit.cloud")
	cfg, _ = Load()
	if err := cfg.RequireLiveKit(); err != nil {
		t.Fatalf("RequireLiveKit() = %v, want nil", err)
	}
}

func TestBoolFromEnvRejectsGarbage(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DEBUG", "definitely")

	if _, err := Load(); err == nil {
		t.Fatalf("Load() = nil error, want parse failure for DEBUG")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"LIVEKIT_API_KEY",
		"LIVEKIT_API_SECRET",
		"LIVEKIT_URL",
		"RESEMBLE_API_KEY",
		"RESEMBLE_VOICE_UUID",
		"RESEMBLE_STREAM_URL",
		"OPENAI_API_KEY",
		"OPENAI_MODEL",
		"DEEPGRAM_API_KEY",
		"LANGFUSE_PUBLIC_KEY",
		"LANGFUSE_SECRET_KEY",
		"LANGFUSE_HOST",
		"VOICE_INSTRUCTIONS_FILE",
		"VOICE_INTRO_FILE",
		"ENVIRONMENT",
		"LOG_LEVEL",
		"DEBUG",
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
