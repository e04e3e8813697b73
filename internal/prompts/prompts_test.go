package prompts

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTrimsArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intro.md")
	if err := os.WriteFile(path, []byte("\nHello {name}, welcome!\n\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != "Hello {name}, welcome!" {
		t.Fatalf("Load() = %q, want trimmed template", got)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.md")); err == nil {
		t.Fatalf("Load() = nil error for missing file")
	}
}

func TestRenderIntro(t *testing.T) {
	got := RenderIntro("Hello {name}, welcome!", "Alex")
	if got != "Hello Alex, welcome!" {
		t.Fatalf("RenderIntro() = %q", got)
	}
}

func TestRenderIntroWithoutPlaceholder(t *testing.T) {
	got := RenderIntro("Hi there.", "Alex")
	if got != "Hi there." {
		t.Fatalf("RenderIntro() = %q, want template unchanged", got)
	}
}
