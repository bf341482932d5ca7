package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lokutor-ai/lokutor-orchestrator/internal/config"
)

const sampleYAML = `
turn_detection: realtime_llm
min_endpointing_delay: 300ms
max_endpointing_delay: 4s
preemptive_synthesis: true
allow_interruptions: false
min_interruption_words: 2
max_tool_steps: 6
language: es
`

func TestLoadValid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	profile, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if profile.TurnDetection != "realtime_llm" {
		t.Errorf("turn_detection: got %q, want %q", profile.TurnDetection, "realtime_llm")
	}
	if time.Duration(profile.MinEndpointingDelay) != 300*time.Millisecond {
		t.Errorf("min_endpointing_delay: got %v, want 300ms", time.Duration(profile.MinEndpointingDelay))
	}
	if time.Duration(profile.MaxEndpointingDelay) != 4*time.Second {
		t.Errorf("max_endpointing_delay: got %v, want 4s", time.Duration(profile.MaxEndpointingDelay))
	}
	if !profile.PreemptiveSynthesis {
		t.Error("preemptive_synthesis: got false, want true")
	}
	if profile.AllowInterruptions {
		t.Error("allow_interruptions: got true, want false")
	}
	if profile.MinInterruptionWords != 2 {
		t.Errorf("min_interruption_words: got %d, want 2", profile.MinInterruptionWords)
	}
	if profile.MaxToolSteps != 6 {
		t.Errorf("max_tool_steps: got %d, want 6", profile.MaxToolSteps)
	}
	if profile.Language != "es" {
		t.Errorf("language: got %q, want %q", profile.Language, "es")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("min_endpointing_delay: not-a-duration\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := config.Load(path); err == nil {
		t.Fatal("expected an error for an invalid duration, got nil")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file, got nil")
	}
}

func TestLoadOrFallsBackToDefaultWhenPathEmpty(t *testing.T) {
	profile, err := config.LoadOr("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile != config.Default() {
		t.Errorf("got %+v, want the default profile", profile)
	}
}

func TestLoadOrFallsBackToDefaultWhenFileMissing(t *testing.T) {
	profile, err := config.LoadOr(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile != config.Default() {
		t.Errorf("got %+v, want the default profile", profile)
	}
}

func TestLoadOrPropagatesParseErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("min_endpointing_delay: not-a-duration\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	if _, err := config.LoadOr(path); err == nil {
		t.Fatal("expected a parse error to propagate, got nil")
	}
}

func TestDefaultsMatchSessionFallbacks(t *testing.T) {
	d := config.Default()
	if d.TurnDetection != "vad" {
		t.Errorf("turn_detection default: got %q, want %q", d.TurnDetection, "vad")
	}
	if time.Duration(d.MinEndpointingDelay) != 500*time.Millisecond {
		t.Errorf("min_endpointing_delay default: got %v, want 500ms", time.Duration(d.MinEndpointingDelay))
	}
	if time.Duration(d.MaxEndpointingDelay) != 6*time.Second {
		t.Errorf("max_endpointing_delay default: got %v, want 6s", time.Duration(d.MaxEndpointingDelay))
	}
}
