// Package config provides the YAML session-profile schema and loader used
// to bootstrap a voice agent's turn-taking and tool-execution parameters
// from a file instead of scattered environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the root configuration structure for one agent session. It is
// typically loaded from a YAML file with Load, then selectively overridden
// from the environment by the caller before being handed to session.Config.
type Profile struct {
	// TurnDetection selects the endpointing mode: "manual", "vad", or
	// "realtime_llm".
	TurnDetection string `yaml:"turn_detection"`

	// MinEndpointingDelay and MaxEndpointingDelay bound how long the
	// recognition pipeline waits after end-of-speech before committing a
	// turn. Values parse as Go durations (e.g. "500ms", "6s").
	MinEndpointingDelay Duration `yaml:"min_endpointing_delay"`
	MaxEndpointingDelay Duration `yaml:"max_endpointing_delay"`

	// PreemptiveSynthesis, when true, starts the reply's LLM/TTS the instant
	// a final transcript is ready instead of waiting out the endpointing
	// delay.
	PreemptiveSynthesis bool `yaml:"preemptive_synthesis"`

	// AllowInterruptions and MinInterruptionWords gate whether and how
	// easily a user can barge in over agent speech.
	AllowInterruptions    bool `yaml:"allow_interruptions"`
	MinInterruptionWords int  `yaml:"min_interruption_words"`

	// MaxToolSteps caps how many sequential tool-call rounds one reply may
	// take; once a step's index reaches it, no follow-up reply is generated.
	MaxToolSteps int `yaml:"max_tool_steps"`

	// Language is the BCP-47-ish tag passed to STT/LLM/TTS providers.
	Language string `yaml:"language"`
}

// Duration wraps time.Duration so it can be expressed as a YAML scalar like
// "500ms" rather than an integer count of nanoseconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler, accepting either a duration
// string or a bare integer (interpreted as nanoseconds, for round-tripping).
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ns int64
	if err := value.Decode(&ns); err == nil {
		*d = Duration(ns)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string or integer nanosecond count")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler, writing the duration back out as a
// human-readable string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Default returns the built-in session profile. Its turn detection mode and
// endpointing delays match the end-of-turn policy the session package falls
// back to when none is configured; the session package has no fallbacks for
// the other fields.
func Default() Profile {
	return Profile{
		TurnDetection:        "vad",
		MinEndpointingDelay:  Duration(500 * time.Millisecond),
		MaxEndpointingDelay:  Duration(6 * time.Second),
		AllowInterruptions:   true,
		MinInterruptionWords: 0,
		MaxToolSteps:         4,
		Language:             "en",
	}
}

// Load reads and parses a session profile from path. Parsing starts from
// Default(), so fields missing from the file keep their default values.
func Load(path string) (Profile, error) {
	f, err := os.Open(path)
	if err != nil {
		return Profile{}, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	profile := Default()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&profile); err != nil {
		return Profile{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return profile, nil
}

// LoadOr reads the profile at path, falling back to Default() when path is
// empty or the file does not exist. Any other read/parse error is returned.
func LoadOr(path string) (Profile, error) {
	if path == "" {
		return Default(), nil
	}
	profile, err := Load(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Profile{}, err
	}
	return profile, nil
}
