package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the teleops.json configuration file
type Config struct {
	Version       string        `json:"version"`
	PrincipalID   string        `json:"principal_id"`
	TasksDir      string        `json:"tasks_dir"`
	HistoryDir    string        `json:"history_dir"`
	LogLevel      string        `json:"log_level,omitempty"`
	Executor      Executor      `json:"executor"`
	Sessions      Sessions      `json:"sessions"`
	NLU           Provider      `json:"nlu"`
	Transcription Transcription `json:"transcription"`
}

// Executor contains command execution settings
type Executor struct {
	// Shell is the command prefix the raw command string is handed to,
	// e.g. ["/bin/sh", "-c"].
	Shell           []string `json:"shell"`
	MaxConcurrent   int      `json:"max_concurrent"`
	DefaultTimeoutS int      `json:"default_timeout_s"`
	MaxOutputBytes  int      `json:"max_output_bytes"`
}

// Sessions contains per-conversation state settings
type Sessions struct {
	InactivityTimeoutS int `json:"inactivity_timeout_s"`
	// HistoryTurns bounds how many transcript turns are handed to the
	// NLU provider as classification context.
	HistoryTurns int `json:"history_turns"`
}

// Provider describes an OpenAI-compatible chat completion endpoint
type Provider struct {
	BaseURL   string `json:"base_url"`
	Model     string `json:"model"`
	APIKeyEnv string `json:"api_key_env"`
	TimeoutS  int    `json:"timeout_s,omitempty"`
}

// Transcription describes the speech-to-text endpoint
type Transcription struct {
	BaseURL       string `json:"base_url"`
	Model         string `json:"model"`
	APIKeyEnv     string `json:"api_key_env"`
	TimeoutS      int    `json:"timeout_s,omitempty"`
	MaxAudioBytes int    `json:"max_audio_bytes"`
}

// GenerateDefault creates a new Config with default values
func GenerateDefault() *Config {
	return &Config{
		Version:     "1.0",
		PrincipalID: "",
		TasksDir:    "tasks",
		HistoryDir:  "history",
		LogLevel:    "info",
		Executor: Executor{
			Shell:           []string{"/bin/sh", "-c"},
			MaxConcurrent:   2,
			DefaultTimeoutS: 30,
			MaxOutputBytes:  65536,
		},
		Sessions: Sessions{
			InactivityTimeoutS: 900,
			HistoryTurns:       10,
		},
		NLU: Provider{
			BaseURL:   "https://api.openai.com/v1",
			Model:     "gpt-4o-mini",
			APIKeyEnv: "TELEOPS_NLU_API_KEY",
			TimeoutS:  60,
		},
		Transcription: Transcription{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "whisper-1",
			APIKeyEnv:     "TELEOPS_TRANSCRIBE_API_KEY",
			TimeoutS:      120,
			MaxAudioBytes: 2 * 1024 * 1024,
		},
	}
}

// Validate checks the configuration for errors and returns user-friendly error messages
func (c *Config) Validate() error {
	if c.Version == "" {
		return fmt.Errorf("configuration error: missing required field 'version'\n\nHint: Add a version field like:\n  \"version\": \"1.0\"")
	}

	if c.PrincipalID == "" {
		return fmt.Errorf("configuration error: missing required field 'principal_id'\n\nHint: Set the single operator identity your transport reports, e.g.:\n  \"principal_id\": \"123456789\"")
	}

	if c.TasksDir == "" {
		return fmt.Errorf("configuration error: missing required field 'tasks_dir'\n\nHint: Point it at the directory holding task definitions:\n  \"tasks_dir\": \"tasks\"")
	}

	if len(c.Executor.Shell) == 0 {
		return fmt.Errorf("configuration error: empty 'executor.shell'\n\nHint: Specify the shell the command string is handed to:\n  \"shell\": [\"/bin/sh\", \"-c\"]")
	}

	if c.Executor.MaxConcurrent < 1 {
		return fmt.Errorf("configuration error: invalid 'executor.max_concurrent' value: %d\n\nHint: At least one command slot is required:\n  \"max_concurrent\": 2", c.Executor.MaxConcurrent)
	}

	if c.Executor.DefaultTimeoutS < 1 {
		return fmt.Errorf("configuration error: invalid 'executor.default_timeout_s' value: %d\n\nHint: Commands need a positive timeout:\n  \"default_timeout_s\": 30", c.Executor.DefaultTimeoutS)
	}

	if c.Executor.MaxOutputBytes < 1 {
		return fmt.Errorf("configuration error: invalid 'executor.max_output_bytes' value: %d\n\nHint: Captured output must be capped to protect memory:\n  \"max_output_bytes\": 65536", c.Executor.MaxOutputBytes)
	}

	if c.Sessions.InactivityTimeoutS < 1 {
		return fmt.Errorf("configuration error: invalid 'sessions.inactivity_timeout_s' value: %d\n\nHint: Pending flows must expire eventually:\n  \"inactivity_timeout_s\": 900", c.Sessions.InactivityTimeoutS)
	}

	return nil
}

// DefaultTimeout returns the per-command timeout as a duration
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.Executor.DefaultTimeoutS) * time.Second
}

// InactivityTimeout returns the session expiry window as a duration
func (c *Config) InactivityTimeout() time.Duration {
	return time.Duration(c.Sessions.InactivityTimeoutS) * time.Second
}

// LoadFromFile loads a configuration from a JSON file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &cfg, nil
}

// SaveToFile writes the configuration to a JSON file with 0600 permissions
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	data = append(data, '\n')

	// 0600: the file names credential env vars and the operator id
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}

	return nil
}
