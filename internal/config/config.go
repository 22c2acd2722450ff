package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/botany-labs/voice-agent-service/internal/speech"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Telephony TelephonyConfig `yaml:"telephony"`
	Assistant AssistantConfig `yaml:"assistant"`
	LLM       LLMConfig       `yaml:"llm"`
	STT       STTConfig       `yaml:"stt"`
	LiveSTT   LiveSTTConfig   `yaml:"live_stt"`
	TTS       TTSConfig       `yaml:"tts"`
	VAD       VADConfig       `yaml:"vad"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port               int    `yaml:"port"`
	Address            string `yaml:"address"`
	PublicHost         string `yaml:"public_host"` // hostname telephony providers connect back to
	MaxConcurrentCalls int    `yaml:"max_concurrent_calls"`
	WriteTimeout       int    `yaml:"write_timeout"` // seconds
	StartDelayMs       int    `yaml:"start_delay_ms"`
}

// BrowserConfig contains browser call transport configuration
type BrowserConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FrameSize  int `yaml:"frame_size"`
}

// TelephonyConfig contains telephony call transport configuration
type TelephonyConfig struct {
	Enabled          bool `yaml:"enabled"`
	SampleRate       int  `yaml:"sample_rate"`
	InterruptDelayMs int  `yaml:"interrupt_delay_ms"`
}

// AssistantConfig contains assistant behavior configuration
type AssistantConfig struct {
	Instructions   string `yaml:"instructions"`
	SystemPrompt   string `yaml:"system_prompt"`
	OpeningMessage string `yaml:"opening_message"`
	SpeakFirst     bool   `yaml:"speak_first"`
	CanHangUp      bool   `yaml:"can_hang_up"`
}

// LLMConfig contains chat completion API configuration
type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// STTConfig contains batch transcription API configuration
type STTConfig struct {
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// LiveSTTConfig contains streaming transcription API configuration
type LiveSTTConfig struct {
	Endpoint       string `yaml:"endpoint"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	UtteranceEndMs int    `yaml:"utterance_end_ms"`
	EndpointingMs  int    `yaml:"endpointing_ms"`
}

// TTSConfig contains speech synthesis API configuration
type TTSConfig struct {
	Provider string `yaml:"provider"` // "openai" or "elevenlabs"
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	Voice    string `yaml:"voice"`
	Timeout  int    `yaml:"timeout"` // seconds
}

// VADConfig contains the energy gate configuration used when the streaming
// transcription provider does not report speech activity
type VADConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Threshold  float32 `yaml:"threshold"`
	WindowSize int     `yaml:"window_size"` // samples
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file. API keys and other secrets
// may reference environment variables with ${VAR} syntax.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Browser.Validate(); err != nil {
		return fmt.Errorf("browser config: %w", err)
	}

	if err := c.Telephony.Validate(); err != nil {
		return fmt.Errorf("telephony config: %w", err)
	}

	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}

	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}

	if c.Telephony.Enabled {
		if err := c.LiveSTT.Validate(); err != nil {
			return fmt.Errorf("live_stt config: %w", err)
		}
	}

	if err := c.TTS.Validate(); err != nil {
		return fmt.Errorf("tts config: %w", err)
	}

	// Telephony playback is 8 kHz μ-law, which only elevenlabs can emit.
	if c.Telephony.Enabled && c.TTS.Provider != speech.ProviderElevenLabs {
		return fmt.Errorf("tts config: provider must be 'elevenlabs' when telephony is enabled, got '%s'", c.TTS.Provider)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.MaxConcurrentCalls < 1 {
		return fmt.Errorf("max_concurrent_calls must be at least 1, got %d", s.MaxConcurrentCalls)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.StartDelayMs < 0 {
		return fmt.Errorf("start_delay_ms cannot be negative, got %d", s.StartDelayMs)
	}

	return nil
}

// Validate validates browser transport configuration
func (b *BrowserConfig) Validate() error {
	if b.SampleRate != 24000 {
		return fmt.Errorf("sample_rate must be 24000 Hz for the browser transport, got %d", b.SampleRate)
	}

	if b.FrameSize < 256 || b.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 256 and 4096 samples, got %d", b.FrameSize)
	}

	return nil
}

// Validate validates telephony transport configuration
func (t *TelephonyConfig) Validate() error {
	if !t.Enabled {
		return nil
	}

	if t.SampleRate != 8000 {
		return fmt.Errorf("sample_rate must be 8000 Hz for μ-law telephony, got %d", t.SampleRate)
	}

	if t.InterruptDelayMs < 1 {
		return fmt.Errorf("interrupt_delay_ms must be at least 1, got %d", t.InterruptDelayMs)
	}

	return nil
}

// Validate validates LLM configuration
func (l *LLMConfig) Validate() error {
	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", l.Timeout)
	}

	return nil
}

// Validate validates batch transcription configuration
func (s *STTConfig) Validate() error {
	if s.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if s.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if s.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates streaming transcription configuration
func (l *LiveSTTConfig) Validate() error {
	if l.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if l.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if l.UtteranceEndMs < 100 {
		return fmt.Errorf("utterance_end_ms must be at least 100, got %d", l.UtteranceEndMs)
	}

	if l.EndpointingMs < 10 {
		return fmt.Errorf("endpointing_ms must be at least 10, got %d", l.EndpointingMs)
	}

	return nil
}

// Validate validates synthesis configuration
func (t *TTSConfig) Validate() error {
	validProviders := map[string]bool{
		speech.ProviderOpenAI:     true,
		speech.ProviderElevenLabs: true,
	}
	if !validProviders[t.Provider] {
		return fmt.Errorf("provider must be 'openai' or 'elevenlabs', got '%s'", t.Provider)
	}

	if t.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty")
	}

	if t.Provider == speech.ProviderElevenLabs && t.Voice == "" {
		return fmt.Errorf("voice cannot be empty for elevenlabs")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	return nil
}

// Validate validates energy gate configuration
func (v *VADConfig) Validate() error {
	if !v.Enabled {
		return nil
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 80 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 80 and 2048 samples, got %d", v.WindowSize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetWriteTimeoutDuration returns the server write timeout as a time.Duration
func (s *ServerConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetStartDelayDuration returns the conversation start delay as a time.Duration
func (s *ServerConfig) GetStartDelayDuration() time.Duration {
	return time.Duration(s.StartDelayMs) * time.Millisecond
}

// GetInterruptDelayDuration returns the barge-in confirmation delay as a time.Duration
func (t *TelephonyConfig) GetInterruptDelayDuration() time.Duration {
	return time.Duration(t.InterruptDelayMs) * time.Millisecond
}

// GetTimeoutDuration returns the LLM request timeout as a time.Duration
func (l *LLMConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(l.Timeout) * time.Second
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (s *STTConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetTimeoutDuration returns the synthesis timeout as a time.Duration
func (t *TTSConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
