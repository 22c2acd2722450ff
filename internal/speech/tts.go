package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Audio output formats supported by the synthesis providers.
const (
	FormatPCM24K  = "pcm_24000"
	FormatMulaw8K = "mulaw_8000"
)

// Synthesis providers.
const (
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
)

// Synthesizer converts text into a streaming audio byte body. The returned
// reader yields raw audio in the configured output format and must be
// closed by the caller; reading it drives the frame pipeline without
// holding the whole response in memory.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// SynthesizerConfig contains text-to-speech client configuration.
type SynthesizerConfig struct {
	Provider string
	Endpoint string
	APIKey   string
	Model    string
	Voice    string
	Format   string
	Timeout  time.Duration
}

// NewSynthesizer creates the synthesis client for the configured provider.
// Unsupported providers, formats, and missing credentials are construction
// errors and are never retried.
func NewSynthesizer(config SynthesizerConfig) (Synthesizer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Format == "" {
		config.Format = FormatPCM24K
	}

	if config.Format != FormatPCM24K && config.Format != FormatMulaw8K {
		return nil, fmt.Errorf("unsupported audio format: %s", config.Format)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{
		// The timeout bounds the whole request including body streaming;
		// synthesis bodies are read incrementally, so only dial and header
		// phases are bounded here.
		Transport: &http.Transport{
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   2,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: config.Timeout,
		},
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.Format != FormatPCM24K {
			return nil, fmt.Errorf("openai synthesis supports only %s output, got %s", FormatPCM24K, config.Format)
		}
		if config.Endpoint == "" {
			config.Endpoint = "https://api.openai.com/v1/audio/speech"
		}
		return &openAISynthesizer{config: config, httpClient: httpClient}, nil

	case ProviderElevenLabs:
		if config.Voice == "" {
			return nil, fmt.Errorf("voice cannot be empty for elevenlabs")
		}
		if config.Endpoint == "" {
			config.Endpoint = "https://api.elevenlabs.io/v1/text-to-speech"
		}
		return &elevenLabsSynthesizer{config: config, httpClient: httpClient}, nil

	default:
		return nil, fmt.Errorf("unsupported TTS provider: %s", config.Provider)
	}
}

// openAISynthesizer streams 24 kHz PCM-16 speech from an OpenAI-compatible
// speech endpoint.
type openAISynthesizer struct {
	config     SynthesizerConfig
	httpClient *http.Client
}

func (s *openAISynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	payload := map[string]string{
		"model":           s.config.Model,
		"voice":           s.config.Voice,
		"input":           text,
		"response_format": "pcm",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}

// elevenLabsSynthesizer streams speech from the ElevenLabs API in either
// 24 kHz PCM-16 or 8 kHz mu-law.
type elevenLabsSynthesizer struct {
	config     SynthesizerConfig
	httpClient *http.Client
}

func (s *elevenLabsSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	payload := map[string]any{
		"text":     text,
		"model_id": s.config.Model,
		"voice_settings": map[string]any{
			"stability":        0.5,
			"similarity_boost": 0.8,
			"style":            0,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	outputFormat := "pcm_24000"
	if s.config.Format == FormatMulaw8K {
		outputFormat = "ulaw_8000"
	}

	query := url.Values{}
	query.Set("output_format", outputFormat)
	endpoint := fmt.Sprintf("%s/%s?%s", s.config.Endpoint, url.PathEscape(s.config.Voice), query.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.config.APIKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	return resp.Body, nil
}
