package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/botany-labs/voice-agent-service/internal/audio"
)

// Transcriber converts one complete utterance of normalized samples to text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []float32) (string, error)
}

// WhisperConfig contains batch transcription client configuration.
type WhisperConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	SampleRate int
	Timeout    time.Duration
}

// WhisperClient transcribes utterances against an OpenAI-compatible
// transcription endpoint. The provider accepts containerized audio only,
// so samples are wrapped in a WAV container before upload. Failed requests
// are not retried; the turn is abandoned by the caller.
type WhisperClient struct {
	config     WhisperConfig
	httpClient *http.Client
}

// transcriptionResponse is the provider's JSON reply.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// NewWhisperClient creates a batch transcription client.
func NewWhisperClient(config WhisperConfig) (*WhisperClient, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &WhisperClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Transcribe uploads one utterance as a WAV file and returns its transcript.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32) (string, error) {
	wavData, err := audio.EncodeWAV(audio.ToPCM16(samples), c.config.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode utterance audio: %w", err)
	}

	body, contentType, err := c.createMultipartRequest(wavData)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var transcription transcriptionResponse
	if err := json.Unmarshal(respBody, &transcription); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	return transcription.Text, nil
}

// createMultipartRequest builds the multipart/form-data body with the WAV
// file and model field.
func (c *WhisperClient) createMultipartRequest(wavData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}

	if _, err := fileWriter.Write(wavData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	if err := writer.WriteField("model", c.config.Model); err != nil {
		return nil, "", fmt.Errorf("failed to write model field: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}
