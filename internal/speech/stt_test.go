package speech

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/botany-labs/voice-agent-service/internal/audio"
)

func TestWhisperClientTranscribe(t *testing.T) {
	var gotModel string
	var gotAuth string
	var gotFile []byte

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			t.Errorf("failed to parse multipart form: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}

		gotModel = r.FormValue("model")
		gotAuth = r.Header.Get("Authorization")

		file, _, err := r.FormFile("file")
		if err != nil {
			t.Errorf("missing file field: %v", err)
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotFile, _ = io.ReadAll(file)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer server.Close()

	client, err := NewWhisperClient(WhisperConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		Model:      "whisper-1",
		SampleRate: 24000,
		Timeout:    5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	samples := audio.SynthesizeTone(440, 0.1, 24000)
	text, err := client.Transcribe(context.Background(), samples)
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	if text != "hello there" {
		t.Errorf("expected transcript 'hello there', got %q", text)
	}

	if gotModel != "whisper-1" {
		t.Errorf("expected model whisper-1, got %q", gotModel)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}

	if err := audio.ValidateWAV(gotFile); err != nil {
		t.Errorf("uploaded file is not valid WAV: %v", err)
	}
}

func TestWhisperClientHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "server exploded", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := NewWhisperClient(WhisperConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		Model:      "whisper-1",
		SampleRate: 24000,
	})
	if err != nil {
		t.Fatalf("NewWhisperClient failed: %v", err)
	}

	if _, err := client.Transcribe(context.Background(), make([]float32, 100)); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestNewWhisperClientValidation(t *testing.T) {
	base := WhisperConfig{
		Endpoint:   "http://localhost:9999",
		APIKey:     "key",
		Model:      "whisper-1",
		SampleRate: 24000,
	}

	missing := base
	missing.Endpoint = ""
	if _, err := NewWhisperClient(missing); err == nil {
		t.Error("expected error for empty endpoint")
	}

	missing = base
	missing.APIKey = ""
	if _, err := NewWhisperClient(missing); err == nil {
		t.Error("expected error for empty API key")
	}

	missing = base
	missing.Model = ""
	if _, err := NewWhisperClient(missing); err == nil {
		t.Error("expected error for empty model")
	}

	missing = base
	missing.SampleRate = 0
	if _, err := NewWhisperClient(missing); err == nil {
		t.Error("expected error for zero sample rate")
	}
}
