package server

import (
	"context"
	"io"
	"time"

	"github.com/botany-labs/voice-agent-service/internal/metrics"
	"github.com/botany-labs/voice-agent-service/internal/speech"
)

// MeterTranscriber wraps a transcriber so every request is recorded with
// its outcome and duration.
func MeterTranscriber(inner speech.Transcriber, m *metrics.Metrics) speech.Transcriber {
	return &meteredTranscriber{inner: inner, metrics: m}
}

type meteredTranscriber struct {
	inner   speech.Transcriber
	metrics *metrics.Metrics
}

func (t *meteredTranscriber) Transcribe(ctx context.Context, samples []float32) (string, error) {
	start := time.Now()
	text, err := t.inner.Transcribe(ctx, samples)
	t.metrics.RecordTranscription(err == nil, time.Since(start).Seconds())
	return text, err
}

// MeterSynthesizer wraps a synthesizer so every request is recorded with
// its outcome and the number of audio bytes actually read from the stream.
func MeterSynthesizer(inner speech.Synthesizer, m *metrics.Metrics) speech.Synthesizer {
	return &meteredSynthesizer{inner: inner, metrics: m}
}

type meteredSynthesizer struct {
	inner   speech.Synthesizer
	metrics *metrics.Metrics
}

func (s *meteredSynthesizer) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	body, err := s.inner.Synthesize(ctx, text)
	if err != nil {
		s.metrics.RecordSynthesis(false, 0)
		return nil, err
	}
	return &countedBody{inner: body, metrics: s.metrics}, nil
}

// countedBody counts bytes as the frame pipeline drains the stream and
// records the total when the caller closes it.
type countedBody struct {
	inner    io.ReadCloser
	metrics  *metrics.Metrics
	bytes    int
	recorded bool
}

func (b *countedBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	b.bytes += n
	return n, err
}

func (b *countedBody) Close() error {
	if !b.recorded {
		b.recorded = true
		b.metrics.RecordSynthesis(true, b.bytes)
	}
	return b.inner.Close()
}
