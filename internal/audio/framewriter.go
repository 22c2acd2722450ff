package audio

import (
	"context"
	"fmt"
	"io"
	"time"
)

// DefaultFrameSize is the agreed frame length in samples for wire transmission.
const DefaultFrameSize = 1024

// Input encodings accepted by the frame pipeline. Synthesis providers
// deliver either linear PCM-16 or G.711 μ-law byte streams.
const (
	EncodingPCM16 = "linear16"
	EncodingMulaw = "mulaw"
)

// FrameSink receives fixed-size frames of normalized float samples in order.
// Every frame has exactly the configured length except the final frame of a
// stream, which may be shorter. Implementations may block to apply
// backpressure; the pipeline suspends until the push returns.
type FrameSink interface {
	PushAudio(ctx context.Context, frame []float32) error
}

// FrameWriterConfig configures the streaming frame pipeline.
type FrameWriterConfig struct {
	SampleRate int           // sample rate of the incoming byte stream
	FrameSize  int           // samples per frame pushed to the sink
	MinBuffer  time.Duration // minimum playable unit accumulated before emission
	Encoding   string        // input encoding, EncodingPCM16 when empty
}

// FrameWriter turns an arbitrary-length encoded byte stream into fixed-size
// float frames pushed to a FrameSink. It composes three stages: a byte
// accumulator that emits whole playable units, a decoder for the input
// encoding, and a frame slicer. Frames are delivered in the order bytes
// arrive; a failed push aborts the remaining pipeline for that stream.
type FrameWriter struct {
	config FrameWriterConfig
	sink   FrameSink

	buffer       []byte
	minUnitBytes int

	// Statistics
	bytesConsumed uint64
	framesPushed  uint64
}

// NewFrameWriter creates a frame writer pushing to the given sink.
func NewFrameWriter(config FrameWriterConfig, sink FrameSink) (*FrameWriter, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink cannot be nil")
	}

	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.FrameSize <= 0 {
		config.FrameSize = DefaultFrameSize
	}

	if config.MinBuffer <= 0 {
		config.MinBuffer = time.Second
	}

	// PCM-16 is 2 bytes per sample, μ-law is 1.
	bytesPerSample := 2
	switch config.Encoding {
	case "", EncodingPCM16:
		config.Encoding = EncodingPCM16
	case EncodingMulaw:
		bytesPerSample = 1
	default:
		return nil, fmt.Errorf("unsupported input encoding: %s", config.Encoding)
	}

	minUnitBytes := int(float64(config.SampleRate)*config.MinBuffer.Seconds()) * bytesPerSample

	return &FrameWriter{
		config:       config,
		sink:         sink,
		buffer:       make([]byte, 0, minUnitBytes),
		minUnitBytes: minUnitBytes,
	}, nil
}

// Write accumulates incoming bytes and emits every complete playable unit.
func (w *FrameWriter) Write(ctx context.Context, p []byte) error {
	w.bytesConsumed += uint64(len(p))
	w.buffer = append(w.buffer, p...)

	for len(w.buffer) >= w.minUnitBytes {
		unit := w.buffer[:w.minUnitBytes]
		if err := w.emitUnit(ctx, unit); err != nil {
			return err
		}
		w.buffer = w.buffer[:copy(w.buffer, w.buffer[w.minUnitBytes:])]
	}

	return nil
}

// Flush emits the buffered remainder after input end. A remainder that is
// not sample-aligned is padded by one zero byte so no trailing audio is
// lost for streams shorter than one playable unit.
func (w *FrameWriter) Flush(ctx context.Context) error {
	if len(w.buffer) == 0 {
		return nil
	}

	unit := w.buffer
	if w.config.Encoding == EncodingPCM16 && len(unit)%2 != 0 {
		unit = append(unit, 0)
	}
	w.buffer = w.buffer[:0]

	return w.emitUnit(ctx, unit)
}

// FramesPushed returns the number of frames delivered to the sink so far.
func (w *FrameWriter) FramesPushed() uint64 {
	return w.framesPushed
}

// emitUnit converts one playable unit to float samples and pushes it to the
// sink as fixed-size frames. The last slice may be shorter than a frame.
func (w *FrameWriter) emitUnit(ctx context.Context, unit []byte) error {
	var samples []float32
	if w.config.Encoding == EncodingMulaw {
		samples = ToFloat32(MulawDecode(unit))
	} else {
		samples = ToFloat32(BytesToPCM16(unit))
	}

	for start := 0; start < len(samples); start += w.config.FrameSize {
		end := start + w.config.FrameSize
		if end > len(samples) {
			end = len(samples)
		}

		if err := w.sink.PushAudio(ctx, samples[start:end]); err != nil {
			return fmt.Errorf("failed to push audio frame: %w", err)
		}
		w.framesPushed++
	}

	return nil
}

// StreamFrames drives a FrameWriter from an io.Reader until EOF, then
// flushes. The reader is typically a provider HTTP response body; the whole
// response is never held in memory.
func StreamFrames(ctx context.Context, r io.Reader, sink FrameSink, config FrameWriterConfig) (uint64, error) {
	writer, err := NewFrameWriter(config, sink)
	if err != nil {
		return 0, err
	}

	chunk := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return writer.FramesPushed(), err
		}

		n, readErr := r.Read(chunk)
		if n > 0 {
			if err := writer.Write(ctx, chunk[:n]); err != nil {
				return writer.FramesPushed(), err
			}
		}

		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return writer.FramesPushed(), fmt.Errorf("failed to read audio stream: %w", readErr)
		}
	}

	if err := writer.Flush(ctx); err != nil {
		return writer.FramesPushed(), err
	}

	return writer.FramesPushed(), nil
}
