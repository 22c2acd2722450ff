package audio

import (
	"encoding/binary"
	"math"
)

// ToneAmplitude is the fixed amplitude used for call cue tones.
const ToneAmplitude = 0.07

// Call cue tones. A higher tone marks call start, a lower one call end.
const (
	ToneStartHz  = 440.0
	ToneEndHz    = 180.0
	ToneDuration = 0.5
)

// ToPCM16 converts normalized float32 samples to 16-bit signed PCM.
// Each sample is clamped to [-1, 1] and scaled asymmetrically: positive
// values by 32767 and negative values by 32768, so the full int16 range
// is usable and round-trips stay within quantization tolerance.
func ToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			pcm[i] = int16(s * 32768)
		} else {
			pcm[i] = int16(s * 32767)
		}
	}
	return pcm
}

// ToFloat32 converts 16-bit signed PCM samples to normalized float32.
func ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32767.0
	}
	return out
}

// PCM16ToBytes encodes int16 samples as little-endian bytes.
func PCM16ToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToPCM16 decodes little-endian bytes into int16 samples.
// An odd trailing byte is ignored.
func BytesToPCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Float32ToBytes encodes float32 samples as little-endian IEEE 754 bytes,
// the binary frame format used on the browser transport.
func Float32ToBytes(samples []float32) []byte {
	buf := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(s))
	}
	return buf
}

// BytesToFloat32 decodes little-endian IEEE 754 bytes into float32 samples.
// Trailing bytes that do not complete a sample are ignored.
func BytesToFloat32(data []byte) []float32 {
	samples := make([]float32, len(data)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return samples
}

// SynthesizeTone generates a sine wave at the given frequency and duration.
// The result is deterministic for a given input and uses a fixed low
// amplitude suitable for call start/end cues.
func SynthesizeTone(frequency float64, durationSeconds float64, sampleRate int) []float32 {
	numSamples := int(float64(sampleRate) * durationSeconds)
	samples := make([]float32, numSamples)
	for i := 0; i < numSamples; i++ {
		t := float64(i) / float64(sampleRate)
		samples[i] = float32(math.Sin(2*math.Pi*frequency*t) * ToneAmplitude)
	}
	return samples
}
