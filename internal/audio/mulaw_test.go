package audio

import (
	"math"
	"testing"
)

func TestMulawRoundTrip(t *testing.T) {
	// Mu-law is lossy; error grows with magnitude but stays within the
	// quantization step for each segment.
	samples := []int16{0, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000}

	encoded := MulawEncode(samples)
	decoded := MulawDecode(encoded)

	for i, original := range samples {
		diff := math.Abs(float64(decoded[i]) - float64(original))
		// Worst-case step size in the top segment is 1024.
		if diff > 1024 {
			t.Errorf("sample %d: %d decoded to %d (diff %.0f)", i, original, decoded[i], diff)
		}
	}
}

func TestMulawEncodeClips(t *testing.T) {
	// Values beyond the clip level map to the same code as the clip level.
	max := MulawEncodeSample(32767)
	clipped := MulawEncodeSample(mulawClip)

	if max != clipped {
		t.Errorf("expected 32767 to encode as clip level: got %d, want %d", max, clipped)
	}
}

func TestMulawSilence(t *testing.T) {
	// Mu-law silence is 0xFF.
	if got := MulawEncodeSample(0); got != 0xFF {
		t.Errorf("expected silence to encode to 0xFF, got %#x", got)
	}

	if got := MulawDecodeSample(0xFF); got != 0 {
		t.Errorf("expected 0xFF to decode to 0, got %d", got)
	}
}

func TestMulawSignPreserved(t *testing.T) {
	for _, s := range []int16{500, 5000, 20000} {
		if MulawDecodeSample(MulawEncodeSample(s)) <= 0 {
			t.Errorf("positive sample %d lost its sign", s)
		}
		if MulawDecodeSample(MulawEncodeSample(-s)) >= 0 {
			t.Errorf("negative sample %d lost its sign", -s)
		}
	}
}
