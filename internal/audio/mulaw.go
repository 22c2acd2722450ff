package audio

// G.711 mu-law companding for the telephony transport (8 kHz, 8-bit).

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MulawEncodeSample compands a single 16-bit PCM sample to 8-bit mu-law.
func MulawEncodeSample(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}

	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// MulawDecodeSample expands a single 8-bit mu-law byte to 16-bit PCM.
func MulawDecodeSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	s := (int32(mantissa)<<3 + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// MulawEncode compands 16-bit PCM samples to mu-law bytes.
func MulawEncode(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MulawEncodeSample(s)
	}
	return out
}

// MulawDecode expands mu-law bytes to 16-bit PCM samples.
func MulawDecode(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = MulawDecodeSample(b)
	}
	return out
}
