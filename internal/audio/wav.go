package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// WAVHeaderSize is the fixed size of the RIFF/WAVE header this package emits.
const WAVHeaderSize = 44

// wavHeader is the minimal PCM RIFF/WAVE header layout.
type wavHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BytesPerSample
	BlockAlign    uint16 // NumChannels * BytesPerSample
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// BuildWAVHeader builds the fixed 44-byte PCM container header. The layout
// is bit-exact: transcription providers accept containerized audio only,
// not raw PCM, and validate these fields.
func BuildWAVHeader(sampleRate, channels, bytesPerSample, dataSize int) []byte {
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataSize),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * channels * bytesPerSample),
		BlockAlign:    uint16(channels * bytesPerSample),
		BitsPerSample: uint16(bytesPerSample * 8),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(dataSize),
	}

	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize))
	// binary.Write on a fixed-size struct of fixed-size fields cannot fail.
	_ = binary.Write(buf, binary.LittleEndian, header)
	return buf.Bytes()
}

// EncodeWAV encodes PCM-16 samples into a mono WAV file.
func EncodeWAV(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	dataSize := len(samples) * 2
	out := make([]byte, 0, WAVHeaderSize+dataSize)
	out = append(out, BuildWAVHeader(sampleRate, 1, 2, dataSize)...)
	out = append(out, PCM16ToBytes(samples)...)
	return out, nil
}

// ValidateWAV validates the WAV container markers without decoding audio data.
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// WAVDuration calculates the duration of a 16-bit mono WAV file in seconds.
func WAVDuration(data []byte) (float64, error) {
	if err := ValidateWAV(data); err != nil {
		return 0, err
	}

	sampleRate := binary.LittleEndian.Uint32(data[24:28])
	if sampleRate == 0 {
		return 0, fmt.Errorf("invalid sample rate: 0")
	}

	dataSize := binary.LittleEndian.Uint32(data[40:44])
	numSamples := dataSize / 2
	return float64(numSamples) / float64(sampleRate), nil
}
