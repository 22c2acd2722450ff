package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// energyScale normalizes RMS energy of 16-bit samples into the 0-1 range.
// Conversational speech over telephony rarely exceeds this level.
const energyScale = 10000.0

// Detector is an energy-based speech gate. It smooths per-window RMS
// energy with an exponential moving average so a single loud sample does
// not trigger the gate.
type Detector struct {
	threshold  float32
	windowSize int
	sampleRate int
	smoothing  float32

	mu         sync.RWMutex
	lastEnergy float32

	totalWindows uint64
	voiceWindows uint64
	lastObserved time.Time
}

// Result is the outcome of gating one audio window.
type Result struct {
	Energy   float32 `json:"energy"`
	HasVoice bool    `json:"has_voice"`
}

// Stats reports detector counters.
type Stats struct {
	TotalWindows    uint64    `json:"total_windows"`
	VoiceWindows    uint64    `json:"voice_windows"`
	VoicePercentage float64   `json:"voice_percentage"`
	LastObserved    time.Time `json:"last_observed"`
	Threshold       float32   `json:"threshold"`
}

// NewDetector creates an energy gate. Threshold is the normalized energy
// level above which a window counts as speech.
func NewDetector(threshold float32, windowSize, sampleRate int) (*Detector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	if windowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSize)
	}

	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	return &Detector{
		threshold:  threshold,
		windowSize: windowSize,
		sampleRate: sampleRate,
		smoothing:  0.3,
	}, nil
}

// Process gates one window of PCM16 samples.
func (d *Detector) Process(samples []int16) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(samples) != d.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", d.windowSize, len(samples))
	}

	energy := d.windowEnergy(samples)
	if d.totalWindows > 0 {
		energy = d.smoothing*energy + (1-d.smoothing)*d.lastEnergy
	}
	d.lastEnergy = energy

	hasVoice := energy >= d.threshold

	d.totalWindows++
	if hasVoice {
		d.voiceWindows++
	}
	d.lastObserved = time.Now()

	return &Result{Energy: energy, HasVoice: hasVoice}, nil
}

// WindowSize is the number of samples one window holds.
func (d *Detector) WindowSize() int {
	return d.windowSize
}

// WindowDuration is how much audio one window covers.
func (d *Detector) WindowDuration() time.Duration {
	return time.Duration(d.windowSize) * time.Second / time.Duration(d.sampleRate)
}

// GetStats returns current counters.
func (d *Detector) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	stats := Stats{
		TotalWindows: d.totalWindows,
		VoiceWindows: d.voiceWindows,
		LastObserved: d.lastObserved,
		Threshold:    d.threshold,
	}
	if d.totalWindows > 0 {
		stats.VoicePercentage = float64(d.voiceWindows) / float64(d.totalWindows) * 100
	}
	return stats
}

// Reset clears the smoothing state between utterances.
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastEnergy = 0
}

func (d *Detector) windowEnergy(samples []int16) float32 {
	var sum float64
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}
	rms := math.Sqrt(sum / float64(len(samples)))

	normalized := rms / energyScale
	if normalized > 1 {
		normalized = 1
	}
	return float32(normalized)
}
