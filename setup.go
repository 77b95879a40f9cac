package awgseq

import (
	"fmt"

	"github.com/quantrolab/awgseq/internal/pulses"
)

// Setup is the process-wide configuration record: the registered AWG
// channel-pair controllers, the default sample rate, and the pulse registry.
// It is initialized once at startup and only read afterwards.
type Setup struct {
	// SampleRate is the default sample rate in samples per time unit.
	SampleRate float64
	// MinSamples is the shortest segment the hardware will accept.
	MinSamples int
	// SampleQuantum is the granularity segment lengths must align to.
	SampleQuantum int
	// Registry resolves pulse templates given by name.
	Registry *pulses.Registry

	pairs []ChannelPair
}

// ActiveSetup is the global configuration record read by GetSequenceTables
// and ComposePulse.
var ActiveSetup *Setup

// DefaultMinSamples and DefaultSampleQuantum are the segment-length
// constraints of the supported channel pairs.
const (
	DefaultMinSamples    = 192
	DefaultSampleQuantum = 16
)

// NewSetup returns a Setup with the hardware's default segment constraints
// and an in-memory pulse registry.
func NewSetup(sampleRate float64) *Setup {
	return &Setup{
		SampleRate:    sampleRate,
		MinSamples:    DefaultMinSamples,
		SampleQuantum: DefaultSampleQuantum,
		Registry:      pulses.NewRegistry(pulses.NewMemoryBackend()),
	}
}

// AddChannelPair registers a controller handle.
func (s *Setup) AddChannelPair(cp ChannelPair) {
	s.pairs = append(s.pairs, cp)
}

// ChannelPairs returns the registered controller handles in registration
// order.
func (s *Setup) ChannelPairs() []ChannelPair {
	return s.pairs
}

// getSetup returns the active setup, failing when none was configured.
func getSetup() (*Setup, error) {
	if ActiveSetup == nil {
		return nil, fmt.Errorf("awgseq: no active setup configured")
	}
	return ActiveSetup, nil
}
