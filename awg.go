package awgseq

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/quantrolab/awgseq/internal/program"
	"github.com/quantrolab/awgseq/internal/pulses"
)

// ChannelPair is the handle for one AWG channel pair: the unit of program
// storage, arming, and read-back.
type ChannelPair interface {
	// Identifier returns the controller's identifier string, e.g.
	// "SimAWG_AB".
	Identifier() string
	// KnownPrograms maps the names of currently loaded programs to their
	// compiled form.
	KnownPrograms() map[string]*program.Program
	// Arm selects the named program for the next trigger.
	Arm(name string) error
	// ReadCompleteProgram returns the compiled representation of the armed
	// program.
	ReadCompleteProgram() (*program.PlottableProgram, error)
}

// SimulatedAWG is a software stand-in for a two-pair AWG. It compiles
// uploaded templates exactly as the driver stack would and serves them back
// through its channel-pair handles.
type SimulatedAWG struct {
	name       string
	sampleRate float64
	pairs      []*SimChannelPair
}

// SimulatedAWGConfig holds the arguments needed to configure a SimulatedAWG
// by RPC.
type SimulatedAWGConfig struct {
	Name       string
	SampleRate float64
	PairIDs    []string
}

// NewSimulatedAWG creates a simulated AWG with one controller per pair ID.
// Controller identifiers are "<name>_<pairID>".
func NewSimulatedAWG(config *SimulatedAWGConfig) (*SimulatedAWG, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("awgseq: sample rate %g must be positive", config.SampleRate)
	}
	pairIDs := config.PairIDs
	if len(pairIDs) == 0 {
		pairIDs = []string{"AB", "CD"}
	}
	name := config.Name
	if name == "" {
		name = "SimAWG"
	}
	awg := &SimulatedAWG{name: name, sampleRate: config.SampleRate}
	for _, id := range pairIDs {
		awg.pairs = append(awg.pairs, &SimChannelPair{
			identifier: name + "_" + id,
			sampleRate: config.SampleRate,
			programs:   make(map[string]*program.Program),
		})
	}
	return awg, nil
}

// Pairs returns the channel-pair handles of this device.
func (awg *SimulatedAWG) Pairs() []*SimChannelPair { return awg.pairs }

// Register adds all of the device's channel pairs to the setup.
func (awg *SimulatedAWG) Register(s *Setup) {
	for _, cp := range awg.pairs {
		s.AddChannelPair(cp)
	}
}

// SimChannelPair is one channel pair of a SimulatedAWG.
type SimChannelPair struct {
	identifier string
	sampleRate float64
	programs   map[string]*program.Program
	armed      string
}

// Identifier returns the controller identifier, e.g. "SimAWG_AB".
func (cp *SimChannelPair) Identifier() string { return cp.identifier }

// KnownPrograms returns the mapping of loaded program names to programs.
func (cp *SimChannelPair) KnownPrograms() map[string]*program.Program {
	return cp.programs
}

// Upload compiles the template against the given parameters and stores it
// under the given name, as the driver stack does on upload.
func (cp *SimChannelPair) Upload(name string, t pulses.PulseTemplate, params map[string]*big.Rat, force bool) error {
	if _, ok := cp.programs[name]; ok && !force {
		return fmt.Errorf("awgseq: %q is already known on %s", name, cp.identifier)
	}
	root, err := program.Compile(t, params)
	if err != nil {
		return err
	}
	prog, err := program.New(name, root, cp.sampleRate)
	if err != nil {
		return err
	}
	cp.programs[name] = prog
	return nil
}

// Remove drops the named program; removing the armed program disarms.
func (cp *SimChannelPair) Remove(name string) {
	delete(cp.programs, name)
	if cp.armed == name {
		cp.armed = ""
	}
}

// Clear drops all programs and disarms.
func (cp *SimChannelPair) Clear() {
	cp.programs = make(map[string]*program.Program)
	cp.armed = ""
}

// Arm selects the named program for playback.
func (cp *SimChannelPair) Arm(name string) error {
	if _, ok := cp.programs[name]; !ok {
		return fmt.Errorf("awgseq: program %q is not known on %s", name, cp.identifier)
	}
	cp.armed = name
	return nil
}

// ReadCompleteProgram returns the armed program's compiled representation.
func (cp *SimChannelPair) ReadCompleteProgram() (*program.PlottableProgram, error) {
	if cp.armed == "" {
		return nil, fmt.Errorf("awgseq: no program armed on %s", cp.identifier)
	}
	return cp.programs[cp.armed].Plottable(), nil
}

// selectChannelPairs filters and reorders the registered controllers to
// match the requested pair IDs: substring match against the identifier,
// first registered match wins, caller order determines output order. A pair
// ID with no matching controller yields a nil entry.
func selectChannelPairs(registered []ChannelPair, pairIDs []string) []ChannelPair {
	selected := make([]ChannelPair, len(pairIDs))
	for i, id := range pairIDs {
		for _, cp := range registered {
			if strings.Contains(cp.Identifier(), id) {
				selected[i] = cp
				break
			}
		}
	}
	return selected
}
