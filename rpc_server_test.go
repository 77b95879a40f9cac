package awgseq

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantrolab/awgseq/internal/pulses"
)

func newTestControl(t *testing.T) *SequenceControl {
	t.Helper()
	return &SequenceControl{clientUpdates: make(chan ClientUpdate, 100)}
}

func TestRPCConfigureUploadAndReadBack(t *testing.T) {
	testSetup(t, 1.0)
	sc := newTestControl(t)

	var okay bool
	config := SimulatedAWGConfig{Name: "SimAWG", SampleRate: 1.0}
	if err := sc.ConfigureSimulatedAWG(&config, &okay); err != nil {
		t.Fatalf("ConfigureSimulatedAWG failed: %v", err)
	}
	assert.True(t, okay)
	assert.Equal(t, []string{"SimAWG_AB", "SimAWG_CD"}, sc.status.ChannelPairs)

	upload := UploadArgs{
		ProgramName: "ramsey",
		Template:    "square",
		Parameters:  map[string]float64{"amp": 0.5},
		PairIDs:     []string{"AB"},
	}
	if err := sc.UploadProgram(&upload, &okay); err != nil {
		t.Fatalf("UploadProgram failed: %v", err)
	}

	var results []SequencerTableResult
	args := SequenceTableArgs{ProgramName: "ramsey"}
	if err := sc.GetSequenceTables(&args, &results); err != nil {
		t.Fatalf("GetSequenceTables failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	assert.True(t, results[0].Found)
	assert.False(t, results[1].Found)

	// Uploading the same name again requires Force.
	if err := sc.UploadProgram(&upload, &okay); err == nil {
		t.Errorf("re-upload without Force should fail")
	}
	upload.Force = true
	if err := sc.UploadProgram(&upload, &okay); err != nil {
		t.Errorf("re-upload with Force failed: %v", err)
	}

	arm := ArmArgs{ProgramName: "ramsey", PairIDs: []string{"AB"}}
	if err := sc.ArmProgram(&arm, &okay); err != nil {
		t.Errorf("ArmProgram failed: %v", err)
	}
	if err := sc.RemoveProgram(&arm, &okay); err != nil {
		t.Errorf("RemoveProgram failed: %v", err)
	}
	if err := sc.ArmProgram(&arm, &okay); err == nil {
		t.Errorf("arming a removed program should fail")
	}
}

func TestRPCComposeStoresNamedComposite(t *testing.T) {
	s := testSetup(t, 1.0)
	sc := newTestControl(t)

	var reply ComposeReply
	args := ComposeArgs{
		Pulses: []string{"square", "blip"},
		Config: ComposeConfig{Identifier: "ramsey_body", OuterRepetition: 2},
	}
	if err := sc.ComposePulse(&args, &reply); err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	if reply.Template == "" {
		t.Fatalf("reply carries no serialized template")
	}
	round, err := pulses.UnmarshalTemplate([]byte(reply.Template))
	if err != nil {
		t.Fatalf("reply template does not deserialize: %v", err)
	}
	assert.Equal(t, "ramsey_body", round.Identifier())

	// The named composite landed in the registry.
	stored, err := s.Registry.Load("ramsey_body")
	if err != nil {
		t.Fatalf("composite was not stored: %v", err)
	}
	assert.Equal(t, "ramsey_body", stored.Identifier())
	assert.Equal(t, 2, reply.Config.OuterRepetition)
}

func TestRPCConfigureRejectsBadRate(t *testing.T) {
	testSetup(t, 1.0)
	sc := newTestControl(t)
	var okay bool
	if err := sc.ConfigureSimulatedAWG(&SimulatedAWGConfig{SampleRate: -1}, &okay); err == nil {
		t.Errorf("negative sample rate should fail")
	}
	assert.False(t, okay)
}
