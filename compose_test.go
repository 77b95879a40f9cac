package awgseq

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantrolab/awgseq/internal/expr"
	"github.com/quantrolab/awgseq/internal/pulses"
)

// testSetup installs a fresh global setup with two fixed-duration templates
// ("square", duration 100) and ("blip", duration 28) in the registry.
func testSetup(t *testing.T, sampleRate float64) *Setup {
	t.Helper()
	s := NewSetup(sampleRate)
	square, err := pulses.NewTablePT("square", map[string][]pulses.TableEntry{
		"A": {
			{Time: expr.MustParse("0"), Voltage: expr.MustParse("0"), Interp: pulses.Hold},
			{Time: expr.MustParse("50"), Voltage: expr.MustParse("amp"), Interp: pulses.Hold},
			{Time: expr.MustParse("100"), Voltage: expr.MustParse("0"), Interp: pulses.Hold},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTablePT failed: %v", err)
	}
	blip, err := pulses.NewTablePT("blip", map[string][]pulses.TableEntry{
		"A": {
			{Time: expr.MustParse("0"), Voltage: expr.MustParse("v_blip"), Interp: pulses.Hold},
			{Time: expr.MustParse("28"), Voltage: expr.MustParse("0"), Interp: pulses.Linear},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTablePT failed: %v", err)
	}
	if err := s.Registry.Store("square", square, false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := s.Registry.Store("blip", blip, false); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	old := ActiveSetup
	ActiveSetup = s
	t.Cleanup(func() { ActiveSetup = old })
	return s
}

func evalDuration(t *testing.T, pt pulses.PulseTemplate, params map[string]*big.Rat) *big.Rat {
	t.Helper()
	d, err := pt.Duration().Evaluate(params)
	if err != nil {
		t.Fatalf("duration evaluation failed: %v", err)
	}
	return d
}

func TestComposeNoFillIsOnlyNormalized(t *testing.T) {
	testSetup(t, 1.0)
	composite, resolved, err := ComposePulse([]PulseRef{ByName("square"), ByName("blip")}, ComposeConfig{})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}

	// Outermost wrapper: anonymous repetition of 1 (sentinel outer count).
	outer, ok := composite.(*pulses.RepetitionPT)
	if !ok {
		t.Fatalf("composite is %T, want *pulses.RepetitionPT", composite)
	}
	assert.Equal(t, "", outer.Identifier())
	one, err := outer.Count().Evaluate(nil)
	if err != nil || one.Cmp(big.NewRat(1, 1)) != 0 {
		t.Errorf("outer count = %v (err %v), want 1", one, err)
	}

	// Below it: only the single-repetition normalization wrap and the
	// sequence itself.
	norm, ok := outer.Body().(*pulses.RepetitionPT)
	if !ok {
		t.Fatalf("normalization wrap is %T, want *pulses.RepetitionPT", outer.Body())
	}
	seq, ok := norm.Body().(*pulses.SequencePT)
	if !ok {
		t.Fatalf("sequence level is %T, want *pulses.SequencePT", norm.Body())
	}
	assert.Equal(t, 2, len(seq.Subtemplates()))

	// The resolved config echoes the original pulse list.
	assert.Equal(t, 2, len(resolved.Pulses))
	assert.Equal(t, "square", resolved.Pulses[0].Name)
}

func TestComposePerPulseRepetitions(t *testing.T) {
	testSetup(t, 1.0)
	composite, _, err := ComposePulse([]PulseRef{ByName("square"), ByName("blip")},
		ComposeConfig{Repetitions: []int{3, 0}})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	// 3*100 + 28
	params := map[string]*big.Rat{"amp": big.NewRat(1, 1), "v_blip": big.NewRat(1, 1)}
	if d := evalDuration(t, composite, params); d.Cmp(big.NewRat(328, 1)) != 0 {
		t.Errorf("composite duration = %v, want 328", d)
	}
}

func TestComposeFillAutoPadsToMinimum(t *testing.T) {
	// sampleRate 1 so durations are sample counts: minSamples=192,
	// quantum=16, composed duration 100 < 192.
	testSetup(t, 1.0)
	composite, resolved, err := ComposePulse([]PulseRef{ByName("square")},
		ComposeConfig{FillParam: FillAuto})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	assert.Equal(t, 192, resolved.MinSamples)
	assert.Equal(t, 16, resolved.SampleQuantum)

	params := map[string]*big.Rat{"amp": big.NewRat(1, 1)}
	if d := evalDuration(t, composite, params); d.Cmp(big.NewRat(192, 1)) != 0 {
		t.Errorf("filled duration = %v, want exactly minSamples/sampleRate = 192", d)
	}
}

func TestComposeFillAutoRoundsUpToQuantum(t *testing.T) {
	testSetup(t, 1.0)
	// 100 + 100 + 28 = 228 samples; overshoot past 192 is 36, rounded up
	// to 48, so the total is 240.
	composite, _, err := ComposePulse(
		[]PulseRef{ByName("square"), ByName("square"), ByName("blip")},
		ComposeConfig{FillParam: FillAuto})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	params := map[string]*big.Rat{"amp": big.NewRat(1, 1), "v_blip": big.NewRat(1, 1)}
	if d := evalDuration(t, composite, params); d.Cmp(big.NewRat(240, 1)) != 0 {
		t.Errorf("filled duration = %v, want 240", d)
	}
}

func TestComposeFillExpression(t *testing.T) {
	testSetup(t, 1.0)
	composite, _, err := ComposePulse([]PulseRef{ByName("square")},
		ComposeConfig{FillParam: "t_total"})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	params := map[string]*big.Rat{
		"amp":     big.NewRat(1, 1),
		"t_total": big.NewRat(500, 1),
	}
	if d := evalDuration(t, composite, params); d.Cmp(big.NewRat(500, 1)) != 0 {
		t.Errorf("filled duration = %v, want the t_total target 500", d)
	}
}

func TestComposeFillTimeMin(t *testing.T) {
	testSetup(t, 1.0)
	// Target 110 leaves only 10 for the filler; the minimum of 64 wins.
	composite, _, err := ComposePulse([]PulseRef{ByName("square")},
		ComposeConfig{FillParam: "110", FillTimeMin: "64"})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	params := map[string]*big.Rat{"amp": big.NewRat(1, 1)}
	if d := evalDuration(t, composite, params); d.Cmp(big.NewRat(164, 1)) != 0 {
		t.Errorf("filled duration = %v, want 100 + max(10, 64) = 164", d)
	}
}

func TestComposePrefixRenamesEveryParameter(t *testing.T) {
	testSetup(t, 1.0)
	composite, _, err := ComposePulse([]PulseRef{ByName("square"), ByName("blip")},
		ComposeConfig{Prefix: "left_"})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	names := composite.ParameterNames()
	assert.Equal(t, []string{"left_amp", "left_v_blip"}, names)
	for _, name := range names {
		if len(name) < len("left_") || name[:len("left_")] != "left_" {
			t.Errorf("parameter %q is missing the prefix", name)
		}
	}
}

func TestComposeIdentifierAndOuterRepetition(t *testing.T) {
	testSetup(t, 1.0)
	composite, _, err := ComposePulse([]PulseRef{ByName("square")},
		ComposeConfig{OuterRepetition: 7, Identifier: "warmup"})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	outer, ok := composite.(*pulses.RepetitionPT)
	if !ok {
		t.Fatalf("composite is %T, want *pulses.RepetitionPT", composite)
	}
	assert.Equal(t, "warmup", outer.Identifier())
	count, err := outer.Count().Evaluate(nil)
	if err != nil || count.Cmp(big.NewRat(7, 1)) != 0 {
		t.Errorf("outer count = %v (err %v), want 7", count, err)
	}
	// The identifier must not leak to inner wrappers.
	if inner, ok := outer.Body().(*pulses.RepetitionPT); ok {
		assert.Equal(t, "", inner.Identifier())
	}
}

func TestComposeByTemplateAndErrors(t *testing.T) {
	testSetup(t, 1.0)
	direct := pulses.NewConstantPT("flat", "A", 0.5, expr.MustParse("30"))
	composite, _, err := ComposePulse([]PulseRef{ByTemplate(direct)}, ComposeConfig{})
	if err != nil {
		t.Fatalf("ComposePulse failed: %v", err)
	}
	if d := evalDuration(t, composite, nil); d.Cmp(big.NewRat(30, 1)) != 0 {
		t.Errorf("composite duration = %v, want 30", d)
	}

	if _, _, err := ComposePulse([]PulseRef{ByName("nonexistent")}, ComposeConfig{}); err == nil {
		t.Errorf("composing an unknown pulse name should fail")
	}
	if _, _, err := ComposePulse(nil, ComposeConfig{}); err == nil {
		t.Errorf("composing an empty pulse list should fail")
	}

	// Auto fill needs a numerically evaluable duration.
	symbolic := pulses.NewConstantPT("sym", "A", 0, expr.MustParse("t_len"))
	if _, _, err := ComposePulse([]PulseRef{ByTemplate(symbolic)},
		ComposeConfig{FillParam: FillAuto}); err == nil {
		t.Errorf("auto fill over a symbolic duration should fail")
	}
}
