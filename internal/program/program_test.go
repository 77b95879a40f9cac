package program

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/quantrolab/awgseq/internal/expr"
	"github.com/quantrolab/awgseq/internal/pulses"
)

func rat(a, b int64) *big.Rat { return big.NewRat(a, b) }

func squarePT(t *testing.T, identifier string) *pulses.TablePT {
	t.Helper()
	pt, err := pulses.NewTablePT(identifier, map[string][]pulses.TableEntry{
		"A": {
			{Time: expr.MustParse("0"), Voltage: expr.MustParse("0"), Interp: pulses.Hold},
			{Time: expr.MustParse("1"), Voltage: expr.MustParse("amp"), Interp: pulses.Hold},
			{Time: expr.MustParse("2"), Voltage: expr.MustParse("0"), Interp: pulses.Hold},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTablePT failed: %v", err)
	}
	return pt
}

func TestCompileLeafAndRepetition(t *testing.T) {
	sq := squarePT(t, "sq")
	params := map[string]*big.Rat{"amp": rat(3, 1)}

	root, err := Compile(pulses.Repeat(sq, 5), params)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if root.Repetitions != 5 || len(root.Children) != 1 {
		t.Fatalf("compiled loop = {%d reps, %d children}, want {5 reps, 1 child}",
			root.Repetitions, len(root.Children))
	}
	leaf := root.Children[0]
	if !leaf.IsLeaf() {
		t.Fatalf("repetition body should compile to a leaf")
	}
	if leaf.Waveform.Duration.Cmp(rat(2, 1)) != 0 {
		t.Errorf("leaf duration = %v, want 2", leaf.Waveform.Duration)
	}

	// Missing parameter propagates as an error.
	if _, err := Compile(sq, nil); err == nil {
		t.Errorf("Compile without 'amp' should fail")
	}
	// Fractional repetition counts are rejected.
	bad := pulses.NewRepetitionPT("", sq, expr.MustParse("5/2"))
	if _, err := Compile(bad, params); err == nil {
		t.Errorf("Compile with non-integer count should fail")
	}
}

func TestMappingScopes(t *testing.T) {
	sq := squarePT(t, "sq")
	mapped, err := pulses.NewMappingPT("", sq, map[string]*expr.Expression{
		"amp": expr.MustParse("2 * base"),
	})
	if err != nil {
		t.Fatalf("NewMappingPT failed: %v", err)
	}
	root, err := Compile(mapped, map[string]*big.Rat{"base": rat(4, 1)})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	assert.Equal(t, 8.0, root.Waveform.Channels["A"][1].Voltage)
}

func TestSequencerTables(t *testing.T) {
	sq := squarePT(t, "sq")
	params := map[string]*big.Rat{"amp": rat(1, 1)}

	// Two sequences: (sq x3) then (sq, sq x2); outer repetition 4.
	seq1 := pulses.Repeat(sq, 3)
	inner, err := pulses.NewSequencePT("", []pulses.PulseTemplate{sq, pulses.Repeat(sq, 2)}, nil)
	if err != nil {
		t.Fatalf("NewSequencePT failed: %v", err)
	}
	top, err := pulses.NewSequencePT("", []pulses.PulseTemplate{seq1, inner}, nil)
	if err != nil {
		t.Fatalf("NewSequencePT failed: %v", err)
	}
	root, err := Compile(pulses.Repeat(top, 4), params)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	prog, err := New("tabletest", root, 1.0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// All entries reference the same deduplicated segment.
	if n := len(prog.Segments()); n != 1 {
		t.Errorf("got %d segments, want 1 (identical waveforms should share)", n)
	}
	tables := prog.SequencerTables()
	if len(tables) != 2 {
		t.Fatalf("got %d basic tables, want 2", len(tables))
	}
	assert.Equal(t, SequencerTable{{Repetitions: 1, SegmentNo: 1}}, tables[0])
	assert.Equal(t, SequencerTable{
		{Repetitions: 1, SegmentNo: 1},
		{Repetitions: 2, SegmentNo: 1},
	}, tables[1])

	// The outer repetition of 4 unrolls the two-row advanced chain so
	// playback order is preserved.
	adv := prog.AdvancedSequencerTable()
	if assert.Equal(t, 8, len(adv)) {
		assert.Equal(t, AdvancedEntry{Repetitions: 3, SequenceNo: 1}, adv[0])
		assert.Equal(t, AdvancedEntry{Repetitions: 1, SequenceNo: 2}, adv[1])
		assert.Equal(t, adv[:2], adv[2:4])
	}

	// 4 * (3 + 1 + 2) segments of duration 2 each.
	if d := prog.Duration(); d.Cmp(rat(48, 1)) != 0 {
		t.Errorf("program duration = %v, want 48", d)
	}
}

func TestRender(t *testing.T) {
	ramp, err := pulses.NewTablePT("ramp", map[string][]pulses.TableEntry{
		"A": {
			{Time: expr.MustParse("0"), Voltage: expr.MustParse("0"), Interp: pulses.Hold},
			{Time: expr.MustParse("4"), Voltage: expr.MustParse("8"), Interp: pulses.Linear},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTablePT failed: %v", err)
	}
	root, err := Compile(ramp, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	samples, err := root.Waveform.Render("A", 1.0)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	assert.Equal(t, []float64{0, 2, 4, 6}, samples)

	if _, err := root.Waveform.Render("B", 1.0); err == nil {
		t.Errorf("rendering a missing channel should fail")
	}

	// Hold interpolation steps instead of ramping.
	step, err := pulses.NewTablePT("step", map[string][]pulses.TableEntry{
		"A": {
			{Time: expr.MustParse("0"), Voltage: expr.MustParse("1"), Interp: pulses.Hold},
			{Time: expr.MustParse("2"), Voltage: expr.MustParse("5"), Interp: pulses.Hold},
			{Time: expr.MustParse("4"), Voltage: expr.MustParse("5"), Interp: pulses.Hold},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTablePT failed: %v", err)
	}
	root, err = Compile(step, nil)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	samples, err = root.Waveform.Render("A", 1.0)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	assert.Equal(t, []float64{1, 1, 5, 5}, samples)
}
