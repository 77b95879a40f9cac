// Package program compiles pulse templates against concrete parameter values
// and produces the hardware-shaped results: a loop tree, per-sequence basic
// sequencer tables, and one advanced sequencer table referencing them.
package program

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/quantrolab/awgseq/internal/pulses"
)

// Breakpoint is one concrete (time, voltage) point of a compiled waveform.
type Breakpoint struct {
	Time    float64
	Voltage float64
	Interp  pulses.Interpolation
}

// Waveform is a compiled leaf: concrete breakpoints per channel.
type Waveform struct {
	Channels map[string][]Breakpoint
	Duration *big.Rat
}

// key is a canonical identity for segment deduplication: two waveforms with
// equal keys share one device segment.
func (w *Waveform) key() string {
	chans := make([]string, 0, len(w.Channels))
	for ch := range w.Channels {
		chans = append(chans, ch)
	}
	sort.Strings(chans)
	var b strings.Builder
	for _, ch := range chans {
		fmt.Fprintf(&b, "%s:", ch)
		for _, bp := range w.Channels[ch] {
			fmt.Fprintf(&b, "(%g,%g,%s)", bp.Time, bp.Voltage, bp.Interp)
		}
		b.WriteByte(';')
	}
	return b.String()
}

// Loop is one node of the compiled repetition tree.
type Loop struct {
	Repetitions int
	Children    []*Loop
	Waveform    *Waveform // non-nil exactly on leaves
}

// IsLeaf reports whether l holds a waveform.
func (l *Loop) IsLeaf() bool { return l.Waveform != nil }

// Depth returns the longest path from l to a leaf.
func (l *Loop) Depth() int {
	if l.IsLeaf() {
		return 0
	}
	max := 0
	for _, c := range l.Children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	return 1 + max
}

// Compile evaluates the template against the given parameters and returns its
// loop tree. Missing parameters, non-integer repetition counts, and the like
// surface as errors from here or from internal/expr.
func Compile(t pulses.PulseTemplate, params map[string]*big.Rat) (*Loop, error) {
	switch pt := t.(type) {
	case *pulses.TablePT:
		wf, err := compileTable(pt, params)
		if err != nil {
			return nil, err
		}
		return &Loop{Repetitions: 1, Waveform: wf}, nil

	case *pulses.ConstantPT:
		wf, err := compileConstant(pt, params)
		if err != nil {
			return nil, err
		}
		return &Loop{Repetitions: 1, Waveform: wf}, nil

	case *pulses.SequencePT:
		children := make([]*Loop, 0, len(pt.Subtemplates()))
		for _, sub := range pt.Subtemplates() {
			child, err := Compile(sub, params)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		return &Loop{Repetitions: 1, Children: children}, nil

	case *pulses.RepetitionPT:
		count, err := pt.Count().Evaluate(params)
		if err != nil {
			return nil, err
		}
		if !count.IsInt() || count.Sign() < 0 {
			return nil, fmt.Errorf("program: repetition count %v is not a non-negative integer", count)
		}
		body, err := Compile(pt.Body(), params)
		if err != nil {
			return nil, err
		}
		return &Loop{Repetitions: int(count.Num().Int64()), Children: []*Loop{body}}, nil

	case *pulses.MappingPT:
		inner, err := mappedScope(pt, params)
		if err != nil {
			return nil, err
		}
		return Compile(pt.Body(), inner)
	}
	return nil, fmt.Errorf("program: cannot compile template type %T", t)
}

// mappedScope builds the body-side parameter scope of a mapping template:
// mapped names are evaluated in the outer scope, unmapped names pass through.
func mappedScope(pt *pulses.MappingPT, outer map[string]*big.Rat) (map[string]*big.Rat, error) {
	inner := make(map[string]*big.Rat)
	mapping := pt.Mapping()
	for _, name := range pt.Body().ParameterNames() {
		if e, ok := mapping[name]; ok {
			v, err := e.Evaluate(outer)
			if err != nil {
				return nil, err
			}
			inner[name] = v
			continue
		}
		if v, ok := outer[name]; ok {
			inner[name] = v
		}
	}
	return inner, nil
}

func compileTable(pt *pulses.TablePT, params map[string]*big.Rat) (*Waveform, error) {
	wf := &Waveform{Channels: make(map[string][]Breakpoint), Duration: new(big.Rat)}
	for ch, entries := range pt.Channels() {
		bps := make([]Breakpoint, len(entries))
		prev := new(big.Rat)
		for i, e := range entries {
			tv, err := e.Time.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("program: channel %q: %w", ch, err)
			}
			if tv.Cmp(prev) < 0 {
				return nil, fmt.Errorf("program: channel %q entry %d moves backward in time", ch, i)
			}
			prev = tv
			vv, err := e.Voltage.Evaluate(params)
			if err != nil {
				return nil, fmt.Errorf("program: channel %q: %w", ch, err)
			}
			tf, _ := tv.Float64()
			vf, _ := vv.Float64()
			bps[i] = Breakpoint{Time: tf, Voltage: vf, Interp: e.Interp}
			if tv.Cmp(wf.Duration) > 0 {
				wf.Duration.Set(tv)
			}
		}
		wf.Channels[ch] = bps
	}
	return wf, nil
}

func compileConstant(pt *pulses.ConstantPT, params map[string]*big.Rat) (*Waveform, error) {
	d, err := pt.Duration().Evaluate(params)
	if err != nil {
		return nil, err
	}
	if d.Sign() < 0 {
		return nil, fmt.Errorf("program: constant pulse %q has negative duration %v", pt.Identifier(), d)
	}
	df, _ := d.Float64()
	bps := []Breakpoint{
		{Time: 0, Voltage: pt.Level(), Interp: pulses.Hold},
		{Time: df, Voltage: pt.Level(), Interp: pulses.Hold},
	}
	return &Waveform{
		Channels: map[string][]Breakpoint{pt.Channel(): bps},
		Duration: new(big.Rat).Set(d),
	}, nil
}
