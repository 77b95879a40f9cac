package program

import (
	"fmt"
	"math/big"
)

// TableEntry is one row of a basic sequencer table: play segment SegmentNo
// Repetitions times. JumpFlag mirrors the hardware's per-row jump bit.
type TableEntry struct {
	Repetitions int
	SegmentNo   int
	JumpFlag    int
}

// SequencerTable is the compiled playback order of one sequence.
type SequencerTable []TableEntry

// AdvancedEntry is one row of the advanced sequencer table: play basic table
// SequenceNo Repetitions times.
type AdvancedEntry struct {
	Repetitions int
	SequenceNo  int
	JumpFlag    int
}

// AdvancedSequencerTable chains basic sequencer tables.
type AdvancedSequencerTable []AdvancedEntry

// Program is one compiled, device-loadable program.
type Program struct {
	Name       string
	SampleRate float64
	root       *Loop
	segments   []*Waveform // device segment memory; SegmentNo is 1-based index
	tables     []SequencerTable
	advanced   AdvancedSequencerTable
}

// New compiles the loop tree into sequencer tables. The root's direct
// children become the basic tables (one per child), with the root repetition
// folded into the advanced table.
func New(name string, root *Loop, sampleRate float64) (*Program, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("program: sample rate %g must be positive", sampleRate)
	}
	p := &Program{Name: name, SampleRate: sampleRate, root: normalize(root)}
	if err := p.build(); err != nil {
		return nil, err
	}
	return p, nil
}

// normalize collapses chains of single-child loops, multiplying repetition
// counts, so that the root's children are the program's sequences.
func normalize(l *Loop) *Loop {
	for !l.IsLeaf() && len(l.Children) == 1 && !l.Children[0].IsLeaf() {
		child := l.Children[0]
		l = &Loop{
			Repetitions: maxInt(l.Repetitions, 1) * maxInt(child.Repetitions, 1),
			Children:    child.Children,
		}
	}
	return l
}

func (p *Program) build() error {
	root := p.root
	sequences := root.Children
	if root.IsLeaf() {
		sequences = []*Loop{root}
	}
	segmentNos := make(map[string]int)
	for _, seq := range sequences {
		var leaves []*Loop
		advReps := 1
		if seq.IsLeaf() {
			// A bare leaf keeps its repetitions in the basic table row.
			leaves = []*Loop{{Repetitions: maxInt(seq.Repetitions, 1), Waveform: seq.Waveform}}
		} else {
			var err error
			leaves, err = flattenLeaves(&Loop{Repetitions: 1, Children: seq.Children})
			if err != nil {
				return err
			}
			advReps = maxInt(seq.Repetitions, 1)
		}
		table := make(SequencerTable, 0, len(leaves))
		for _, leaf := range leaves {
			keyed := leaf.Waveform.key()
			no, ok := segmentNos[keyed]
			if !ok {
				p.segments = append(p.segments, leaf.Waveform)
				no = len(p.segments) // segments are numbered from 1
				segmentNos[keyed] = no
			}
			table = append(table, TableEntry{Repetitions: leaf.Repetitions, SegmentNo: no})
		}
		p.tables = append(p.tables, table)
		p.advanced = append(p.advanced, AdvancedEntry{
			Repetitions: advReps,
			SequenceNo:  len(p.tables),
		})
	}
	// Program-level looping: the advanced sequencer has no outer loop of its
	// own, so a root repetition either scales a single row or unrolls the
	// whole chain.
	if rootReps := maxInt(root.Repetitions, 1); rootReps > 1 && !root.IsLeaf() {
		if len(p.advanced) == 1 {
			p.advanced[0].Repetitions *= rootReps
		} else {
			base := p.advanced
			unrolled := make(AdvancedSequencerTable, 0, len(base)*rootReps)
			for i := 0; i < rootReps; i++ {
				unrolled = append(unrolled, base...)
			}
			p.advanced = unrolled
		}
	}
	return nil
}

// flattenLeaves unrolls a sequence subtree to its waveform leaves, merging
// repetition counts where a loop has a single leaf child and unrolling
// otherwise.
func flattenLeaves(l *Loop) ([]*Loop, error) {
	if l.IsLeaf() {
		return []*Loop{{Repetitions: maxInt(l.Repetitions, 1), Waveform: l.Waveform}}, nil
	}
	var inner []*Loop
	for _, c := range l.Children {
		leaves, err := flattenLeaves(c)
		if err != nil {
			return nil, err
		}
		inner = append(inner, leaves...)
	}
	if len(inner) == 0 {
		return nil, fmt.Errorf("program: empty loop body")
	}
	reps := maxInt(l.Repetitions, 1)
	if reps == 1 {
		return inner, nil
	}
	if len(inner) == 1 {
		merged := &Loop{Repetitions: inner[0].Repetitions * reps, Waveform: inner[0].Waveform}
		return []*Loop{merged}, nil
	}
	out := make([]*Loop, 0, len(inner)*reps)
	for i := 0; i < reps; i++ {
		out = append(out, inner...)
	}
	return out, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SequencerTables returns the basic sequencer tables, one per sequence.
func (p *Program) SequencerTables() []SequencerTable { return p.tables }

// AdvancedSequencerTable returns the advanced table chaining the basic ones.
func (p *Program) AdvancedSequencerTable() AdvancedSequencerTable { return p.advanced }

// Segments returns the deduplicated segment waveforms; SegmentNo n is
// Segments()[n-1].
func (p *Program) Segments() []*Waveform { return p.segments }

// PlottableProgram is the read-back form of a compiled program, as a
// controller returns it: the sequencer tables plus the segment waveforms
// they reference.
type PlottableProgram struct {
	Name     string
	Tables   []SequencerTable
	Advanced AdvancedSequencerTable
	Segments []*Waveform
}

// Plottable returns the program's read-back representation.
func (p *Program) Plottable() *PlottableProgram {
	return &PlottableProgram{Name: p.Name, Tables: p.tables, Advanced: p.advanced, Segments: p.segments}
}

// GetSequencerTables returns the basic sequencer tables.
func (pp *PlottableProgram) GetSequencerTables() []SequencerTable { return pp.Tables }

// GetAdvancedSequencerTable returns the advanced sequencer table.
func (pp *PlottableProgram) GetAdvancedSequencerTable() AdvancedSequencerTable { return pp.Advanced }

// Duration returns the total played duration in time units.
func (p *Program) Duration() *big.Rat {
	total := new(big.Rat)
	for _, entry := range p.advanced {
		tdur := new(big.Rat)
		for _, row := range p.tables[entry.SequenceNo-1] {
			seg := p.segments[row.SegmentNo-1]
			d := new(big.Rat).Mul(seg.Duration, big.NewRat(int64(row.Repetitions), 1))
			tdur.Add(tdur, d)
		}
		tdur.Mul(tdur, big.NewRat(int64(entry.Repetitions), 1))
		total.Add(total, tdur)
	}
	return total
}
