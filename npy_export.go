package awgseq

// Helpers to export read-back results as numpy *.npy files, so sequence
// tables and rendered waveforms can be inspected with numpy-speaking tools.

import (
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/quantrolab/awgseq/internal/program"
)

// WriteSequencerTableNPY writes a basic sequencer table as an Nx3 matrix
// with columns (repetitions, segment number, jump flag).
func WriteSequencerTableNPY(filename string, table program.SequencerTable) error {
	if len(table) == 0 {
		return fmt.Errorf("awgseq: sequencer table has no rows to write")
	}
	m := mat.NewDense(len(table), 3, nil)
	for i, row := range table {
		m.Set(i, 0, float64(row.Repetitions))
		m.Set(i, 1, float64(row.SegmentNo))
		m.Set(i, 2, float64(row.JumpFlag))
	}
	return writeNPY(filename, m)
}

// WriteAdvancedTableNPY writes an advanced sequencer table as an Nx3 matrix
// with columns (repetitions, sequence number, jump flag).
func WriteAdvancedTableNPY(filename string, table program.AdvancedSequencerTable) error {
	if len(table) == 0 {
		return fmt.Errorf("awgseq: advanced sequencer table has no rows to write")
	}
	m := mat.NewDense(len(table), 3, nil)
	for i, row := range table {
		m.Set(i, 0, float64(row.Repetitions))
		m.Set(i, 1, float64(row.SequenceNo))
		m.Set(i, 2, float64(row.JumpFlag))
	}
	return writeNPY(filename, m)
}

// WriteWaveformNPY renders one channel of a segment waveform at the given
// sample rate and writes the samples as a 1-D array.
func WriteWaveformNPY(filename string, wf *program.Waveform, channel string, sampleRate float64) error {
	samples, err := wf.Render(channel, sampleRate)
	if err != nil {
		return err
	}
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, samples); err != nil {
		return fmt.Errorf("awgseq: writing %s: %w", filename, err)
	}
	return nil
}

func writeNPY(filename string, m *mat.Dense) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, m); err != nil {
		return fmt.Errorf("awgseq: writing %s: %w", filename, err)
	}
	return nil
}
