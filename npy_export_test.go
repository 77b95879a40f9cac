package awgseq

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"github.com/quantrolab/awgseq/internal/program"
)

func TestWriteSequencerTableNPY(t *testing.T) {
	table := program.SequencerTable{
		{Repetitions: 3, SegmentNo: 1},
		{Repetitions: 1, SegmentNo: 2},
	}
	filename := filepath.Join(t.TempDir(), "table.npy")
	if err := WriteSequencerTableNPY(filename, table); err != nil {
		t.Fatalf("WriteSequencerTableNPY failed: %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer f.Close()
	var m mat.Dense
	if err := npyio.Read(f, &m); err != nil {
		t.Fatalf("reading the file back failed: %v", err)
	}
	rows, cols := m.Dims()
	if rows != 2 || cols != 3 {
		t.Fatalf("read-back shape is %dx%d, want 2x3", rows, cols)
	}
	if m.At(0, 0) != 3 || m.At(1, 1) != 2 || m.At(0, 2) != 0 {
		t.Errorf("read-back values differ: %v", mat.Formatted(&m))
	}
}

func TestWriteEmptyTablesRejected(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "empty.npy")
	if err := WriteSequencerTableNPY(filename, nil); err == nil {
		t.Errorf("writing an empty sequencer table should fail")
	}
	if err := WriteAdvancedTableNPY(filename, nil); err == nil {
		t.Errorf("writing an empty advanced table should fail")
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) {
		t.Errorf("an empty table still produced a file")
	}
}
