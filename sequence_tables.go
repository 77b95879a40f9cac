package awgseq

import (
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/quantrolab/awgseq/internal/program"
)

// SequencerTableResult is the read-back of one channel pair: the extracted
// table(s) when the program is loaded there, or an empty placeholder when it
// is not.
type SequencerTableResult struct {
	ChannelPair string
	Found       bool
	Tables      []program.SequencerTable       // basic tables; nil when advanced was requested
	Advanced    program.AdvancedSequencerTable // advanced table; nil when basic was requested
}

// GetSequenceTables arms the named program on each matching channel-pair
// controller and reads back its sequencer tables, one result per requested
// pair ID, in caller order. A nil pairIDs requests the default pairs AB and
// CD. With advanced true the advanced sequencer table is extracted instead
// of the basic ones. verbosity >= 1 dumps each result to the console.
//
// A controller that does not currently know the program yields an empty
// placeholder without being armed or read. Driver failures propagate.
func GetSequenceTables(programName string, advanced bool, pairIDs []string, verbosity int) ([]SequencerTableResult, error) {
	setup, err := getSetup()
	if err != nil {
		return nil, err
	}
	if pairIDs == nil {
		pairIDs = []string{"AB", "CD"}
	}

	selected := selectChannelPairs(setup.ChannelPairs(), pairIDs)
	results := make([]SequencerTableResult, len(selected))
	for i, cp := range selected {
		if cp == nil {
			return nil, fmt.Errorf("awgseq: no channel pair matches %q", pairIDs[i])
		}
		result := SequencerTableResult{ChannelPair: cp.Identifier()}
		if _, ok := cp.KnownPrograms()[programName]; ok {
			if err := cp.Arm(programName); err != nil {
				return nil, err
			}
			prog, err := cp.ReadCompleteProgram()
			if err != nil {
				return nil, err
			}
			result.Found = true
			if advanced {
				result.Advanced = prog.GetAdvancedSequencerTable()
			} else {
				result.Tables = prog.GetSequencerTables()
			}
		}
		results[i] = result

		if verbosity >= 1 {
			fmt.Printf("------- %s -------\n", cp.Identifier())
			switch {
			case !result.Found:
				fmt.Printf("program %q is not present\n", programName)
			case advanced:
				fmt.Print(spew.Sdump(result.Advanced))
			default:
				fmt.Print(spew.Sdump(result.Tables))
			}
		}
	}
	return results, nil
}
