package pulses

import (
	"encoding/json"
	"fmt"

	"github.com/quantrolab/awgseq/internal/expr"
)

// jsonTemplate is the on-disk form of any template kind, discriminated by
// Type. Expressions are stored in their parseable string form.
type jsonTemplate struct {
	Type         string                 `json:"type"`
	Identifier   string                 `json:"identifier,omitempty"`
	Channels     map[string][]jsonEntry `json:"channels,omitempty"`     // table
	Channel      string                 `json:"channel,omitempty"`      // constant
	Level        float64                `json:"level,omitempty"`        // constant
	Duration     string                 `json:"duration,omitempty"`     // constant
	Subtemplates []*jsonTemplate        `json:"subtemplates,omitempty"` // sequence
	Body         *jsonTemplate          `json:"body,omitempty"`         // repetition, mapping
	Count        string                 `json:"count,omitempty"`        // repetition
	Mapping      map[string]string      `json:"mapping,omitempty"`      // mapping
	Measurements []Measurement          `json:"measurements,omitempty"`
}

type jsonEntry struct {
	Time    string        `json:"t"`
	Voltage string        `json:"v"`
	Interp  Interpolation `json:"interp,omitempty"`
}

// MarshalTemplate encodes a template (of any kind) as JSON.
func MarshalTemplate(t PulseTemplate) ([]byte, error) {
	jt, err := toJSON(t)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(jt, "", "  ")
}

// UnmarshalTemplate decodes a template previously encoded by MarshalTemplate.
func UnmarshalTemplate(data []byte) (PulseTemplate, error) {
	var jt jsonTemplate
	if err := json.Unmarshal(data, &jt); err != nil {
		return nil, fmt.Errorf("pulses: bad template JSON: %w", err)
	}
	return fromJSON(&jt)
}

func toJSON(t PulseTemplate) (*jsonTemplate, error) {
	switch pt := t.(type) {
	case *TablePT:
		channels := make(map[string][]jsonEntry, len(pt.channels))
		for ch, entries := range pt.channels {
			rows := make([]jsonEntry, len(entries))
			for i, e := range entries {
				interp := e.Interp
				if interp == Hold {
					interp = "" // hold is the default; keep files terse
				}
				rows[i] = jsonEntry{Time: e.Time.String(), Voltage: e.Voltage.String(), Interp: interp}
			}
			channels[ch] = rows
		}
		return &jsonTemplate{Type: "table", Identifier: pt.identifier,
			Channels: channels, Measurements: pt.measurements}, nil

	case *ConstantPT:
		return &jsonTemplate{Type: "constant", Identifier: pt.identifier,
			Channel: pt.channel, Level: pt.level, Duration: pt.duration.String()}, nil

	case *SequencePT:
		subs := make([]*jsonTemplate, len(pt.subtemplates))
		for i, sub := range pt.subtemplates {
			jt, err := toJSON(sub)
			if err != nil {
				return nil, err
			}
			subs[i] = jt
		}
		return &jsonTemplate{Type: "sequence", Identifier: pt.identifier,
			Subtemplates: subs, Measurements: pt.measurements}, nil

	case *RepetitionPT:
		body, err := toJSON(pt.body)
		if err != nil {
			return nil, err
		}
		return &jsonTemplate{Type: "repetition", Identifier: pt.identifier,
			Body: body, Count: pt.count.String()}, nil

	case *MappingPT:
		body, err := toJSON(pt.body)
		if err != nil {
			return nil, err
		}
		mapping := make(map[string]string, len(pt.mapping))
		for name, e := range pt.mapping {
			mapping[name] = e.String()
		}
		return &jsonTemplate{Type: "mapping", Identifier: pt.identifier,
			Body: body, Mapping: mapping}, nil
	}
	return nil, fmt.Errorf("pulses: cannot serialize template type %T", t)
}

func fromJSON(jt *jsonTemplate) (PulseTemplate, error) {
	switch jt.Type {
	case "table":
		channels := make(map[string][]TableEntry, len(jt.Channels))
		for ch, rows := range jt.Channels {
			entries := make([]TableEntry, len(rows))
			for i, row := range rows {
				t, err := expr.Parse(row.Time)
				if err != nil {
					return nil, fmt.Errorf("pulses: channel %q entry %d: %w", ch, i, err)
				}
				v, err := expr.Parse(row.Voltage)
				if err != nil {
					return nil, fmt.Errorf("pulses: channel %q entry %d: %w", ch, i, err)
				}
				interp := row.Interp
				if interp == "" {
					interp = Hold
				}
				entries[i] = TableEntry{Time: t, Voltage: v, Interp: interp}
			}
			channels[ch] = entries
		}
		return NewTablePT(jt.Identifier, channels, jt.Measurements)

	case "constant":
		d, err := expr.Parse(jt.Duration)
		if err != nil {
			return nil, fmt.Errorf("pulses: constant duration: %w", err)
		}
		return NewConstantPT(jt.Identifier, jt.Channel, jt.Level, d), nil

	case "sequence":
		subs := make([]PulseTemplate, len(jt.Subtemplates))
		for i, sjt := range jt.Subtemplates {
			sub, err := fromJSON(sjt)
			if err != nil {
				return nil, err
			}
			subs[i] = sub
		}
		return NewSequencePT(jt.Identifier, subs, jt.Measurements)

	case "repetition":
		body, err := fromJSON(jt.Body)
		if err != nil {
			return nil, err
		}
		count, err := expr.Parse(jt.Count)
		if err != nil {
			return nil, fmt.Errorf("pulses: repetition count: %w", err)
		}
		return NewRepetitionPT(jt.Identifier, body, count), nil

	case "mapping":
		body, err := fromJSON(jt.Body)
		if err != nil {
			return nil, err
		}
		mapping := make(map[string]*expr.Expression, len(jt.Mapping))
		for name, text := range jt.Mapping {
			e, err := expr.Parse(text)
			if err != nil {
				return nil, fmt.Errorf("pulses: mapping for %q: %w", name, err)
			}
			mapping[name] = e
		}
		return NewMappingPT(jt.Identifier, body, mapping)
	}
	return nil, fmt.Errorf("pulses: unknown template type %q", jt.Type)
}
