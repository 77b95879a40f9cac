// Package pulses implements the composable pulse-template algebra: table
// pulses, constant (filler) pulses, and the sequence/repetition/mapping
// wrappers that combine them. Templates are parametrized by symbolic
// expressions and stay uncompiled until internal/program renders them.
package pulses

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantrolab/awgseq/internal/expr"
)

// Interpolation selects how a table entry reaches its voltage.
type Interpolation string

const (
	Hold   Interpolation = "hold"
	Linear Interpolation = "linear"
)

// Measurement is a named readout window (begin, length) in time units,
// passed through composition unmodified.
type Measurement struct {
	Name   string
	Begin  float64
	Length float64
}

// PulseTemplate is the common interface of all composable templates.
type PulseTemplate interface {
	// Identifier returns the template's name, or "" for anonymous templates.
	Identifier() string
	// Duration returns the template duration as a symbolic expression.
	Duration() *expr.Expression
	// ParameterNames returns the free parameter names, sorted.
	ParameterNames() []string
	// Measurements returns the measurement windows declared at this level.
	Measurements() []Measurement
}

// TableEntry is one (time, voltage) breakpoint of a TablePT channel.
type TableEntry struct {
	Time    *expr.Expression
	Voltage *expr.Expression
	Interp  Interpolation
}

// TablePT defines a pulse by per-channel voltage breakpoints.
type TablePT struct {
	identifier   string
	channels     map[string][]TableEntry
	measurements []Measurement
}

// NewTablePT builds a table pulse template. Entries of each channel must be
// listed in time order; the template duration is the largest final time over
// all channels.
func NewTablePT(identifier string, channels map[string][]TableEntry, measurements []Measurement) (*TablePT, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("pulses: table template %q has no channels", identifier)
	}
	for ch, entries := range channels {
		if len(entries) == 0 {
			return nil, fmt.Errorf("pulses: channel %q of template %q has no entries", ch, identifier)
		}
	}
	return &TablePT{identifier: identifier, channels: channels, measurements: measurements}, nil
}

func (t *TablePT) Identifier() string          { return t.identifier }
func (t *TablePT) Measurements() []Measurement { return t.measurements }

// Channels returns the per-channel entry lists.
func (t *TablePT) Channels() map[string][]TableEntry { return t.channels }

// ChannelNames returns the channel names, sorted.
func (t *TablePT) ChannelNames() []string {
	names := make([]string, 0, len(t.channels))
	for ch := range t.channels {
		names = append(names, ch)
	}
	sort.Strings(names)
	return names
}

func (t *TablePT) Duration() *expr.Expression {
	var d *expr.Expression
	for _, ch := range t.ChannelNames() {
		entries := t.channels[ch]
		last := entries[len(entries)-1].Time
		if d == nil {
			d = last
		} else {
			d = expr.Max(d, last)
		}
	}
	return d
}

func (t *TablePT) ParameterNames() []string {
	seen := make(map[string]bool)
	for _, entries := range t.channels {
		for _, e := range entries {
			for _, n := range e.Time.Names() {
				seen[n] = true
			}
			for _, n := range e.Voltage.Names() {
				seen[n] = true
			}
		}
	}
	return sortedNames(seen)
}

// ConstantPT holds one channel at a fixed level for a (possibly symbolic)
// duration. It is the natural filler pulse.
type ConstantPT struct {
	identifier string
	channel    string
	level      float64
	duration   *expr.Expression
}

// NewConstantPT builds a constant-level pulse on the named channel.
func NewConstantPT(identifier, channel string, level float64, duration *expr.Expression) *ConstantPT {
	return &ConstantPT{identifier: identifier, channel: channel, level: level, duration: duration}
}

func (c *ConstantPT) Identifier() string          { return c.identifier }
func (c *ConstantPT) Channel() string             { return c.channel }
func (c *ConstantPT) Level() float64              { return c.level }
func (c *ConstantPT) Duration() *expr.Expression  { return c.duration }
func (c *ConstantPT) ParameterNames() []string    { return c.duration.Names() }
func (c *ConstantPT) Measurements() []Measurement { return nil }

// SequencePT concatenates subtemplates in order.
type SequencePT struct {
	identifier   string
	subtemplates []PulseTemplate
	measurements []Measurement
}

// NewSequencePT builds a sequence of the given subtemplates.
func NewSequencePT(identifier string, subtemplates []PulseTemplate, measurements []Measurement) (*SequencePT, error) {
	if len(subtemplates) == 0 {
		return nil, fmt.Errorf("pulses: sequence template %q has no subtemplates", identifier)
	}
	return &SequencePT{identifier: identifier, subtemplates: subtemplates, measurements: measurements}, nil
}

func (s *SequencePT) Identifier() string            { return s.identifier }
func (s *SequencePT) Subtemplates() []PulseTemplate { return s.subtemplates }
func (s *SequencePT) Measurements() []Measurement   { return s.measurements }

func (s *SequencePT) Duration() *expr.Expression {
	d := s.subtemplates[0].Duration()
	for _, sub := range s.subtemplates[1:] {
		d = expr.Add(d, sub.Duration())
	}
	return d
}

func (s *SequencePT) ParameterNames() []string {
	seen := make(map[string]bool)
	for _, sub := range s.subtemplates {
		for _, n := range sub.ParameterNames() {
			seen[n] = true
		}
	}
	return sortedNames(seen)
}

// RepetitionPT repeats its body a (possibly symbolic) number of times.
type RepetitionPT struct {
	identifier string
	body       PulseTemplate
	count      *expr.Expression
}

// NewRepetitionPT wraps body in a repetition of the given count. Pass
// identifier "" for an anonymous wrapper.
func NewRepetitionPT(identifier string, body PulseTemplate, count *expr.Expression) *RepetitionPT {
	return &RepetitionPT{identifier: identifier, body: body, count: count}
}

// Repeat is NewRepetitionPT for a literal count.
func Repeat(body PulseTemplate, count int) *RepetitionPT {
	return NewRepetitionPT("", body, expr.ConstantInt(int64(count)))
}

func (r *RepetitionPT) Identifier() string          { return r.identifier }
func (r *RepetitionPT) Body() PulseTemplate         { return r.body }
func (r *RepetitionPT) Count() *expr.Expression     { return r.count }
func (r *RepetitionPT) Measurements() []Measurement { return nil }

func (r *RepetitionPT) Duration() *expr.Expression {
	return expr.Mul(r.count, r.body.Duration())
}

func (r *RepetitionPT) ParameterNames() []string {
	seen := make(map[string]bool)
	for _, n := range r.body.ParameterNames() {
		seen[n] = true
	}
	for _, n := range r.count.Names() {
		seen[n] = true
	}
	return sortedNames(seen)
}

// MappingPT rebinds a subset of its body's parameters to expressions over new
// parameter names. Unmapped body parameters pass through unchanged.
type MappingPT struct {
	identifier string
	body       PulseTemplate
	mapping    map[string]*expr.Expression
}

// NewMappingPT wraps body so that each mapped parameter is computed from the
// given expression. Mapping a parameter the body does not have is an error.
func NewMappingPT(identifier string, body PulseTemplate, mapping map[string]*expr.Expression) (*MappingPT, error) {
	bodyParams := make(map[string]bool)
	for _, n := range body.ParameterNames() {
		bodyParams[n] = true
	}
	for name := range mapping {
		if !bodyParams[name] {
			return nil, fmt.Errorf("pulses: mapping target %q is not a parameter of %q", name, describe(body))
		}
	}
	return &MappingPT{identifier: identifier, body: body, mapping: mapping}, nil
}

func (m *MappingPT) Identifier() string                   { return m.identifier }
func (m *MappingPT) Body() PulseTemplate                  { return m.body }
func (m *MappingPT) Mapping() map[string]*expr.Expression { return m.mapping }
func (m *MappingPT) Measurements() []Measurement          { return nil }

// Duration rewrites the body duration into outer-scope parameter names.
func (m *MappingPT) Duration() *expr.Expression {
	inner := m.body.Duration()
	return substitute(inner, m.mapping)
}

func (m *MappingPT) ParameterNames() []string {
	seen := make(map[string]bool)
	for _, n := range m.body.ParameterNames() {
		if e, ok := m.mapping[n]; ok {
			for _, outer := range e.Names() {
				seen[outer] = true
			}
		} else {
			seen[n] = true
		}
	}
	return sortedNames(seen)
}

// substitute replaces parameter references per the mapping, leaving unmapped
// names in place. All replacements happen simultaneously: a mapped value that
// mentions another mapped name (a swap {a->b, b->a}) must not be rewritten a
// second time, matching the two-scope evaluation in internal/program.
func substitute(e *expr.Expression, mapping map[string]*expr.Expression) *expr.Expression {
	if len(mapping) == 0 {
		return e
	}
	values := make(map[string]string, len(mapping))
	for name, repl := range mapping {
		values[name] = repl.String()
	}

	// Pick a placeholder prefix that collides with nothing in play.
	s := e.String()
	prefix := "_sub"
	for clashes(prefix, s, values) {
		prefix += "x"
	}

	// First rename every mapped name to a placeholder, then expand the
	// placeholders to the mapped expressions.
	placeholders := make(map[string]string, len(values))
	for i, name := range e.Names() {
		if _, ok := values[name]; !ok {
			continue
		}
		p := fmt.Sprintf("%s%d", prefix, i)
		s = replaceIdent(s, name, p)
		placeholders[p] = values[name]
	}
	for p, text := range placeholders {
		s = replaceIdent(s, p, text)
	}

	rewritten, err := expr.Parse(s)
	if err != nil {
		// The inputs were valid expressions, so this cannot happen; keep the
		// original rather than panic in a display path.
		return e
	}
	return rewritten
}

func clashes(prefix, s string, values map[string]string) bool {
	if strings.Contains(s, prefix) {
		return true
	}
	for _, v := range values {
		if strings.Contains(v, prefix) {
			return true
		}
	}
	return false
}

// replaceIdent replaces whole-identifier occurrences of name in s.
func replaceIdent(s, name, repl string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); {
		if matchesIdent(s, i, name) {
			out = append(out, '(')
			out = append(out, repl...)
			out = append(out, ')')
			i += len(name)
			continue
		}
		out = append(out, s[i])
		i++
	}
	return string(out)
}

func matchesIdent(s string, i int, name string) bool {
	if i+len(name) > len(s) || s[i:i+len(name)] != name {
		return false
	}
	if i > 0 && isWordByte(s[i-1]) {
		return false
	}
	if i+len(name) < len(s) && isWordByte(s[i+len(name)]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func sortedNames(seen map[string]bool) []string {
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func describe(t PulseTemplate) string {
	if id := t.Identifier(); id != "" {
		return id
	}
	return fmt.Sprintf("anonymous %T", t)
}
