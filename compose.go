package awgseq

import (
	"fmt"
	"math/big"

	"github.com/quantrolab/awgseq/internal/expr"
	"github.com/quantrolab/awgseq/internal/pulses"
)

// FillAuto is the fill_param token requesting an automatically computed
// filler duration: the composed pulse is padded up to the next segment
// quantum, with the hardware's minimum length guaranteed. Efficient to
// upload because segment lengths stay aligned.
const FillAuto = "auto"

// PulseRef names a pulse template either by registry name or directly.
type PulseRef struct {
	Name     string
	Template pulses.PulseTemplate
}

// ByName references a registry-stored template.
func ByName(name string) PulseRef { return PulseRef{Name: name} }

// ByTemplate references a template object directly.
func ByTemplate(t pulses.PulseTemplate) PulseRef { return PulseRef{Template: t} }

func (ref PulseRef) resolve(setup *Setup) (pulses.PulseTemplate, error) {
	if ref.Template != nil {
		return ref.Template, nil
	}
	if ref.Name == "" {
		return nil, fmt.Errorf("awgseq: empty pulse reference")
	}
	return setup.Registry.Load(ref.Name)
}

// ComposeConfig holds the recognized options of ComposePulse. The zero value
// of each field means "not requested": repetition count 0 is the
// no-repetition sentinel and empty strings disable filling, prefixing, and
// naming.
type ComposeConfig struct {
	// Pulses is filled in by ComposePulse with the original pulse list.
	Pulses []PulseRef

	// Repetitions holds the per-pulse repeat counts; 0 means no wrap.
	Repetitions []int
	// OuterRepetition repeats the whole sequence; 0 means a literal 1.
	OuterRepetition int

	// FillParam is the target total duration expression; "" disables
	// filling and FillAuto pads to the next segment quantum.
	FillParam string
	// FillTimeMin is a lower bound expression on the filler duration;
	// "" means none.
	FillTimeMin string
	// FillPulseParam names the filler pulse's duration parameter.
	FillPulseParam string
	// FillPulse is the filler pulse; when empty a constant-zero pulse on
	// channel "A" with duration parameter FillPulseParam is used.
	FillPulse PulseRef

	// Measurements are attached to the composed sequence unmodified.
	Measurements []pulses.Measurement

	// Prefix, when non-empty, is prepended to every free parameter name.
	Prefix string
	// Identifier, when non-empty, names the outermost wrapper.
	Identifier string

	// SampleRate, MinSamples and SampleQuantum override the setup values
	// for the FillAuto computation when non-zero.
	SampleRate    float64
	MinSamples    int
	SampleQuantum int
}

// ComposePulse assembles the given pulses into one composite template:
// per-pulse and outer repetitions, optional filler padding to a target
// duration, and optional parameter prefixing. It returns the composite
// pulse plus the fully resolved configuration.
func ComposePulse(refs []PulseRef, cfg ComposeConfig) (pulses.PulseTemplate, ComposeConfig, error) {
	setup, err := getSetup()
	if err != nil {
		return nil, cfg, err
	}
	cfg.Pulses = refs
	if cfg.SampleRate == 0 {
		cfg.SampleRate = setup.SampleRate
	}
	if cfg.MinSamples == 0 {
		cfg.MinSamples = setup.MinSamples
	}
	if cfg.SampleQuantum == 0 {
		cfg.SampleQuantum = setup.SampleQuantum
	}
	if cfg.FillPulseParam == "" {
		cfg.FillPulseParam = "t_fill"
	}

	// Per-pulse resolution and repetition wrapping.
	entries := make([]pulses.PulseTemplate, 0, len(refs))
	for i, ref := range refs {
		t, err := ref.resolve(setup)
		if err != nil {
			return nil, cfg, err
		}
		if i < len(cfg.Repetitions) && cfg.Repetitions[i] != 0 {
			t = pulses.Repeat(t, cfg.Repetitions[i])
		}
		entries = append(entries, t)
	}

	seq, err := pulses.NewSequencePT("", entries, cfg.Measurements)
	if err != nil {
		return nil, cfg, err
	}
	// Normalization wrap: downstream consumers always see a repetition.
	var composite pulses.PulseTemplate = pulses.Repeat(seq, 1)

	if cfg.FillParam != "" {
		composite, err = prependFiller(setup, composite, &cfg)
		if err != nil {
			return nil, cfg, err
		}
	}

	if cfg.Prefix != "" {
		mapping := make(map[string]*expr.Expression)
		for _, name := range composite.ParameterNames() {
			mapping[name] = expr.Parameter(cfg.Prefix + name)
		}
		composite, err = pulses.NewMappingPT("", composite, mapping)
		if err != nil {
			return nil, cfg, err
		}
	}

	outer := cfg.OuterRepetition
	if outer == 0 {
		outer = 1
	}
	composite = pulses.NewRepetitionPT(cfg.Identifier, composite, expr.ConstantInt(int64(outer)))
	return composite, cfg, nil
}

// prependFiller computes the filler duration per cfg and prepends the filler
// pulse, with its duration parameter bound through a partial mapping.
func prependFiller(setup *Setup, composite pulses.PulseTemplate, cfg *ComposeConfig) (pulses.PulseTemplate, error) {
	duration := composite.Duration()

	var fill *expr.Expression
	if cfg.FillParam == FillAuto {
		computed, err := autoFillDuration(duration, cfg)
		if err != nil {
			return nil, err
		}
		fill = computed
	} else {
		target, err := expr.Parse(cfg.FillParam)
		if err != nil {
			return nil, fmt.Errorf("awgseq: fill_param: %w", err)
		}
		fill = expr.Sub(target, duration)
	}

	if cfg.FillTimeMin != "" {
		floor, err := expr.Parse(cfg.FillTimeMin)
		if err != nil {
			return nil, fmt.Errorf("awgseq: fill_time_min: %w", err)
		}
		fill = expr.Max(fill, floor)
	}

	var fillPulse pulses.PulseTemplate
	if cfg.FillPulse.Name == "" && cfg.FillPulse.Template == nil {
		fillPulse = pulses.NewConstantPT("fill", "A", 0, expr.Parameter(cfg.FillPulseParam))
	} else {
		var err error
		fillPulse, err = cfg.FillPulse.resolve(setup)
		if err != nil {
			return nil, err
		}
	}
	bound, err := pulses.NewMappingPT("", fillPulse, map[string]*expr.Expression{
		cfg.FillPulseParam: fill,
	})
	if err != nil {
		return nil, err
	}
	return pulses.NewSequencePT("", []pulses.PulseTemplate{bound, composite}, nil)
}

// autoFillDuration implements the FillAuto formula: round the overshoot past
// the minimum length up to the next quantum boundary,
//
//	fill = ceil(max(d - minSamples/rate, 0) / (quantum/rate)) * quantum/rate
//	       + minSamples/rate - d
//
// so the total duration is at least minSamples/rate and lands on a quantum
// boundary. The composed duration must be numerically evaluable here.
func autoFillDuration(duration *expr.Expression, cfg *ComposeConfig) (*expr.Expression, error) {
	d, err := duration.Evaluate(nil)
	if err != nil {
		return nil, fmt.Errorf("awgseq: auto fill needs a numeric duration: %w", err)
	}
	rate := new(big.Rat)
	rate.SetFloat64(cfg.SampleRate)
	if rate.Sign() <= 0 {
		return nil, fmt.Errorf("awgseq: auto fill needs a positive sample rate, got %g", cfg.SampleRate)
	}
	minDur := new(big.Rat).Quo(big.NewRat(int64(cfg.MinSamples), 1), rate)
	quantum := new(big.Rat).Quo(big.NewRat(int64(cfg.SampleQuantum), 1), rate)

	overshoot := new(big.Rat).Sub(d, minDur)
	if overshoot.Sign() < 0 {
		overshoot.SetInt64(0)
	}
	steps := ratCeilQuo(overshoot, quantum)
	fill := new(big.Rat).Mul(steps, quantum)
	fill.Add(fill, minDur)
	fill.Sub(fill, d)
	return expr.Constant(fill), nil
}

// ratCeilQuo returns ceil(a/b) for rationals.
func ratCeilQuo(a, b *big.Rat) *big.Rat {
	q := new(big.Rat).Quo(new(big.Rat).Set(a), b)
	num, den := q.Num(), q.Denom()
	i := new(big.Int).Quo(num, den)
	if new(big.Int).Rem(num, den).Sign() > 0 {
		i.Add(i, big.NewInt(1))
	}
	return new(big.Rat).SetInt(i)
}
