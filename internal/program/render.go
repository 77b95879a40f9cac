package program

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"

	"github.com/quantrolab/awgseq/internal/pulses"
)

// Render samples one channel of the waveform at the given sample rate.
// Sample k is taken at time k/sampleRate; the count covers the full waveform
// duration.
func (w *Waveform) Render(channel string, sampleRate float64) ([]float64, error) {
	bps, ok := w.Channels[channel]
	if !ok {
		return nil, fmt.Errorf("program: waveform has no channel %q", channel)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("program: sample rate %g must be positive", sampleRate)
	}
	dur, _ := w.Duration.Float64()
	n := int(math.Round(dur * sampleRate))
	if n < 1 {
		n = 1
	}
	times := make([]float64, n)
	for k := range times {
		times[k] = float64(k) / sampleRate
	}
	return sampleBreakpoints(bps, times)
}

func sampleBreakpoints(bps []Breakpoint, times []float64) ([]float64, error) {
	if len(bps) == 0 {
		return nil, fmt.Errorf("program: cannot sample an empty channel")
	}
	if pl, ok := fitLinear(bps); ok {
		out := make([]float64, len(times))
		last := bps[len(bps)-1]
		for k, t := range times {
			if t >= last.Time {
				out[k] = last.Voltage
				continue
			}
			out[k] = pl.Predict(t)
		}
		return out, nil
	}

	// Mixed hold/linear segments, or repeated breakpoint times (steps).
	out := make([]float64, len(times))
	for k, t := range times {
		out[k] = valueAt(bps, t)
	}
	return out, nil
}

// fitLinear returns a gonum piecewise-linear predictor when every segment is
// linear and the breakpoint times strictly increase.
func fitLinear(bps []Breakpoint) (*interp.PiecewiseLinear, bool) {
	if len(bps) < 2 {
		return nil, false
	}
	xs := make([]float64, len(bps))
	ys := make([]float64, len(bps))
	for i, bp := range bps {
		if i > 0 && (bp.Interp != pulses.Linear || bp.Time <= bps[i-1].Time) {
			return nil, false
		}
		xs[i] = bp.Time
		ys[i] = bp.Voltage
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, ys); err != nil {
		return nil, false
	}
	return &pl, true
}

func valueAt(bps []Breakpoint, t float64) float64 {
	if t <= bps[0].Time {
		return bps[0].Voltage
	}
	for i := 1; i < len(bps); i++ {
		if t >= bps[i].Time {
			continue
		}
		prev, next := bps[i-1], bps[i]
		if next.Interp == pulses.Linear && next.Time > prev.Time {
			frac := (t - prev.Time) / (next.Time - prev.Time)
			return prev.Voltage + frac*(next.Voltage-prev.Voltage)
		}
		return prev.Voltage
	}
	return bps[len(bps)-1].Voltage
}
