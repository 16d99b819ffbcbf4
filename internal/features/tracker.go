// Package features computes the streaming derived features for metrics
// samples: deltas against the previous sample and a short moving window
// over power with mean, variance, and z-score.
package features

import "math"

const windowSize = 3

// Reading is the subset of a metrics sample the tracker consumes. Absent
// fields stay nil and simply produce no delta.
type Reading struct {
	TimestampMS *int64
	PowerKW     *float64
	EnergyKWh   *float64
}

// Enriched holds the derived fields for one sample. Delta fields are nil
// until a previous sample exists for comparison; downstream consumers
// report them as zero.
type Enriched struct {
	DTms     *int64
	DPower   *float64
	DEnergy  *float64
	PowerMA3 float64
	PowerZ   float64
}

// DTValue returns the time delta, or zero when no previous sample exists.
func (e Enriched) DTValue() float64 {
	if e.DTms == nil {
		return 0
	}
	return float64(*e.DTms)
}

// DPowerValue returns the power delta with a zero default.
func (e Enriched) DPowerValue() float64 {
	if e.DPower == nil {
		return 0
	}
	return *e.DPower
}

// DEnergyValue returns the energy delta with a zero default.
func (e Enriched) DEnergyValue() float64 {
	if e.DEnergy == nil {
		return 0
	}
	return *e.DEnergy
}

// Tracker maintains one connection's previous-sample state and the sliding
// power window. Observe computes the enrichment and stages the
// previous-sample update; the caller decides whether to Commit it. The
// window itself advances on Observe and is never rolled back.
type Tracker struct {
	prevTS     *int64
	prevPower  *float64
	prevEnergy *float64
	window     []float64

	staged    Reading
	hasStaged bool
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{window: make([]float64, 0, windowSize)}
}

// Observe derives features for the reading against the tracked state. The
// reading is staged as the next previous-sample; call Commit to apply it.
func (t *Tracker) Observe(r Reading) Enriched {
	var e Enriched

	if t.prevTS != nil && r.TimestampMS != nil {
		dt := *r.TimestampMS - *t.prevTS
		if dt < 1 {
			dt = 1
		}
		e.DTms = &dt
	}
	if t.prevPower != nil && r.PowerKW != nil {
		d := *r.PowerKW - *t.prevPower
		e.DPower = &d
	}
	if t.prevEnergy != nil && r.EnergyKWh != nil {
		d := *r.EnergyKWh - *t.prevEnergy
		e.DEnergy = &d
	}

	if r.PowerKW != nil {
		t.window = append(t.window, *r.PowerKW)
		if len(t.window) > windowSize {
			t.window = t.window[1:]
		}
	}

	power := 0.0
	if r.PowerKW != nil {
		power = *r.PowerKW
	}

	if len(t.window) > 0 {
		sum := 0.0
		for _, v := range t.window {
			sum += v
		}
		e.PowerMA3 = sum / float64(len(t.window))
	} else {
		e.PowerMA3 = power
	}

	std := 0.0
	if len(t.window) > 1 {
		variance := 0.0
		for _, v := range t.window {
			d := v - e.PowerMA3
			variance += d * d
		}
		variance /= float64(len(t.window))
		std = math.Sqrt(variance)
	}
	if std != 0 {
		e.PowerZ = (power - e.PowerMA3) / std
	}

	t.staged = r
	t.hasStaged = true
	return e
}

// Commit applies the staged previous-sample update for the fields present
// in the last observed reading. The online path commits only when a sample
// did not trigger a stop; the offline preparation path commits every row.
func (t *Tracker) Commit() {
	if !t.hasStaged {
		return
	}
	if t.staged.TimestampMS != nil {
		t.prevTS = t.staged.TimestampMS
	}
	if t.staged.PowerKW != nil {
		t.prevPower = t.staged.PowerKW
	}
	if t.staged.EnergyKWh != nil {
		t.prevEnergy = t.staged.EnergyKWh
	}
	t.hasStaged = false
}
