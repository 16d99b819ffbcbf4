package features

import (
	"math"
	"testing"
)

func reading(ts int64, power, energy float64) Reading {
	return Reading{TimestampMS: &ts, PowerKW: &power, EnergyKWh: &energy}
}

func TestTrackerFirstSampleHasNoDeltas(t *testing.T) {
	tracker := NewTracker()

	enriched := tracker.Observe(reading(1000, 10, 0.5))
	if enriched.DTms != nil || enriched.DPower != nil || enriched.DEnergy != nil {
		t.Fatalf("first sample should have no deltas: %+v", enriched)
	}
	if enriched.PowerMA3 != 10 {
		t.Fatalf("moving average of a single sample should equal the sample, got %v", enriched.PowerMA3)
	}
	if enriched.PowerZ != 0 {
		t.Fatalf("z-score with one sample should be 0, got %v", enriched.PowerZ)
	}
}

func TestTrackerClampsTimeDelta(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe(reading(5000, 10, 1))
	tracker.Commit()

	enriched := tracker.Observe(reading(5000, 11, 1.1))
	if enriched.DTms == nil || *enriched.DTms != 1 {
		t.Fatalf("equal timestamps should clamp dt to 1, got %v", enriched.DTms)
	}
	tracker.Commit()

	enriched = tracker.Observe(reading(3000, 12, 1.2))
	if enriched.DTms == nil || *enriched.DTms != 1 {
		t.Fatalf("decreasing timestamp should clamp dt to 1, got %v", enriched.DTms)
	}
}

func TestTrackerConstantWindowHasZeroZScore(t *testing.T) {
	tracker := NewTracker()
	for i := int64(0); i < 3; i++ {
		enriched := tracker.Observe(reading(1000+i*2000, 10, float64(i)))
		tracker.Commit()
		if enriched.PowerZ != 0 {
			t.Fatalf("constant power must score z=0, got %v", enriched.PowerZ)
		}
	}
}

func TestTrackerWindowStats(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe(reading(1000, 10, 1))
	tracker.Commit()

	enriched := tracker.Observe(reading(3000, 20, 2))
	if enriched.PowerMA3 != 15 {
		t.Fatalf("average of [10,20] should be 15, got %v", enriched.PowerMA3)
	}
	if enriched.PowerZ <= 0 {
		t.Fatalf("z-score of 20 against [10,20] should be positive, got %v", enriched.PowerZ)
	}
	if math.Abs(enriched.PowerZ-1) > 1e-9 {
		t.Fatalf("expected z-score 1, got %v", enriched.PowerZ)
	}
	if enriched.DPower == nil || *enriched.DPower != 10 {
		t.Fatalf("power delta should be 10, got %v", enriched.DPower)
	}
	if enriched.DEnergy == nil || *enriched.DEnergy != 1 {
		t.Fatalf("energy delta should be 1, got %v", enriched.DEnergy)
	}
	if enriched.DTms == nil || *enriched.DTms != 2000 {
		t.Fatalf("time delta should be 2000, got %v", enriched.DTms)
	}
}

func TestTrackerWindowEvictsOldest(t *testing.T) {
	tracker := NewTracker()
	for i, p := range []float64{1, 2, 3, 30} {
		tracker.Observe(reading(int64(i)*1000, p, float64(i)))
		tracker.Commit()
	}

	// Window now holds [2,3,30]; the first sample is gone.
	enriched := tracker.Observe(reading(5000, 30, 5))
	want := (3.0 + 30 + 30) / 3
	if math.Abs(enriched.PowerMA3-want) > 1e-9 {
		t.Fatalf("expected window [3,30,30] average %v, got %v", want, enriched.PowerMA3)
	}
}

func TestTrackerCommitGatesPreviousSample(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe(reading(1000, 10, 1))
	tracker.Commit()

	// Observed but never committed: the rejected sample must not become
	// the comparison baseline.
	tracker.Observe(reading(9000, 50, 0.2))

	enriched := tracker.Observe(reading(3000, 12, 1.2))
	if enriched.DTms == nil || *enriched.DTms != 2000 {
		t.Fatalf("uncommitted sample leaked into dt: %v", enriched.DTms)
	}
	if enriched.DPower == nil || *enriched.DPower != 2 {
		t.Fatalf("uncommitted sample leaked into d_power: %v", enriched.DPower)
	}
}

func TestTrackerPartialReadingKeepsOtherFields(t *testing.T) {
	tracker := NewTracker()
	tracker.Observe(reading(1000, 10, 1))
	tracker.Commit()

	ts := int64(3000)
	tracker.Observe(Reading{TimestampMS: &ts})
	tracker.Commit()

	enriched := tracker.Observe(reading(5000, 16, 1.5))
	if enriched.DPower == nil || *enriched.DPower != 6 {
		t.Fatalf("previous power should survive a power-less sample, got %v", enriched.DPower)
	}
	if enriched.DTms == nil || *enriched.DTms != 2000 {
		t.Fatalf("timestamp should have advanced with the partial sample, got %v", enriched.DTms)
	}
}
