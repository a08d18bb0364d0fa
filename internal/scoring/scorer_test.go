package scoring

import "testing"

func TestScoreIsDeterministic(t *testing.T) {
	ev := Evidence{CurrentValue: 1300, BaselineValue: 1000, SampleSize: 7, ExpectedSampleSize: 7, DataAgeHours: 1, DetectorPrior: 5}
	total1, _ := Score(ev)
	total2, _ := Score(ev)
	if total1 != total2 {
		t.Fatalf("Score() not stable: %d != %d", total1, total2)
	}
}

func TestScoreClampedToRange(t *testing.T) {
	ev := Evidence{CurrentValue: 1_000_000, BaselineValue: 1, SampleSize: 100, ExpectedSampleSize: 1, DataAgeHours: 0, DetectorPrior: 10}
	total, breakdown := Score(ev)
	if total < 0 || total > 100 {
		t.Fatalf("Score() = %d, want within [0,100]", total)
	}
	if len(breakdown.Checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(breakdown.Checks))
	}
}

func TestZeroSignalYieldsOnlyBaselineTerms(t *testing.T) {
	ev := Evidence{CurrentValue: 1000, BaselineValue: 1000, SampleSize: 0, ExpectedSampleSize: 7, DataAgeHours: 20, DetectorPrior: 5}
	total, breakdown := Score(ev)
	if total != 5 {
		t.Fatalf("Score() = %d, want 5 (prior only)", total)
	}
	for _, c := range breakdown.Checks {
		if c.Name == "detector_prior" && c.Points != 5 {
			t.Errorf("detector_prior points = %v, want 5", c.Points)
		}
	}
}

func TestDefaultPriorAppliedWhenUnset(t *testing.T) {
	ev := Evidence{CurrentValue: 1000, BaselineValue: 1000, SampleSize: 0, ExpectedSampleSize: 7, DataAgeHours: 20}
	total, _ := Score(ev)
	if total != 5 {
		t.Fatalf("Score() = %d, want 5 (default prior)", total)
	}
}
