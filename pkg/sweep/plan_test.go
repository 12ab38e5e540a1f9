package sweep

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func gains(steps []Step) []int {
	ret := make([]int, len(steps))
	for i, s := range steps {
		ret[i] = s.GainDB
	}
	return ret
}

func TestPowerSweepRepeats(t *testing.T) {
	plan, err := PowerSweep(1575e6, -50, 0, 10, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Repeat() {
		t.Fatal("power sweep should repeat")
	}

	want := []int{-50, -40, -30, -20, -10}
	if got := gains(plan.Steps()); !reflect.DeepEqual(got, want) {
		t.Fatalf("Steps() = %v, want %v", got, want)
	}

	for i := 0; i < 3*len(want); i++ {
		step, ok := plan.Next()
		if !ok {
			t.Fatalf("Next() exhausted at %d on a repeating plan", i)
		}
		if step.GainDB != want[i%len(want)] {
			t.Errorf("step %d gain = %d, want %d", i, step.GainDB, want[i%len(want)])
		}
		if step.FrequencyHz != 1575e6 {
			t.Errorf("step %d frequency = %v, want 1575e6", i, step.FrequencyHz)
		}
		if step.HoldDuration != 5*time.Second {
			t.Errorf("step %d hold = %v, want 5s", i, step.HoldDuration)
		}
	}
}

func TestPowerSweepStopAtIndex(t *testing.T) {
	plan, err := PowerSweep(1227e6, -50, 0, 10, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var last Step
	for plan.Index() <= 7 {
		last, _ = plan.Next()
	}
	if last.GainDB != -30 {
		t.Errorf("step at index 7 gain = %d, want -30", last.GainDB)
	}
	if plan.Index() != 8 {
		t.Errorf("Index() = %d, want 8", plan.Index())
	}
}

func TestFrequencySweepSinglePass(t *testing.T) {
	plan, err := FrequencySweep(-10, 1565e6, 1587e6, 2e6, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	var got []float64
	for {
		step, ok := plan.Next()
		if !ok {
			break
		}
		if step.GainDB != -10 {
			t.Errorf("gain = %d, want -10", step.GainDB)
		}
		got = append(got, step.FrequencyHz)
		if len(got) > 100 {
			t.Fatal("frequency sweep did not terminate")
		}
	}

	want := []float64{1565e6, 1567e6, 1569e6, 1571e6, 1573e6, 1575e6, 1577e6, 1579e6, 1581e6, 1583e6, 1585e6}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("frequencies = %v, want %v", got, want)
	}
	if _, ok := plan.Next(); ok {
		t.Error("Next() after exhaustion should stay exhausted")
	}

	plan.Reset()
	if step, ok := plan.Next(); !ok || step.FrequencyHz != 1565e6 {
		t.Errorf("Next() after Reset() = %v, %v", step, ok)
	}
}

func TestFrequencySweepDescending(t *testing.T) {
	plan, err := FrequencySweep(0, 10e6, 4e6, -2e6, 0)
	if err != nil {
		t.Fatal(err)
	}
	var got []float64
	for _, s := range plan.Steps() {
		got = append(got, s.FrequencyHz)
	}
	if want := []float64{10e6, 8e6, 6e6}; !reflect.DeepEqual(got, want) {
		t.Errorf("frequencies = %v, want %v", got, want)
	}
}

func TestNewPlanInvalid(t *testing.T) {
	tests := []struct {
		name   string
		steps  []Step
		repeat bool
	}{
		{"empty repeating", nil, true},
		{"negative hold", []Step{{FrequencyHz: 1e6}, {FrequencyHz: 2e6, HoldDuration: -time.Second}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewPlan(tt.steps, tt.repeat); !errors.Is(err, ErrInvalidPlan) {
				t.Errorf("NewPlan() error = %v, want ErrInvalidPlan", err)
			}
		})
	}
}

func TestNewPlanEmptyFinite(t *testing.T) {
	plan, err := NewPlan(nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := plan.Next(); ok {
		t.Error("empty finite plan yielded a step")
	}
}

func TestNewPlanCopiesSteps(t *testing.T) {
	steps := []Step{{FrequencyHz: 1e6, GainDB: -10}}
	plan, err := NewPlan(steps, false)
	if err != nil {
		t.Fatal(err)
	}
	steps[0].GainDB = 0
	if got, _ := plan.Next(); got.GainDB != -10 {
		t.Errorf("plan shares caller's slice, gain = %d", got.GainDB)
	}
}

func TestBuildersRejectBadIncrements(t *testing.T) {
	if _, err := PowerSweep(1e9, -50, 0, 0, time.Second); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("zero gain step: err = %v", err)
	}
	if _, err := PowerSweep(1e9, -50, 0, -10, time.Second); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("wrong-signed gain step: err = %v", err)
	}
	if _, err := PowerSweep(1e9, -10, -10, 10, time.Second); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("empty power sweep: err = %v", err)
	}
	if _, err := FrequencySweep(0, 1e9, 2e9, 0, time.Second); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("zero frequency step: err = %v", err)
	}
	if _, err := PowerSweep(1e9, -50, 0, 10, -time.Second); !errors.Is(err, ErrInvalidPlan) {
		t.Errorf("negative hold: err = %v", err)
	}
}

func TestSingleTone(t *testing.T) {
	finite, err := SingleTone(1090e6, -10, 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if finite.Repeat() || finite.Len() != 1 {
		t.Errorf("timed tone: repeat=%v len=%d", finite.Repeat(), finite.Len())
	}

	forever, err := SingleTone(1090e6, -10, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if s, ok := forever.Next(); !ok || s.FrequencyHz != 1090e6 {
			t.Fatalf("untimed tone Next() = %v, %v", s, ok)
		}
	}
}

func TestFrequencySweepWideRangeIsLazy(t *testing.T) {
	// 1 Hz steps across the Pluto tuning range: billions of steps, none built up front.
	plan, err := FrequencySweep(-20, 325e6, 3.8e9, 1, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Len() != 3475000000 {
		t.Fatalf("Len() = %d, want 3475000000", plan.Len())
	}
	if last, ok := plan.At(plan.Len() - 1); !ok || last.FrequencyHz != 3.8e9-1 {
		t.Errorf("At(last) = %v, %v", last, ok)
	}
	if _, ok := plan.At(plan.Len()); ok {
		t.Error("At(Len()) should be out of range")
	}
	for i := 0; i < 3; i++ {
		step, ok := plan.Next()
		if !ok || step.FrequencyHz != 325e6+float64(i) {
			t.Fatalf("Next() = %v, %v", step, ok)
		}
	}
}

func TestPowerSweepUnevenSpan(t *testing.T) {
	plan, err := PowerSweep(1e9, -50, 0, 15, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{-50, -35, -20, -5}; !reflect.DeepEqual(gains(plan.Steps()), want) {
		t.Errorf("gains = %v, want %v", gains(plan.Steps()), want)
	}

	down, err := PowerSweep(1e9, 0, -30, -10, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{0, -10, -20}; !reflect.DeepEqual(gains(down.Steps()), want) {
		t.Errorf("descending gains = %v, want %v", gains(down.Steps()), want)
	}
}
