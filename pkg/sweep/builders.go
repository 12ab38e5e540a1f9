package sweep

import (
	"fmt"
	"math"
	"time"
)

// maxRangeSteps bounds a frequency range so its step count stays exact in float64.
const maxRangeSteps = 1 << 52

// PowerSweep holds frequencyHz while stepping gain from startGainDB up to (but excluding)
// stopGainDB. The sweep repeats until its session is cancelled.
func PowerSweep(frequencyHz float64, startGainDB, stopGainDB, stepGainDB int, hold time.Duration) (*Plan, error) {
	if stepGainDB == 0 || (stopGainDB-startGainDB)*stepGainDB < 0 {
		return nil, fmt.Errorf("%w: gain step %d cannot reach %d from %d", ErrInvalidPlan, stepGainDB, stopGainDB, startGainDB)
	}
	if hold < 0 {
		return nil, fmt.Errorf("%w: negative hold duration %s", ErrInvalidPlan, hold)
	}

	span, step := stopGainDB-startGainDB, stepGainDB
	if step < 0 {
		span, step = -span, -step
	}
	n := (span + step - 1) / step

	return newPlan(n, func(i int) Step {
		return Step{
			FrequencyHz:  frequencyHz,
			GainDB:       startGainDB + i*stepGainDB,
			HoldDuration: hold,
		}
	}, true)
}

// FrequencySweep holds gainDB while stepping frequency from startFreqHz up to (but
// excluding) stopFreqHz. The sweep makes a single pass.
func FrequencySweep(gainDB int, startFreqHz, stopFreqHz, stepFreqHz float64, hold time.Duration) (*Plan, error) {
	if stepFreqHz == 0 || (stopFreqHz-startFreqHz)*stepFreqHz < 0 || math.IsNaN(stepFreqHz) {
		return nil, fmt.Errorf("%w: frequency step %.0f cannot reach %.0f from %.0f", ErrInvalidPlan, stepFreqHz, stopFreqHz, startFreqHz)
	}
	if hold < 0 {
		return nil, fmt.Errorf("%w: negative hold duration %s", ErrInvalidPlan, hold)
	}

	freq := func(i int) float64 { return startFreqHz + float64(i)*stepFreqHz }

	// Steps are indexed rather than accumulated so float error cannot add or drop a
	// step near stop; the estimate is nudged until it matches the index condition.
	est := math.Ceil((stopFreqHz - startFreqHz) / stepFreqHz)
	if math.IsNaN(est) || est > maxRangeSteps {
		return nil, fmt.Errorf("%w: frequency sweep has too many steps", ErrInvalidPlan)
	}
	n := int(est)
	for before(freq(n), stopFreqHz, stepFreqHz) {
		n++
	}
	for n > 0 && !before(freq(n-1), stopFreqHz, stepFreqHz) {
		n--
	}

	return newPlan(n, func(i int) Step {
		return Step{
			FrequencyHz:  freq(i),
			GainDB:       gainDB,
			HoldDuration: hold,
		}
	}, false)
}

// SingleTone transmits one configuration. A zero hold transmits until cancelled.
func SingleTone(frequencyHz float64, gainDB int, hold time.Duration) (*Plan, error) {
	step := Step{
		FrequencyHz:  frequencyHz,
		GainDB:       gainDB,
		HoldDuration: hold,
	}
	if hold == 0 {
		step.HoldDuration = time.Second
		return NewPlan([]Step{step}, true)
	}
	return NewPlan([]Step{step}, false)
}

// before reports whether v has not yet reached stop when moving in the direction of step.
func before(v, stop, step float64) bool {
	if step > 0 {
		return v < stop
	}
	return v > stop
}
