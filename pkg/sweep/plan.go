package sweep

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPlan is returned when a plan cannot be constructed from its steps.
var ErrInvalidPlan = errors.New("invalid sweep plan")

// Step is one (frequency, gain, hold) configuration of a sweep.
type Step struct {
	FrequencyHz  float64
	GainDB       int
	HoldDuration time.Duration
}

// Plan is an ordered sequence of steps with a cursor. A repeating plan restarts from
// the first step after the last and never runs out. Range plans compute each step on
// demand, so their length is not limited by memory.
//
// A Plan is not safe for concurrent use; each session drives its own.
type Plan struct {
	n      int
	at     func(i int) Step
	repeat bool

	pos     int
	yielded int
}

// NewPlan copies steps into a new plan. An empty repeating plan and negative hold
// durations are rejected.
func NewPlan(steps []Step, repeat bool) (*Plan, error) {
	for i, s := range steps {
		if s.HoldDuration < 0 {
			return nil, fmt.Errorf("%w: step %d has negative hold duration %s", ErrInvalidPlan, i, s.HoldDuration)
		}
	}

	owned := make([]Step, len(steps))
	copy(owned, steps)
	return newPlan(len(owned), func(i int) Step { return owned[i] }, repeat)
}

func newPlan(n int, at func(i int) Step, repeat bool) (*Plan, error) {
	if repeat && n == 0 {
		return nil, fmt.Errorf("%w: a repeating plan needs at least one step", ErrInvalidPlan)
	}
	return &Plan{n: n, at: at, repeat: repeat}, nil
}

// Next returns the next step. The second value is false once a finite plan is exhausted.
func (p *Plan) Next() (Step, bool) {
	if p.pos >= p.n {
		if !p.repeat || p.n == 0 {
			return Step{}, false
		}
		p.pos = 0
	}

	s := p.at(p.pos)
	p.pos++
	p.yielded++
	return s, true
}

// Reset rewinds the cursor to the first step.
func (p *Plan) Reset() {
	p.pos = 0
	p.yielded = 0
}

// Index returns how many steps Next has yielded since construction or the last Reset.
func (p *Plan) Index() int {
	return p.yielded
}

func (p *Plan) Len() int {
	return p.n
}

func (p *Plan) Repeat() bool {
	return p.repeat
}

// At returns step i of one pass without moving the cursor.
func (p *Plan) At(i int) (Step, bool) {
	if i < 0 || i >= p.n {
		return Step{}, false
	}
	return p.at(i), true
}

// Steps materialises one pass of the plan. Prefer Next or At for long range plans.
func (p *Plan) Steps() []Step {
	ret := make([]Step, p.n)
	for i := range ret {
		ret[i] = p.at(i)
	}
	return ret
}
