package sequencer

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidBPM is returned for tempos that are not positive numbers.
var ErrInvalidBPM = errors.New("bpm must be a positive number")

// Tempo limits for user-facing controls.
const (
	MinBPM = 20
	MaxBPM = 300
)

// Clock maps step numbers to wall-clock times for one tempo. It is a plain
// value owned by the engine goroutine.
type Clock struct {
	bpm           float64
	start         time.Time
	scheduledUpTo time.Time
	cursor        int64 // next step to schedule, not wrapped
}

// NewClock returns a clock at bpm whose step 0 falls on now.
func NewClock(bpm float64, now time.Time) Clock {
	c := Clock{bpm: bpm}
	c.Reset(now)
	return c
}

func (c *Clock) BPM() float64 { return c.bpm }

// SetBPM changes the tempo. Callers reset the clock afterwards.
func (c *Clock) SetBPM(bpm float64) { c.bpm = bpm }

// Cursor returns the next step to be scheduled.
func (c *Clock) Cursor() int64 { return c.cursor }

// Start returns the time of step 0.
func (c *Clock) Start() time.Time { return c.start }

// minStep is the shortest step Pump will schedule.
const minStep = time.Millisecond

// StepDuration is 60/bpm seconds. A tempo that is not a positive finite
// number, or so fast a step would be shorter than minStep, plays at one
// step per second.
func (c *Clock) StepDuration() time.Duration {
	if !validBPM(c.bpm) {
		return time.Second
	}
	d := time.Duration(float64(time.Minute) / c.bpm)
	if d < minStep {
		return time.Second
	}
	return d
}

func validBPM(b float64) bool {
	return b > 0 && !math.IsInf(b, 0)
}

// Reset restarts the step count at now.
func (c *Clock) Reset(now time.Time) {
	c.start = now
	c.scheduledUpTo = now
	c.cursor = 0
}

// StepTime returns when a step sounds.
func (c *Clock) StepTime(step int64) time.Time {
	return c.start.Add(time.Duration(step) * c.StepDuration())
}

// Pump hands every step that falls before now+lookahead to fn, in order,
// and returns how many were produced.
func (c *Clock) Pump(now time.Time, lookahead time.Duration, fn func(step int64, at time.Time)) int {
	horizon := now.Add(lookahead)
	n := 0
	for c.scheduledUpTo.Before(horizon) {
		at := c.StepTime(c.cursor)
		fn(c.cursor, at)
		c.scheduledUpTo = at
		c.cursor++
		n++
	}
	return n
}

// ParseBPM validates a tempo typed by the user.
func ParseBPM(s string) (float64, error) {
	b, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("parse bpm %q: %w", s, ErrInvalidBPM)
	}
	if !validBPM(b) {
		return 0, fmt.Errorf("parse bpm %q: %w", s, ErrInvalidBPM)
	}
	return b, nil
}

// ClampBPM keeps a tempo inside the control range. NaN becomes MinBPM.
func ClampBPM(bpm float64) float64 {
	if math.IsNaN(bpm) || bpm < MinBPM {
		return MinBPM
	}
	if bpm > MaxBPM {
		return MaxBPM
	}
	return bpm
}
