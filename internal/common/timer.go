// Package common provides timing helpers shared by the pipeline stages.
package common

import (
	"fmt"
	"sync"
	"time"
)

// Timer measures one named stage.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewNamedTimer starts a timer for the given stage name.
func NewNamedTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

// Name returns the stage name.
func (t *Timer) Name() string {
	return t.name
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// StageTiming is the recorded duration of one stage.
type StageTiming struct {
	Name     string        `json:"name" yaml:"name"`
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Stages collects stage timings in completion order. The zero value is ready to use.
type Stages struct {
	mu      sync.Mutex
	entries []StageTiming
}

// Time runs fn as the named stage and records its duration even when fn fails.
func (s *Stages) Time(name string, fn func() error) error {
	t := NewNamedTimer(name)
	err := fn()
	t.Stop()
	s.Add(t)
	return err
}

// Track runs fn as the named stage and records its duration.
func (s *Stages) Track(name string, fn func()) {
	t := NewNamedTimer(name)
	fn()
	t.Stop()
	s.Add(t)
}

// Add records a stopped timer.
func (s *Stages) Add(t *Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, StageTiming{Name: t.Name(), Duration: t.Duration()})
}

// List returns a copy of the recorded timings.
func (s *Stages) List() []StageTiming {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StageTiming(nil), s.entries...)
}

// Total returns the sum of all recorded durations.
func (s *Stages) Total() time.Duration {
	var total time.Duration
	for _, e := range s.List() {
		total += e.Duration
	}
	return total
}

// LogArgs flattens the timings into slog key/value pairs in milliseconds.
func (s *Stages) LogArgs() []any {
	entries := s.List()
	args := make([]any, 0, 2*len(entries))
	for _, e := range entries {
		args = append(args, e.Name+"_ms", e.Duration.Milliseconds())
	}
	return args
}
