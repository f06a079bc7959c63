// Package stats keeps bounded time series of attribute values and
// collection sizes.
//
// A series exists only when it was configured; cores that have no series
// for an attribute simply skip sampling.
package stats

import (
	"sync"
	"time"

	"github.com/roach88/tessera/internal/model"
)

// Clock supplies sample timestamps.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Sample is one (timestamp, value) point.
type Sample struct {
	Time  time.Time
	Value model.Value
}

// Series is a fixed-capacity ring of samples. Once full, each Add drops
// the oldest sample. Safe for concurrent use.
type Series struct {
	mu    sync.Mutex
	name  string
	clock Clock
	buf   []Sample
	start int
	n     int
}

// NewSeries creates a series holding at most capacity samples.
// A capacity below 1 is raised to 1.
func NewSeries(name string, capacity int, clock Clock) *Series {
	if capacity < 1 {
		capacity = 1
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Series{
		name:  name,
		clock: clock,
		buf:   make([]Sample, capacity),
	}
}

// Name returns the series name.
func (s *Series) Name() string { return s.name }

// Add appends (now, v).
func (s *Series) Add(v model.Value) {
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n < len(s.buf) {
		s.buf[(s.start+s.n)%len(s.buf)] = Sample{Time: now, Value: v}
		s.n++
		return
	}
	s.buf[s.start] = Sample{Time: now, Value: v}
	s.start = (s.start + 1) % len(s.buf)
}

// Samples returns the retained samples, oldest first. The result is a copy.
func (s *Series) Samples() []Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Sample, s.n)
	for i := 0; i < s.n; i++ {
		out[i] = s.buf[(s.start+i)%len(s.buf)]
	}
	return out
}

// Last returns the newest sample.
func (s *Series) Last() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return Sample{}, false
	}
	return s.buf[(s.start+s.n-1)%len(s.buf)], true
}

// Len returns the number of retained samples.
func (s *Series) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Cap returns the fixed capacity.
func (s *Series) Cap() int {
	return len(s.buf)
}
