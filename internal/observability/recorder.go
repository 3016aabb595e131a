package observability

import (
	"sync"
	"time"

	"github.com/sandevgo/recall/internal/core"
)

// Recorder times the named stages of one request. total_latency_ms is the sum of
// the recorded steps, so time spent between stages is not counted.
type Recorder struct {
	mu      sync.Mutex
	started map[string]time.Time
	steps   []core.TraceStep
	now     func() time.Time
}

func NewRecorder() *Recorder {
	return &Recorder{
		started: make(map[string]time.Time),
		steps:   []core.TraceStep{},
		now:     time.Now,
	}
}

func (r *Recorder) Start(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started[name] = r.now()
}

// End closes the stage and returns its latency. Ending a stage that was never
// started records nothing and returns zero.
func (r *Recorder) End(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	start, ok := r.started[name]
	if !ok {
		return 0
	}
	delete(r.started, name)

	ms := float64(r.now().Sub(start).Microseconds()) / 1000
	if ms < 0 {
		ms = 0
	}
	r.steps = append(r.steps, core.TraceStep{Name: name, LatencyMs: ms})
	return ms
}

// Step starts name and returns the func that ends it.
func (r *Recorder) Step(name string) func() float64 {
	r.Start(name)
	return func() float64 { return r.End(name) }
}

// Snapshot returns the completed steps. Stages still open are left out.
func (r *Recorder) Snapshot() core.RequestTrace {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := make([]core.TraceStep, len(r.steps))
	copy(steps, r.steps)

	var total float64
	for _, s := range steps {
		total += s.LatencyMs
	}
	return core.RequestTrace{Steps: steps, TotalLatencyMs: total}
}
