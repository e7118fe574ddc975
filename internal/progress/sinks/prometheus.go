package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/famotime/siyuan-scripts/internal/progress"
)

// PrometheusSink turns run events into stage timings and run counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	fetches       *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors with reg, or with the default
// registerer when reg is nil. Collectors that are already registered are
// reused, so several sinks in one process share series.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{tracker: newRunTracker()}
	var err error
	if s.runsStarted, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clipper_progress_runs_started_total",
		Help: "Clip runs that have started.",
	})); err != nil {
		return nil, err
	}
	if s.runsCompleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipper_progress_runs_completed_total",
		Help: "Clip runs completed, by result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.runsRunning, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "clipper_progress_runs_running",
		Help: "Clip runs currently in flight.",
	})); err != nil {
		return nil, err
	}
	if s.runDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipper_progress_run_duration_seconds",
		Help:    "Wall time per clip run, by result.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if s.stageDuration, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clipper_progress_stage_duration_seconds",
		Help:    "Time spent in each clip stage.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.fetches, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clipper_progress_fetches_total",
		Help: "Page fetches that produced a response, by status class.",
	}, []string{"status_class"})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, fmt.Errorf("register progress collector: %w", err)
	}
	return c, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consume(evt)
	}
	return nil
}

func (s *PrometheusSink) consume(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
		return
	case progress.StageRunDone, progress.StageRunError:
		result := "done"
		if evt.Stage == progress.StageRunError {
			result = "error"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
		return
	case progress.StageFetched:
		s.fetches.WithLabelValues(string(evt.StatusClass)).Inc()
	}
	if evt.Dur > 0 {
		s.stageDuration.WithLabelValues(string(evt.Stage)).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
