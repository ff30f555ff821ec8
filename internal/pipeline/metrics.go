package pipeline

import (
	"sync/atomic"
	"time"

	rxerrors "github.com/conneroisu/rxpdf/internal/errors"
)

var metricStages = []rxerrors.Stage{
	rxerrors.StageRender,
	rxerrors.StageCompile,
	rxerrors.StageStore,
	rxerrors.StageInternal,
}

// Metrics counts generations. All fields are updated atomically, so one
// Metrics may be shared by concurrent generations.
type Metrics struct {
	started       atomic.Int64
	succeeded     atomic.Int64
	failed        map[rxerrors.Stage]*atomic.Int64
	totalDuration atomic.Int64
	totalBytes    atomic.Int64
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics {
	m := &Metrics{failed: make(map[rxerrors.Stage]*atomic.Int64, len(metricStages))}
	for _, s := range metricStages {
		m.failed[s] = new(atomic.Int64)
	}
	return m
}

func (m *Metrics) recordStart() {
	m.started.Add(1)
}

func (m *Metrics) recordSuccess(d time.Duration, size int64) {
	m.succeeded.Add(1)
	m.totalDuration.Add(int64(d))
	m.totalBytes.Add(size)
}

func (m *Metrics) recordFailure(stage rxerrors.Stage, d time.Duration) {
	if c, ok := m.failed[stage]; ok {
		c.Add(1)
	} else {
		m.failed[rxerrors.StageInternal].Add(1)
	}
	m.totalDuration.Add(int64(d))
}

// MetricsSnapshot is a point-in-time copy of Metrics.
type MetricsSnapshot struct {
	Started         int64            `json:"started" yaml:"started"`
	Succeeded       int64            `json:"succeeded" yaml:"succeeded"`
	Failed          int64            `json:"failed" yaml:"failed"`
	FailedByStage   map[string]int64 `json:"failed_by_stage" yaml:"failed_by_stage"`
	TotalBytes      int64            `json:"total_bytes" yaml:"total_bytes"`
	TotalDuration   time.Duration    `json:"total_duration" yaml:"total_duration"`
	AverageDuration time.Duration    `json:"average_duration" yaml:"average_duration"`
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Started:       m.started.Load(),
		Succeeded:     m.succeeded.Load(),
		FailedByStage: make(map[string]int64, len(m.failed)),
		TotalBytes:    m.totalBytes.Load(),
		TotalDuration: time.Duration(m.totalDuration.Load()),
	}
	for stage, c := range m.failed {
		n := c.Load()
		s.FailedByStage[string(stage)] = n
		s.Failed += n
	}
	if finished := s.Succeeded + s.Failed; finished > 0 {
		s.AverageDuration = s.TotalDuration / time.Duration(finished)
	}
	return s
}

// SuccessRate returns the success rate as a percentage
func (s MetricsSnapshot) SuccessRate() float64 {
	finished := s.Succeeded + s.Failed
	if finished == 0 {
		return 0.0
	}
	return float64(s.Succeeded) / float64(finished) * 100.0
}
