package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments group commits. A nil *Metrics records nothing.
type Metrics struct {
	groupsCommitted  *prometheus.CounterVec
	groupFailures    *prometheus.CounterVec
	groupsDeleted    *prometheus.CounterVec
	recomputeSkipped prometheus.Counter
	snapshotsReused  prometheus.Counter
	commitDuration   *prometheus.HistogramVec
}

// NewMetrics registers the exposure metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		groupsCommitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exposure",
			Name:      "groups_committed_total",
			Help:      "Group transactions committed, by operation.",
		}, []string{"operation"}),
		groupFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exposure",
			Name:      "group_failures_total",
			Help:      "Groups that failed inside a batch, by operation.",
		}, []string{"operation"}),
		groupsDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "exposure",
			Name:      "groups_deleted_total",
			Help:      "Group documents deleted because no rows remained, by operation.",
		}, []string{"operation"}),
		recomputeSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "exposure",
			Name:      "recompute_skipped_total",
			Help:      "Group commits whose statistics were left untouched by the change gate.",
		}),
		snapshotsReused: f.NewCounter(prometheus.CounterOpts{
			Namespace: "exposure",
			Name:      "snapshots_reused_total",
			Help:      "Per-agent snapshots kept because their inputs did not change.",
		}),
		commitDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "exposure",
			Name:      "group_commit_duration_seconds",
			Help:      "Duration of one group read-merge-recompute-write transaction.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
}

// observeCommit records a committed transaction. Failed ones only get observeDuration.
func (m *Metrics) observeCommit(op string, res *commitResult, elapsed time.Duration) {
	if m == nil || res == nil {
		return
	}
	m.observeDuration(op, elapsed)
	if res.noop {
		return
	}
	m.groupsCommitted.WithLabelValues(op).Inc()
	if res.deleted {
		m.groupsDeleted.WithLabelValues(op).Inc()
	}
	if res.rc.Skipped {
		m.recomputeSkipped.Inc()
	}
	m.snapshotsReused.Add(float64(res.rc.Reused))
}

func (m *Metrics) observeDuration(op string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) groupFailed(op string) {
	if m == nil {
		return
	}
	m.groupFailures.WithLabelValues(op).Inc()
}
