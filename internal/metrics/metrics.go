package metrics

import (
	"context"
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/IdrisKulubi/Student-Mail/internal/sync"
)

// SyncMetrics records sync runs. It implements sync.RunObserver.
type SyncMetrics struct {
	Runs            *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	EmailsProcessed *prometheus.CounterVec
}

// NewSyncMetrics registers the sync collectors with reg.
func NewSyncMetrics(reg prometheus.Registerer) *SyncMetrics {
	factory := promauto.With(reg)
	return &SyncMetrics{
		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail_sync_runs_total",
				Help: "Total number of sync runs by outcome",
			},
			[]string{"status"}, // status: completed, failed, no_credentials
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mail_sync_run_duration_seconds",
				Help:    "Sync run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"status"},
		),
		EmailsProcessed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mail_sync_emails_total",
				Help: "Total number of fetched messages by result",
			},
			[]string{"result"}, // result: synced, error, skipped
		),
	}
}

// ObserveRun records one finished run.
func (m *SyncMetrics) ObserveRun(status string, summary sync.SyncSummary, elapsed time.Duration) {
	m.Runs.WithLabelValues(status).Inc()
	m.RunDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	m.EmailsProcessed.WithLabelValues("synced").Add(float64(summary.Synced))
	m.EmailsProcessed.WithLabelValues("error").Add(float64(summary.Errors))
	m.EmailsProcessed.WithLabelValues("skipped").Add(float64(summary.Skipped))
}

// OutboxCounter reports how many events wait for delivery.
type OutboxCounter interface {
	PendingOutbox(ctx context.Context) (int, error)
}

const backlogQueryTimeout = 2 * time.Second

// NewOutboxBacklog registers a gauge that queries outbox on every scrape.
// A failed query is reported as NaN.
func NewOutboxBacklog(reg prometheus.Registerer, outbox OutboxCounter) prometheus.GaugeFunc {
	return promauto.With(reg).NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "mail_outbox_pending",
			Help: "Number of synced-email events not yet published",
		},
		func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), backlogQueryTimeout)
			defer cancel()
			n, err := outbox.PendingOutbox(ctx)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		},
	)
}
