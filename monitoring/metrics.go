package monitoring

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

var (
	proposalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_proposals_total",
			Help: "Ledger proposals by operation and outcome",
		},
		[]string{"operation", "result"},
	)

	redemptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticket_redemptions_total",
			Help: "Redemption attempts per event and outcome",
		},
		[]string{"event_id", "result"},
	)

	liveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_sessions_live",
			Help: "Payment sessions currently polling",
		},
	)

	settlePollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "settle_poll_duration_seconds",
			Help:    "Duration of settlement status polls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	settlePollErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_poll_errors_total",
			Help: "Settlement status polls that failed",
		},
	)

	settlePollNotFound = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "settle_poll_404_total",
			Help: "Settlement status polls answered before the record propagated",
		},
	)
)

// TrackProposal records a submitted proposal outcome.
func TrackProposal(operation, result string) {
	proposalsTotal.WithLabelValues(operation, result).Inc()
}

// TrackRedemption records a redemption attempt outcome.
func TrackRedemption(eventID uint64, result string) {
	redemptionsTotal.WithLabelValues(strconv.FormatUint(eventID, 10), result).Inc()
}

// SetLiveSessions records how many payment flows are currently polling.
func SetLiveSessions(n int) {
	liveSessions.Set(float64(n))
}

// TrackSettlePoll records one settlement poll.
func TrackSettlePoll(d time.Duration, err error) {
	settlePollDuration.Observe(d.Seconds())
	if err != nil {
		settlePollErrors.Inc()
	}
}

// TrackSettleNotFound records a poll that found no settlement record yet.
func TrackSettleNotFound() {
	settlePollNotFound.Inc()
}

type Monitor struct {
	redis *redis.Client
}

func NewMonitor(redisClient *redis.Client) *Monitor {
	monitor := &Monitor{redis: redisClient}

	// Start metrics collection
	go monitor.collectMetrics()

	return monitor
}

func (m *Monitor) collectMetrics() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		ctx := context.Background()
		m.collectSessionMetrics(ctx)
	}
}

// collectSessionMetrics reconciles the live-session gauge against the
// payment records redis actually holds, so a crashed flow goroutine does
// not leave the gauge stuck.
func (m *Monitor) collectSessionMetrics(ctx context.Context) {
	keys, err := m.redis.Keys(ctx, "payment:*").Result()
	if err != nil {
		return
	}

	pending := 0
	for _, key := range keys {
		st, err := m.redis.HGet(ctx, key, "status").Result()
		if err == nil && st == "pending" {
			pending++
		}
	}

	liveSessions.Set(float64(pending))
}
