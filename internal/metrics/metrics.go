package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	betTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_bet_requests_total",
			Help: "Total bet placements by result kind",
		},
		[]string{"result"},
	)

	betDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wager_bet_request_duration_ms",
			Help:    "Bet placement duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"result"},
	)

	drawTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wager_draws_total",
			Help: "Total draws by result kind",
		},
		[]string{"result"},
	)

	drawPool = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "wager_draw_pool_points",
			Help:    "Pool size of settled draws",
			Buckets: prometheus.ExponentialBuckets(10, 4, 10),
		},
	)

	ledgerOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Points economy operations by operation and result kind",
		},
		[]string{"op", "result"},
	)

	roomState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wager_room_state",
			Help: "Current room state: 0 empty, 1 open, 2 drawing",
		},
	)
)

// Result labels are "success" or the failure kind.
func label(result string) string {
	if result == "" {
		return "success"
	}
	return result
}

func RecordBet(result string, started time.Time) {
	res := label(result)
	betTotal.WithLabelValues(res).Inc()
	betDuration.WithLabelValues(res).Observe(float64(time.Since(started).Milliseconds()))
}

func RecordDraw(result string, pool int64) {
	res := label(result)
	drawTotal.WithLabelValues(res).Inc()
	if res == "success" {
		drawPool.Observe(float64(pool))
	}
}

func RecordLedgerOp(op, result string) {
	ledgerOps.WithLabelValues(op, label(result)).Inc()
}

func SetRoomState(state int) {
	roomState.Set(float64(state))
}
