// Package metrics exposes the prometheus collectors for the game service.
// Collectors are registered once on first use; handlers and background jobs
// share the same instances.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type GameMetrics struct {
	// DrawsTotal counts draw attempts by result: issued, quota_exhausted,
	// invariant_violation, issuance_failed.
	DrawsTotal *prometheus.CounterVec
	// RedemptionsTotal counts redemption attempts by result: settled plus
	// each rejection reason.
	RedemptionsTotal *prometheus.CounterVec
	// UnitsIssuedTotal and UnitsRedeemedTotal track reward volume.
	UnitsIssuedTotal   prometheus.Counter
	UnitsRedeemedTotal prometheus.Counter
	// QuotaDegraded is 1 while quota runs on the process-local fallback.
	QuotaDegraded prometheus.Gauge
	// Solvency gauges, refreshed by the reconciliation job.
	ReserveUnits        prometheus.Gauge
	LiabilityUnits      prometheus.Gauge
	OutstandingVouchers prometheus.Gauge
}

var (
	gameOnce sync.Once
	game     *GameMetrics
)

func Game() *GameMetrics {
	gameOnce.Do(func() {
		game = &GameMetrics{
			DrawsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "plinko",
				Subsystem: "game",
				Name:      "draws_total",
				Help:      "Draw attempts by result.",
			}, []string{"result"}),
			RedemptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "plinko",
				Subsystem: "redeem",
				Name:      "redemptions_total",
				Help:      "Redemption attempts by result.",
			}, []string{"result"}),
			UnitsIssuedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "plinko",
				Subsystem: "game",
				Name:      "units_issued_total",
				Help:      "Reward units committed to by issued vouchers.",
			}),
			UnitsRedeemedTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "plinko",
				Subsystem: "redeem",
				Name:      "units_redeemed_total",
				Help:      "Reward units paid out through settled redemptions.",
			}),
			QuotaDegraded: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "plinko",
				Subsystem: "quota",
				Name:      "degraded",
				Help:      "1 while quota is served by the process-local fallback.",
			}),
			ReserveUnits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "plinko",
				Subsystem: "reserve",
				Name:      "balance_units",
				Help:      "Reserve balance in reward units.",
			}),
			LiabilityUnits: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "plinko",
				Subsystem: "reserve",
				Name:      "liability_units",
				Help:      "Total units on unredeemed, unexpired vouchers.",
			}),
			OutstandingVouchers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "plinko",
				Subsystem: "reserve",
				Name:      "outstanding_vouchers",
				Help:      "Count of unredeemed, unexpired vouchers.",
			}),
		}
		prometheus.MustRegister(
			game.DrawsTotal,
			game.RedemptionsTotal,
			game.UnitsIssuedTotal,
			game.UnitsRedeemedTotal,
			game.QuotaDegraded,
			game.ReserveUnits,
			game.LiabilityUnits,
			game.OutstandingVouchers,
		)
	})
	return game
}
