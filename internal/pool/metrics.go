package pool

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	tickDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one per-event reconciliation tick.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"guild_id"})

	tickDamage = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "damage_applied_total",
		Help:      "Scaled damage applied to pools, per guild.",
	}, []string{"guild_id"})

	tickErrorCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "tick_errors_total",
		Help:      "Number of per-event tick failures.",
	}, []string{"guild_id"})

	milestoneCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "milestones_crossed_total",
		Help:      "Number of milestone buckets crossed.",
	}, []string{"guild_id"})

	hpGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "hp_remaining_ratio",
		Help:      "Remaining pool hit points as a fraction of the maximum.",
	}, []string{"guild_id", "event_id"})

	scaleGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "event_service",
		Subsystem: "pool",
		Name:      "scale_multiplier",
		Help:      "Current day multiplier per event.",
	}, []string{"guild_id", "event_id"})
)

func init() {
	prometheus.MustRegister(tickDuration, tickDamage, tickErrorCounter, milestoneCounter, hpGauge, scaleGauge)
}

func recordTick(guildID string, damage float64, d time.Duration) {
	tickDuration.WithLabelValues(guildID).Observe(d.Seconds())
	if damage > 0 {
		tickDamage.WithLabelValues(guildID).Add(damage)
	}
}

func recordTickError(guildID string) {
	tickErrorCounter.WithLabelValues(guildID).Inc()
}

func recordMilestone(guildID string) {
	milestoneCounter.WithLabelValues(guildID).Inc()
}

func recordPoolHP(guildID, eventID string, hp, hpMax int64) {
	if hpMax <= 0 {
		return
	}
	hpGauge.WithLabelValues(guildID, eventID).Set(float64(hp) / float64(hpMax))
}

func recordScaleFactor(guildID, eventID string, m float64) {
	scaleGauge.WithLabelValues(guildID, eventID).Set(m)
}
