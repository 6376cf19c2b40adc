// Package metrics содержит метрики Prometheus, публикуемые на /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ClaimsSubmitted считает поданные заявки по источнику
var ClaimsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "claims",
	Name:      "submitted_total",
	Help:      "Claims submitted, by source.",
}, []string{"source"})

// ClaimTransitions считает переходы заявок по итоговому статусу
var ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "claims",
	Name:      "transitions_total",
	Help:      "Claim status transitions, by target status.",
}, []string{"status"})

// DuplicateFindings считает находки детектора дубликатов
var DuplicateFindings = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "duplicates",
	Name:      "findings_total",
	Help:      "Duplicate findings, by type and severity.",
}, []string{"type", "severity"})

// Payments считает попытки оплаты по способу и результату
var Payments = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "payments",
	Name:      "total",
	Help:      "Payment attempts, by method and outcome.",
}, []string{"method", "outcome"})

// GatewayLatency измеряет время ответа платежного шлюза
var GatewayLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: "pointledger",
	Subsystem: "payments",
	Name:      "gateway_latency_seconds",
	Help:      "Payment gateway call latency.",
	Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
})

// ReconciliationEnqueued считает расхождения, поставленные в очередь сверки
var ReconciliationEnqueued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "payments",
	Name:      "reconciliation_enqueued_total",
	Help:      "Claims that were paid but not credited.",
})

// PointsMoved считает баллы по типу записи журнала
var PointsMoved = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "points",
	Name:      "moved_total",
	Help:      "Points written to the ledger, by entry kind.",
}, []string{"kind"})

// LotsExpired считает партии, списанные по сроку
var LotsExpired = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "points",
	Name:      "lots_expired_total",
	Help:      "Point lots marked expired by the sweep.",
})

// Transfers считает переводы по итоговому статусу
var Transfers = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "transfers",
	Name:      "total",
	Help:      "Transfers, by resulting status.",
}, []string{"status"})

// AutoCharges считает решения по правилам автопополнения
var AutoCharges = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "deposit",
	Name:      "auto_charge_total",
	Help:      "Auto-charge evaluations, by decision.",
}, []string{"decision"})

// RateLimited считает отклоненные запросы по области лимита
var RateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "http",
	Name:      "rate_limited_total",
	Help:      "Requests rejected by rate limiting, by scope.",
}, []string{"scope"})

// JobRuns считает запуски фоновых задач по результату
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "pointledger",
	Subsystem: "worker",
	Name:      "job_runs_total",
	Help:      "Background job runs, by job and outcome.",
}, []string{"job", "outcome"})

// JobDuration измеряет длительность фоновых задач
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "pointledger",
	Subsystem: "worker",
	Name:      "job_duration_seconds",
	Help:      "Background job duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"job"})
