// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LateMarks counts accepted late marks by outcome ("marked" or "fined").
	LateMarks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "late_marks_total",
		Help:      "Late marks recorded, by outcome.",
	}, []string{"outcome"})

	// RejectedMarks counts marks rejected before any write.
	RejectedMarks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "rejected_marks_total",
		Help:      "Late marks rejected by validation.",
	})

	Settlements = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "settlements_total",
		Help:      "Fines settled into the archive.",
	})

	SettledAmount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "settled_amount_total",
		Help:      "Currency units collected by settlements.",
	})

	// ResetRuns counts reset jobs by job name and result.
	ResetRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "reset_runs_total",
		Help:      "Reset job runs, by job and result.",
	}, []string{"job", "result"})

	ResetDocuments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "reset_documents_total",
		Help:      "Late-comers documents touched by reset jobs.",
	}, []string{"job"})

	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "latecomers",
		Name:      "report_exports_total",
		Help:      "Spreadsheet exports, by result.",
	}, []string{"result"})
)
