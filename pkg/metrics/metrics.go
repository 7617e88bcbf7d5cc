// Package metrics exposes Prometheus counters for the attendance protocol.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WindowsOpened counts attendance windows opened by teachers.
	WindowsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "edupresence",
		Name:      "windows_opened_total",
		Help:      "Attendance windows opened.",
	})

	// RecordOutcomes counts record-attendance results by outcome
	// (recorded, already_recorded, invalid_token, expired_token,
	// unauthorized, upstream_unavailable).
	RecordOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edupresence",
		Name:      "record_outcomes_total",
		Help:      "Record-attendance attempts by outcome.",
	}, []string{"outcome"})

	// TokenValidations counts verify-token calls by result.
	TokenValidations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "edupresence",
		Name:      "token_validations_total",
		Help:      "Window token verifications by result.",
	}, []string{"result"})
)
