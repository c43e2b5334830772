// Copyright 2024 The Cockroach Authors.
//
// Use of this software is governed by the CockroachDB Software License
// included in the /LICENSE file.

package rawtenant

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts harness progress and oracle-relevant events. These are
// occurrence counters, not performance measurements.
type Metrics struct {
	Epochs              prometheus.Counter
	Commits             prometheus.Counter
	Retries             prometheus.Counter
	IllegalAccessCaught prometheus.Counter
}

// NewMetrics registers the harness counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Epochs: f.NewCounter(prometheus.CounterOpts{
			Name: "rawtenant_epochs_total",
			Help: "Completed driver-loop epochs.",
		}),
		Commits: f.NewCounter(prometheus.CounterOpts{
			Name: "rawtenant_txn_commits_total",
			Help: "Random transactions committed.",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "rawtenant_txn_retries_total",
			Help: "Transaction attempts retried on retryable errors.",
		}),
		IllegalAccessCaught: f.NewCounter(prometheus.CounterOpts{
			Name: "rawtenant_illegal_access_caught_total",
			Help: "Predicted illegal tenant accesses rejected by the store.",
		}),
	}
}
