// Package metrics provides Prometheus instrumentation for the bridge.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksStarted counts native tasks submitted.
	TasksStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_tasks_started_total",
		Help: "Total number of native tasks started",
	})

	// TasksFinalized counts native tasks torn down.
	TasksFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_tasks_finalized_total",
		Help: "Total number of native tasks finalized",
	})

	// TasksActive tracks tasks currently holding native resources.
	TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ember_tasks_active",
		Help: "Number of tasks currently holding native resources",
	})

	// BatchesImported counts columnar batches pulled from the native side.
	BatchesImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_batches_imported_total",
		Help: "Total number of columnar batches imported from the native engine",
	})

	// BatchesExported counts columnar batches handed to the native side.
	BatchesExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_batches_exported_total",
		Help: "Total number of columnar batches exported to the native engine",
	})

	// RowsDecoded counts rows decoded from imported batches.
	RowsDecoded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_rows_decoded_total",
		Help: "Total number of rows decoded from imported batches",
	})

	// RowsExported counts rows written into exported batches.
	RowsExported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_rows_exported_total",
		Help: "Total number of rows written into exported batches",
	})

	// NativeFaults counts faults reported by the native engine.
	NativeFaults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ember_native_faults_total",
		Help: "Total number of faults reported by the native engine",
	})
)

// ServeMetrics starts an HTTP server on the given address to serve
// Prometheus metrics at /metrics.
func ServeMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go server.ListenAndServe()
	return server
}
