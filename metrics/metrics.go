// Package metrics records dispatch activity as prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	dapi "github.com/goliatone/go-dapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dapi"

// Observer implements dispatcher.Observer on top of a prometheus registry.
type Observer struct {
	registry *prometheus.Registry

	dispatchTotal    *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
	nodeFailures     *prometheus.CounterVec
	fanOutWidth      prometheus.Histogram
	lateResults      *prometheus.CounterVec
}

// NewObserver registers the dispatch metrics on a dedicated registry.
func NewObserver() *Observer {
	o := &Observer{
		registry: prometheus.NewRegistry(),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched requests by operation, mode and envelope status.",
		}, []string{"operation", "mode", "status"}),
		dispatchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time until the caller received an envelope.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "mode"}),
		nodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_failures_total",
			Help:      "Fan-out node results that failed, by node and error code.",
		}, []string{"node", "code"}),
		fanOutWidth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fanout_nodes",
			Help:      "Nodes reached per distributed request.",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
		}),
		lateResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_results_total",
			Help:      "Results discarded because they arrived after the deadline.",
		}, []string{"operation"}),
	}

	o.registry.MustRegister(
		o.dispatchTotal,
		o.dispatchDuration,
		o.nodeFailures,
		o.fanOutWidth,
		o.lateResults,
		collectors.NewGoCollector(),
	)
	return o
}

func (o *Observer) ObserveDispatch(req dapi.Request, env dapi.Envelope, elapsed time.Duration) {
	mode := string(req.Mode)
	o.dispatchTotal.WithLabelValues(req.Operation, mode, string(env.Status)).Inc()
	o.dispatchDuration.WithLabelValues(req.Operation, mode).Observe(elapsed.Seconds())
}

func (o *Observer) ObserveFanOut(_ dapi.Request, results []dapi.NodeResult) {
	o.fanOutWidth.Observe(float64(len(results)))
	for _, r := range results {
		if r.OK {
			continue
		}
		code := dapi.ErrCodeNodeExecution
		if r.Error != nil && r.Error.Code != "" {
			code = r.Error.Code
		}
		o.nodeFailures.WithLabelValues(r.Node.ID, code).Inc()
	}
}

func (o *Observer) ObserveLateResult(req dapi.Request) {
	o.lateResults.WithLabelValues(req.Operation).Inc()
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (o *Observer) Registry() *prometheus.Registry {
	return o.registry
}

// Handler serves the registry in the prometheus exposition format.
func (o *Observer) Handler() http.Handler {
	return promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{})
}
