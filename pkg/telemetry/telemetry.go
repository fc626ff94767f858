// Package telemetry counts operation outcomes and request attempts. Counters
// are exported over Prometheus and, when API keys are configured, mirrored
// to Datadog as gauge points.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	datadog "github.com/DataDog/datadog-api-client-go/api/v2/datadog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	namespace = "testnet_automation"
	// datadogTimeout bounds one metric submission.
	datadogTimeout = 10 * time.Second
)

// Recorder is safe to use as a nil pointer; every method is then a no-op.
type Recorder struct {
	operations *prometheus.CounterVec
	attempts   *prometheus.CounterVec
	cycles     prometheus.Counter
	gatherer   prometheus.Gatherer
	dd         *datadogSink
}

type datadogSink struct {
	ctx     context.Context
	client  *datadog.APIClient
	tags    []string
	timeout time.Duration
}

func New(reg *prometheus.Registry) *Recorder {
	r := &Recorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Wallet operations by name and outcome",
		}, []string{"operation", "outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_attempts_total",
			Help:      "Outbound HTTP attempts by host and result",
		}, []string{"host", "result"}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed wallet cycles",
		}),
		gatherer: reg,
	}
	reg.MustRegister(r.operations, r.attempts, r.cycles)
	return r
}

// WithDatadog enables pushing operation outcomes to Datadog.
func (r *Recorder) WithDatadog(apiKey, appKey string, tags []string) *Recorder {
	if r == nil || apiKey == "" {
		return r
	}
	ctx := context.WithValue(context.Background(), datadog.ContextAPIKeys, map[string]datadog.APIKey{
		"apiKeyAuth": {Key: apiKey},
		"appKeyAuth": {Key: appKey},
	})
	configuration := datadog.NewConfiguration()
	configuration.HTTPClient = &http.Client{Timeout: datadogTimeout}
	r.dd = &datadogSink{
		ctx:     ctx,
		client:  datadog.NewAPIClient(configuration),
		tags:    tags,
		timeout: datadogTimeout,
	}
	return r
}

func (r *Recorder) Operation(op, outcome string) {
	if r == nil {
		return
	}
	r.OperationCounter(op, outcome).Inc()
	r.dd.post("operation."+outcome, 1, "operation:"+op)
}

// OperationCounter returns the counter for one operation and outcome. A nil
// Recorder returns an unregistered counter.
func (r *Recorder) OperationCounter(op, outcome string) prometheus.Counter {
	if r == nil {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "operations_total"})
	}
	return r.operations.WithLabelValues(op, outcome)
}

func (r *Recorder) Attempt(host string, status int, err error) {
	if r == nil {
		return
	}
	result := strconv.Itoa(status)
	if err != nil {
		result = "error"
	}
	r.attempts.WithLabelValues(host, result).Inc()
}

func (r *Recorder) CycleCompleted(wallets int) {
	if r == nil {
		return
	}
	r.cycles.Inc()
	r.dd.post("cycle.wallets", float64(wallets))
}

// Serve exposes /metrics on addr until ctx is done.
func (r *Recorder) Serve(ctx context.Context, addr string) {
	if r == nil || addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics listener stopped")
		}
	}()
}

func (s *datadogSink) post(metric string, value float64, tags ...string) {
	if s == nil {
		return
	}
	point := datadog.MetricPoint{
		Timestamp: datadog.PtrInt64(time.Now().Unix()),
		Value:     datadog.PtrFloat64(value),
	}
	series := datadog.MetricSeries{
		Metric: namespace + "." + metric,
		Type:   datadog.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadog.MetricPoint{point},
		Tags:   append(append([]string{}, s.tags...), tags...),
	}
	payload := datadog.MetricPayload{
		Series: []datadog.MetricSeries{series},
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()
	if _, _, err := s.client.MetricsApi.SubmitMetrics(ctx, payload); err != nil {
		log.Warn().Err(err).Str("metric", metric).Msg("failed to post metric to datadog")
	}
}
