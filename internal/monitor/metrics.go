package monitor

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/turtacn/booklore-runner/pkg/logger"
)

var (
	// StageDuration tracks how long each startup stage took, in seconds.
	StageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "booklore_stage_duration_seconds",
		Help:    "Time taken by each startup stage",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
	}, []string{"stage"})
	// StageFailures counts stage errors, partitioned by stage and error code.
	StageFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booklore_stage_failures_total",
		Help: "Total number of failed startup stages",
	}, []string{"stage", "code"})
	// RuntimeDownloadBytes counts bytes received while downloading a Java runtime.
	RuntimeDownloadBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "booklore_runtime_download_bytes_total",
		Help: "Bytes downloaded for the Java runtime",
	})
	// ProcessExits counts child process exits, partitioned by stage.
	ProcessExits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "booklore_process_exits_total",
		Help: "Total number of supervised process exits",
	}, []string{"stage"})
)

var registerOnce sync.Once

// Register adds the runner's collectors to the default registry. It is safe to
// call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(StageDuration, StageFailures, RuntimeDownloadBytes, ProcessExits)
	})
}

// ObserveStage records the outcome of one stage.
func ObserveStage(stage string, elapsed time.Duration, code string) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if code != "" {
		StageFailures.WithLabelValues(stage, code).Inc()
	}
}

// Handler returns the metrics endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// InitMetrics registers metrics and serves them on addr (e.g. "127.0.0.1:9464")
// until ctx is cancelled.
func InitMetrics(ctx context.Context, addr string) {
	Register()

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.Log.Info("Metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
}

// Personal.AI order the ending
