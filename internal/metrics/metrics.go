// Package metrics holds the Prometheus collectors exported by the recorder.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Registry is the registry every ridelog collector is registered on.
var Registry = prometheus.NewRegistry()

var (
	BusPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_bus_published_total",
		Help: "Messages published on the bus, by topic.",
	}, []string{"topic"})

	BusDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_bus_delivered_total",
		Help: "Messages handled successfully, by handler.",
	}, []string{"handler"})

	BusFailed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_bus_failed_total",
		Help: "Messages whose handler returned an error or panicked, by handler.",
	}, []string{"handler"})

	TelemetryEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_telemetry_events_total",
		Help: "Producer events received by coordinators, by kind and result.",
	}, []string{"kind", "result"})

	TelemetryFlushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_telemetry_flushes_total",
		Help: "Snapshot flushes, by kind and result.",
	}, []string{"kind", "result"})

	SnapshotTicks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "ridelog_snapshot_ticks_total",
		Help: "save-telemetry broadcasts issued by the session manager.",
	})

	Sessions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_sessions_total",
		Help: "Session lifecycle operations, by action.",
	}, []string{"action"})

	StorageJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_storage_jobs_total",
		Help: "Storage jobs executed by the writer, by result.",
	}, []string{"result"})

	VideoState = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ridelog_video_state",
		Help: "Current video client state (0 = disconnected ... 5 = consuming).",
	})

	VideoTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ridelog_video_transitions_total",
		Help: "Video state machine events, by event and result.",
	}, []string{"event", "result"})
)

func init() {
	Registry.MustRegister(
		BusPublished,
		BusDelivered,
		BusFailed,
		TelemetryEvents,
		TelemetryFlushes,
		SnapshotTicks,
		Sessions,
		StorageJobs,
		VideoState,
		VideoTransitions,
	)
}

// Handler serves the ridelog registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger logrus.FieldLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", addr).Info("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
