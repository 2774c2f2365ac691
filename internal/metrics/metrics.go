// Package metrics exports supervisor lifecycle counters and health checks
// over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tessro/tinymon/internal/logging"
	"github.com/tessro/tinymon/internal/supervisor"
)

// Namespace prefixes every exported metric.
const Namespace = "tinymon"

// shutdownTimeout bounds graceful shutdown of the metrics server.
const shutdownTimeout = 5 * time.Second

// Health check errors.
var (
	ErrChildDown     = errors.New("child is not running")
	ErrChildNotReady = errors.New("child has not announced ready")
)

// Collector turns supervisor events into Prometheus metrics and health
// state. Observe is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry
	health   healthcheck.Handler

	spawns     prometheus.Counter
	restarts   prometheus.Counter
	exits      *prometheus.CounterVec
	crashes    prometheus.Counter
	readies    prometheus.Counter
	running    prometheus.Gauge
	generation prometheus.Gauge

	live  atomic.Bool
	ready atomic.Bool
}

// New creates a collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		spawns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "spawns_total",
			Help:      "Total number of child processes spawned.",
		}),
		restarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "restarts_total",
			Help:      "Total number of child restarts.",
		}),
		exits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "exits_total",
			Help:      "Total number of child exits, by cause.",
		}, []string{"cause"}),
		crashes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "crashes_total",
			Help:      "Total number of child faults.",
		}),
		readies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "ready_total",
			Help:      "Total number of ready announcements from children.",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "running",
			Help:      "1 while the current child is running.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "child",
			Name:      "generation",
			Help:      "Spawn sequence number of the current child.",
		}),
	}

	c.registry.MustRegister(
		c.spawns, c.restarts, c.exits, c.crashes, c.readies, c.running, c.generation,
	)

	c.health = healthcheck.NewMetricsHandler(c.registry, Namespace)
	c.health.AddLivenessCheck("child-running", func() error {
		if !c.live.Load() {
			return ErrChildDown
		}
		return nil
	})
	c.health.AddReadinessCheck("child-ready", func() error {
		if !c.ready.Load() {
			return ErrChildNotReady
		}
		return nil
	})

	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Observe records one supervisor event. It has the supervisor.EventHandler
// signature.
func (c *Collector) Observe(e supervisor.Event) {
	switch e.Kind {
	case supervisor.EventStart, supervisor.EventRestart:
		c.spawns.Inc()
		if e.Kind == supervisor.EventRestart {
			c.restarts.Inc()
		}
		c.running.Set(1)
		c.generation.Set(float64(e.Generation))
		c.live.Store(true)
		c.ready.Store(false)
	case supervisor.EventCrash:
		c.crashes.Inc()
	case supervisor.EventExit:
		c.exits.WithLabelValues(exitCause(e)).Inc()
		c.running.Set(0)
		// A pending restart keeps the supervisor live.
		c.live.Store(e.Restarting)
		c.ready.Store(false)
	case supervisor.EventReady:
		c.readies.Inc()
		c.ready.Store(true)
	}
}

func exitCause(e supervisor.Event) string {
	switch {
	case e.Err != nil:
		return "fault"
	case e.Signal != "":
		return "signal"
	case e.Code == 0:
		return "clean"
	default:
		return "error"
	}
}

// Handler serves /metrics plus the /live and /ready health endpoints.
func (c *Collector) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", c.health.LiveEndpoint)
	mux.HandleFunc("/ready", c.health.ReadyEndpoint)
	return mux
}

// Serve listens on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, log *slog.Logger) error {
	if log == nil {
		log = logging.Discard()
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		defer logging.LogPanic("metrics-server", nil)
		log.Info("metrics listening on "+addr, logging.KindKey, logging.KindAction)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
