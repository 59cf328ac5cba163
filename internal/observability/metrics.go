// Package observability — metrics.go
//
// Prometheus metrics for the emberwatch node agent.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: emberwatch_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Stage/tier/state labels use the string name (small fixed sets).
//   - Camera id and node id are NOT used as labels (unbounded cardinality
//     across a mesh deployment); per-camera/per-node values are aggregated
//     before recording.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for emberwatch.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Watchdog / sensor ingestion (Stage W) ────────────────────────────

	// ReadingsProcessedTotal counts validated sensor readings, by kind.
	ReadingsProcessedTotal *prometheus.CounterVec

	// ReadingsRejectedTotal counts readings rejected by range/staleness
	// checks, by reason.
	ReadingsRejectedTotal *prometheus.CounterVec

	// ─── Fusion (Stage F) ──────────────────────────────────────────────────

	// FireRiskScore records the distribution of fused fire-risk scores.
	FireRiskScore prometheus.Histogram

	// FusionEvalsTotal counts fusion evaluations performed.
	FusionEvalsTotal prometheus.Counter

	// ─── Structure and chaos (Stages S, C) ────────────────────────────────

	// HurstExponent records the distribution of computed Hurst exponents.
	HurstExponent prometheus.Histogram

	// LyapunovExponent records the distribution of computed Lyapunov
	// exponents.
	LyapunovExponent prometheus.Histogram

	// ─── Vision (Stage V) ──────────────────────────────────────────────────

	// FramesProcessedTotal counts camera frames analyzed, by spectrum.
	FramesProcessedTotal *prometheus.CounterVec

	// CamerasBlindTotal counts camera analyses that resulted in blind mode.
	CamerasBlindTotal prometheus.Counter

	// SmokeConfidence records the distribution of smoke confidence scores.
	SmokeConfidence prometheus.Histogram

	// ─── Decision (Stage D) ────────────────────────────────────────────────

	// TierTransitionsTotal counts tier transitions, by from_tier, to_tier.
	TierTransitionsTotal *prometheus.CounterVec

	// TraumaLocal is the current node trauma_local accumulator value.
	TraumaLocal prometheus.Gauge

	// CompositeRisk records the distribution of composite risk scores.
	CompositeRisk prometheus.Histogram

	// ─── Budget ─────────────────────────────────────────────────────────────

	// BudgetTokensRemaining is the current token bucket level.
	BudgetTokensRemaining prometheus.Gauge

	// BudgetConsumedTotal counts total tokens consumed, by priority.
	BudgetConsumedTotal *prometheus.CounterVec

	// BudgetRefillsTotal counts token bucket refill cycles.
	BudgetRefillsTotal prometheus.Counter

	// ─── Mesh ───────────────────────────────────────────────────────────────

	// MeshEnvelopesReceivedTotal counts received mesh envelopes, by
	// acceptance status.
	MeshEnvelopesReceivedTotal *prometheus.CounterVec

	// MeshEnvelopesSentTotal counts sent mesh envelopes, by channel.
	MeshEnvelopesSentTotal *prometheus.CounterVec

	// MeshAggregationsTotal counts Queen aggregation-window escalations.
	MeshAggregationsTotal prometheus.Counter

	// ─── Storage ──────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageLedgerEntries is the current number of ledger entries.
	StorageLedgerEntries prometheus.Gauge

	// ─── Pipeline latency ───────────────────────────────────────────────────

	// StageLatency records per-stage wall-clock latency, by stage name
	// (§7 budget: <10ms end-to-end per node tick).
	StageLatency *prometheus.HistogramVec

	// ─── Agent ────────────────────────────────────────────────────────────

	// AgentUptimeSeconds is the number of seconds since agent start.
	AgentUptimeSeconds prometheus.Gauge

	// startTime records when the agent started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all emberwatch Prometheus metrics.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ReadingsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "watchdog", Name: "readings_processed_total",
			Help: "Total validated sensor readings consumed, by sensor kind.",
		}, []string{"kind"}),

		ReadingsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "watchdog", Name: "readings_rejected_total",
			Help: "Total readings rejected by range or staleness checks, by reason.",
		}, []string{"reason"}),

		FireRiskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "fusion", Name: "fire_risk_score",
			Help:    "Distribution of fused fire-risk scores.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		FusionEvalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "fusion", Name: "evals_total",
			Help: "Total fusion evaluations performed.",
		}),

		HurstExponent: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "structure", Name: "hurst_exponent",
			Help:    "Distribution of computed Hurst exponents.",
			Buckets: []float64{0.5, 0.7, 0.9, 1.0, 1.1, 1.3, 1.5, 1.8, 2.0},
		}),

		LyapunovExponent: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "chaos", Name: "lyapunov_exponent",
			Help:    "Distribution of computed Lyapunov exponents.",
			Buckets: []float64{-1.0, -0.5, -0.1, 0.0, 0.1, 0.5, 1.0, 2.0},
		}),

		FramesProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "vision", Name: "frames_processed_total",
			Help: "Total camera frames analyzed, by spectrum.",
		}, []string{"spectrum"}),

		CamerasBlindTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "vision", Name: "cameras_blind_total",
			Help: "Total camera analyses that resulted in blind mode.",
		}),

		SmokeConfidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "vision", Name: "smoke_confidence",
			Help:    "Distribution of smoke confidence scores.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		TierTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "decision", Name: "tier_transitions_total",
			Help: "Total tier transitions, by from_tier and to_tier.",
		}, []string{"from_tier", "to_tier"}),

		TraumaLocal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emberwatch", Subsystem: "decision", Name: "trauma_local",
			Help: "Current node trauma_local accumulator value.",
		}),

		CompositeRisk: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "decision", Name: "composite_risk",
			Help:    "Distribution of composite risk scores.",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),

		BudgetTokensRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emberwatch", Subsystem: "budget", Name: "tokens_remaining",
			Help: "Current token bucket level.",
		}),

		BudgetConsumedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "budget", Name: "consumed_total",
			Help: "Lifetime total tokens consumed from the budget bucket, by alert priority.",
		}, []string{"priority"}),

		BudgetRefillsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "budget", Name: "refills_total",
			Help: "Total number of token bucket refill cycles completed.",
		}),

		MeshEnvelopesReceivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "mesh", Name: "envelopes_received_total",
			Help: "Total mesh envelopes received, by acceptance status.",
		}, []string{"accepted"}),

		MeshEnvelopesSentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "mesh", Name: "envelopes_sent_total",
			Help: "Total mesh envelopes sent, by channel.",
		}, []string{"channel"}),

		MeshAggregationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "emberwatch", Subsystem: "mesh", Name: "aggregations_total",
			Help: "Total Queen aggregation-window escalations.",
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "storage", Name: "write_latency_seconds",
			Help: "BoltDB write transaction latency in seconds.", Buckets: prometheus.DefBuckets,
		}),

		StorageLedgerEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emberwatch", Subsystem: "storage", Name: "ledger_entries",
			Help: "Current number of audit ledger entries in BoltDB.",
		}),

		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "emberwatch", Subsystem: "pipeline", Name: "stage_latency_seconds",
			Help:    "Per-stage wall-clock latency, by stage name.",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.02, 0.05},
		}, []string{"stage"}),

		AgentUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "emberwatch", Subsystem: "agent", Name: "uptime_seconds",
			Help: "Number of seconds since the agent started.",
		}),
	}

	reg.MustRegister(
		m.ReadingsProcessedTotal,
		m.ReadingsRejectedTotal,
		m.FireRiskScore,
		m.FusionEvalsTotal,
		m.HurstExponent,
		m.LyapunovExponent,
		m.FramesProcessedTotal,
		m.CamerasBlindTotal,
		m.SmokeConfidence,
		m.TierTransitionsTotal,
		m.TraumaLocal,
		m.CompositeRisk,
		m.BudgetTokensRemaining,
		m.BudgetConsumedTotal,
		m.BudgetRefillsTotal,
		m.MeshEnvelopesReceivedTotal,
		m.MeshEnvelopesSentTotal,
		m.MeshAggregationsTotal,
		m.StorageWriteLatency,
		m.StorageLedgerEntries,
		m.StageLatency,
		m.AgentUptimeSeconds,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go m.updateUptime(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the AgentUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.AgentUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
