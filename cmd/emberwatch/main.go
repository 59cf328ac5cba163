// Package main — cmd/emberwatch/main.go
//
// EMBERWATCH node agent entrypoint.
//
// Startup sequence:
//  1. Load and validate config from /etc/emberwatch/config.yaml.
//  2. Initialise structured logger (zap; JSON, or console when configured).
//  3. Open BoltDB storage, prune stale ledger entries and mesh messages.
//  4. Build the Watchdog/Fusion/Structure/Chaos/Vision/Decision/Guard stack.
//  5. Start the mesh Network and (if configured) its gRPC listener.
//  6. Start the token-bucket budget.
//  7. Start Prometheus metrics server.
//  8. Start the operator console (Unix socket).
//  9. Start the per-node tick loop.
// 10. Register SIGHUP handler for config hot-reload.
// 11. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM):
//  1. Cancel root context (propagates to all goroutines).
//  2. Close the mesh Network listener and the operator socket.
//  3. Close BoltDB.
//  4. Flush logger.
//  5. Exit 0.
//
// On config validation failure: exit 1 immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/emberwatch/emberwatch/internal/budget"
	"github.com/emberwatch/emberwatch/internal/chaos"
	"github.com/emberwatch/emberwatch/internal/config"
	"github.com/emberwatch/emberwatch/internal/decision"
	"github.com/emberwatch/emberwatch/internal/domain"
	"github.com/emberwatch/emberwatch/internal/fusion"
	"github.com/emberwatch/emberwatch/internal/guard"
	"github.com/emberwatch/emberwatch/internal/mesh"
	"github.com/emberwatch/emberwatch/internal/observability"
	"github.com/emberwatch/emberwatch/internal/operator"
	"github.com/emberwatch/emberwatch/internal/pipeline"
	"github.com/emberwatch/emberwatch/internal/storage"
	"github.com/emberwatch/emberwatch/internal/structure"
	"github.com/emberwatch/emberwatch/internal/vision"
	"github.com/emberwatch/emberwatch/internal/watchdog"
)

func main() {
	configPath := flag.String("config", "/etc/emberwatch/config.yaml", "Path to config.yaml")
	printVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *printVersion {
		fmt.Printf("emberwatch %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("EMBERWATCH starting",
		zap.String("version", config.Version),
		zap.String("node_id", cfg.Node.ID),
		zap.String("role", cfg.Node.Role),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	if pruned, err := db.PruneOldLedgerEntries(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}
	if pruned, err := db.PruneOldMessages(); err != nil {
		log.Warn("mesh message pruning failed", zap.Error(err))
	} else {
		log.Info("mesh message buffer pruned", zap.Int("deleted", pruned))
	}

	// ── Stage stack ───────────────────────────────────────────────────────────
	limits := buildLimits(cfg)
	trauma := watchdog.NewTraumaState(cfg.Sensors.TraumaDecayDays)
	wd := watchdog.New(limits, trauma, domain.SystemClock{})
	wd.SetFrozenThreshold(time.Duration(cfg.Sensors.FrozenThresholdHours * float64(time.Hour)))
	wd.SetBlackBoxWindow(time.Duration(cfg.Sensors.BlackBoxBufferSeconds) * time.Second)

	weights := fusion.Weights{Chemical: cfg.Fusion.WeightChemical, Visual: cfg.Fusion.WeightVisual, Environmental: cfg.Fusion.WeightEnvironmental}
	var engine = pipeline.NewEngine()
	fz := fusion.New(weights, engine)
	fz.SetSmoothingAlpha(cfg.Fusion.SmoothingAlpha)
	fz.SetEnableSmoothing(cfg.Fusion.TemporalSmoothing)
	fz.SetEnableContextualModulation(cfg.Fusion.EnableContextualModulation)

	sg := structure.New()
	sg.SetBaseThreshold(cfg.Structure.BaseHurstThreshold)

	ck := chaos.New()
	ck.SetEmbeddingDim(cfg.Chaos.EmbeddingDim)

	cameras := map[string]*vision.Camera{
		"primary": vision.NewCamera(vision.SpectrumDual, vision.Thresholds{
			SmokeConfThreshold:      cfg.Vision.SmokeConfThreshold,
			EdgeSharpnessThreshold:  cfg.Vision.EdgeSharpnessThreshold,
			BrightnessMin:           cfg.Vision.BrightnessMin,
			BrightnessMax:           cfg.Vision.BrightnessMax,
			ThermalHotSpotTempC:     cfg.Vision.ThermalHotSpotTempC,
			ThermalAmbientC:         cfg.Vision.ThermalAmbientC,
			ThermalAnomalyThreshold: cfg.Vision.ThermalAnomalyThreshold,
		}),
	}

	self := mesh.NodeIdentity{
		NodeID: cfg.Node.ID, Role: mesh.Role(cfg.Node.Role), QueenID: cfg.Node.QueenID,
		Location: mesh.Location{Lat: cfg.Node.Lat, Lon: cfg.Node.Lon, Alt: cfg.Node.Alt},
	}
	heartbeatTimeout := time.Duration(cfg.Mesh.HeartbeatTimeoutSec) * time.Second
	aggCfg := mesh.DefaultAggregatorConfig()
	aggCfg.Window = time.Duration(cfg.Mesh.AggregationWindowSec) * time.Second
	aggCfg.EscalationThreshold = cfg.Mesh.EscalationThreshold
	network := mesh.NewNetwork(self, heartbeatTimeout, aggCfg)
	router := &mesh.DroneRouter{LoRaRangeMeters: cfg.Mesh.LoRaRangeMeters}

	registry := operator.NewMemRegistry()
	guardKernel := guard.New(log, false)

	witnessQuery := func(radiusMeters float64) ([]float64, error) {
		var scores []float64
		for _, msg := range network.MessageLog() {
			if msg.Kind != mesh.KindAlert || msg.Alert == nil {
				continue
			}
			if haversineMeters(self.Location, msg.Alert.Location) <= radiusMeters {
				scores = append(scores, msg.Alert.RiskScore)
			}
		}
		return scores, nil
	}
	classifier := decision.New(decision.Config{
		WitnessRadiusMeters: cfg.Decision.WitnessRadiusMeters,
		MinWitnesses:        cfg.Decision.MinWitnesses,
		TraumaDecay:         cfg.Decision.TraumaDecay,
	}, witnessQuery)

	node := pipeline.NewNode(cfg.Node.ID, wd, fz, sg, ck, cameras, classifier, network, guardKernel)

	// ── Budget ────────────────────────────────────────────────────────────────
	budgetBucket := budget.New(cfg.Budget.Capacity, cfg.Budget.RefillPeriod)
	defer budgetBucket.Close()

	// ── Metrics ───────────────────────────────────────────────────────────────
	metrics := observability.NewMetrics()
	go func() {
		if err := metrics.ServeMetrics(ctx, cfg.Observability.MetricsAddr); err != nil {
			log.Error("metrics server error", zap.Error(err))
		}
	}()
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	// ── Operator console ──────────────────────────────────────────────────────
	if cfg.Operator.Enabled {
		opSrv := operator.NewServer(cfg.Operator.SocketPath, registry, log)
		go func() {
			if err := opSrv.ListenAndServe(ctx); err != nil {
				log.Error("operator console error", zap.Error(err))
			}
		}()
		log.Info("operator console started", zap.String("socket", cfg.Operator.SocketPath))
	}

	// ── Mesh listener ─────────────────────────────────────────────────────────
	if cfg.Mesh.ListenAddr != "" {
		meshSrv := mesh.NewServer(cfg.Node.ID, nil, cfg.Mesh.EnvelopeTTL, network, log)
		go func() {
			if err := mesh.ListenAndServe(ctx, cfg.Mesh.ListenAddr, cfg.Mesh.TLSCertFile, cfg.Mesh.TLSKeyFile, cfg.Mesh.TLSCAFile, meshSrv, log); err != nil {
				log.Error("mesh server error", zap.Error(err))
			}
		}()
		log.Info("mesh listener started", zap.String("addr", cfg.Mesh.ListenAddr))
	}

	// ── Tick loop ─────────────────────────────────────────────────────────────
	go runTickLoop(ctx, node, network, router, db, registry, metrics, budgetBucket, cfg, log)

	// ── SIGHUP hot-reload ─────────────────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			fz.SetSmoothingAlpha(newCfg.Fusion.SmoothingAlpha)
			fz.SetEnableSmoothing(newCfg.Fusion.TemporalSmoothing)
			fz.SetEnableContextualModulation(newCfg.Fusion.EnableContextualModulation)
			sg.SetBaseThreshold(newCfg.Structure.BaseHurstThreshold)
			log.Info("config hot-reload applied")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutdown signal received", zap.String("signal", sig.String()))

	cancel()
	time.Sleep(200 * time.Millisecond) // let in-flight goroutines observe ctx cancellation
	log.Info("EMBERWATCH shutdown complete")
}

// runTickLoop drives one Node.Tick per second, persisting
// the resulting Decision to the ledger and feeding the operator registry
// and mesh Network.
func runTickLoop(
	ctx context.Context,
	node *pipeline.Node,
	network *mesh.Network,
	router *mesh.DroneRouter,
	db *storage.DB,
	registry *operator.MemRegistry,
	metrics *observability.Metrics,
	budgetBucket *budget.Bucket,
	cfg *config.Config,
	log *zap.Logger,
) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			res := node.Tick(nil, pipeline.Frame{Now: now})

			transition, err := node.RecordLedger(res.Decision, now)
			if err != nil {
				log.Error("guard rejected decision transition", zap.Error(err))
				continue
			}
			registry.SetTraumaLocal(cfg.Node.ID, res.Decision.Tier, transition.TraumaLocal)

			entry := storage.LedgerEntry{
				NodeID: cfg.Node.ID, StateFrom: string(transition.StateFrom), StateTo: string(transition.StateTo),
				Tier: string(transition.Tier), RiskScore: transition.RiskScore, TraumaLocal: transition.TraumaLocal,
				PrevHash: transition.PrevHash, EntryHash: transition.DecisionHash,
			}
			if err := db.AppendLedger(entry); err != nil {
				log.Error("ledger write failed", zap.Error(err))
			}

			metrics.TierTransitionsTotal.WithLabelValues(string(transition.StateFrom), string(transition.StateTo)).Inc()
			metrics.CompositeRisk.Observe(res.Decision.RiskScore)

			if res.Decision.ShouldAlert {
				priority := mesh.ClassifyPriority(res.Decision.RiskScore, res.Decision.Confidence, res.Decision.Witnesses, 100, false)
				if !budgetBucket.ConsumeForPriority(priority) {
					log.Warn("budget exhausted — deferring alert transmission", zap.String("node_id", cfg.Node.ID))
					continue
				}
				metrics.BudgetTokensRemaining.Set(float64(budgetBucket.Remaining()))

				alert := mesh.Alert{
					Priority: priority, NodeID: cfg.Node.ID,
					Location:   mesh.Location{Lat: cfg.Node.Lat, Lon: cfg.Node.Lon, Alt: cfg.Node.Alt},
					RiskScore:  res.Decision.RiskScore,
					Confidence: res.Decision.Confidence,
					Witnesses:  res.Decision.Witnesses,
					Timestamp:  now,
				}
				msg := network.RouteAlert(alert, router, nil, nil)
				log.Info("fire risk alert",
					zap.String("tier", string(res.Decision.Tier)), zap.Float64("risk", res.Decision.RiskScore),
					zap.Int("hop_count", msg.HopCount), zap.Strings("relay_path", msg.RelayPath))
			}
		}
	}
}

func buildLimits(cfg *config.Config) map[domain.Kind]watchdog.Limits {
	limits := make(map[domain.Kind]watchdog.Limits, len(cfg.Sensors.Limits))
	for name, l := range cfg.Sensors.Limits {
		kind, ok := kindFromName(name)
		if !ok {
			continue
		}
		entry := watchdog.Limits{Min: l.Min, Max: l.Max}
		if l.DyingGasp != nil {
			entry.HasGasp = true
			entry.DyingGasp = *l.DyingGasp
		}
		limits[kind] = entry
	}
	return limits
}

func kindFromName(name string) (domain.Kind, bool) {
	for k := domain.KindTemperature; k <= domain.KindThermal; k++ {
		if k.String() == name {
			return k, true
		}
	}
	return 0, false
}

// haversineMeters computes the great-circle distance between two points,
// mirroring mesh.DroneRouter.Route's internal distance check — the witness
// query needs the same geometry without reaching into mesh's unexported
// helper.
func haversineMeters(a, b mesh.Location) float64 {
	const earthRadiusM = 6371000.0
	lat1, lat2 := a.Lat*math.Pi/180, b.Lat*math.Pi/180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180
	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
