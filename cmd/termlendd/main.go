package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"termlend/config"
	"termlend/core"
	coreerrors "termlend/core/errors"
	"termlend/core/events"
	"termlend/core/genesis"
	"termlend/journal"
	"termlend/observability"
	"termlend/observability/logging"
	"termlend/observability/metrics"
	telemetry "termlend/observability/otel"
	"termlend/rpc"
	"termlend/storage"
)

const genesisPathEnv = "TERMLEND_GENESIS"

// operationKinds pre-registers the engine counters so every operation
// reports a zero series from boot instead of appearing on first use.
var operationKinds = []string{
	"deposit", "mint", "withdraw", "redeem",
	"borrow", "repay", "refund",
	"fixed_deposit", "fixed_borrow", "fixed_withdraw", "fixed_repay", "roll",
	"liquidate", "enter_market", "exit_market", "set_price",
}

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	genesisFlag := flag.String("genesis", "", "Path to the genesis document (overrides TERMLEND_GENESIS and config GenesisFile)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup(logging.Options{
		Service:     "termlendd",
		Environment: cfg.Telemetry.Environment,
		Level:       cfg.Log.Level,
		File: logging.FileRotation{
			Path:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName: "termlendd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
			Traces:      cfg.Telemetry.Traces,
			Metrics:     cfg.Telemetry.Metrics,
		})
		if err != nil {
			logger.Error("Failed to initialise telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTelemetry(flushCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	genesisPath, err := resolveGenesisPath(*genesisFlag, cfg.GenesisFile, os.LookupEnv)
	if err != nil {
		logger.Error("Failed to resolve genesis path", slog.Any("error", err))
		os.Exit(1)
	}
	spec, err := genesis.LoadFile(genesisPath)
	if err != nil {
		logger.Error("Failed to load genesis document", slog.Any("error", err))
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("Failed to prepare data directory", slog.Any("error", err))
		os.Exit(1)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		logger.Error("Failed to open state database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// The clock closure serves the recorder and the stream before the
	// node exists: genesis events carry the genesis timestamp.
	var node *core.Node
	clock := func() uint64 {
		if node == nil {
			return spec.GenesisTime
		}
		return node.Timestamp()
	}

	var store *journal.Store
	var recorder *journal.Recorder
	if !cfg.Journal.Disabled {
		store, err = journal.Open(cfg.Journal.Path)
		if err != nil {
			logger.Error("Failed to open operation journal", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Warn("journal close", slog.Any("error", err))
			}
		}()
		recorder = journal.NewRecorder(store, clock, logger.With("component", "journal"))
	}

	stream := events.NewStream(clock)

	engine := metrics.Engine()
	for _, kind := range operationKinds {
		engine.InitOperationKind(kind)
	}
	counters := events.EmitterFunc(func(evt events.Event) {
		observability.Events().RecordEvent(evt.EventType())
		switch evt.EventType() {
		case events.TypeLiquidation:
			engine.ObserveLiquidation()
		case events.TypeSeize:
			engine.ObserveSeize()
		case events.TypeBadDebtCleared:
			engine.ObserveBadDebt()
		}
	})

	emitters := []events.Emitter{stream, counters}
	if recorder != nil {
		emitters = append(emitters, recorder)
	}

	node, err = core.NewNode(db, spec, events.Multi(emitters...))
	if err != nil {
		if errors.Is(err, coreerrors.ErrGenesisMismatch) {
			logger.Error("Genesis document does not match the initialised database", slog.String("path", genesisPath))
		} else {
			logger.Error("Failed to initialise ledger", slog.Any("error", err))
		}
		os.Exit(1)
	}

	refreshMarketGauges(node)
	go runClock(ctx, node, time.Duration(cfg.ClockIntervalSeconds)*time.Second, logger)

	secret, err := cfg.Auth.ResolveSecret()
	if err != nil {
		logger.Error("Failed to resolve RPC auth secret", slog.Any("error", err))
		os.Exit(1)
	}
	if secret == "" {
		logger.Warn("RPC authentication disabled; mutating methods accept unauthenticated calls")
	} else {
		logger.Info("RPC authentication enabled", logging.MaskField("secret", secret))
	}

	server := rpc.NewServer(node, store, stream, rpc.ServerConfig{
		ReadHeaderTimeout: time.Duration(cfg.RPCReadHeaderTimeout) * time.Second,
		ReadTimeout:       time.Duration(cfg.RPCReadTimeout) * time.Second,
		WriteTimeout:      time.Duration(cfg.RPCWriteTimeout) * time.Second,
		IdleTimeout:       time.Duration(cfg.RPCIdleTimeout) * time.Second,
		TLSCertFile:       cfg.RPCTLSCertFile,
		TLSKeyFile:        cfg.RPCTLSKeyFile,
		RatePerSecond:     cfg.RPCRatePerSecond,
		RateBurst:         cfg.RPCRateBurst,
		Auth: rpc.AuthConfig{
			Secret:    secret,
			Issuer:    cfg.Auth.Issuer,
			Audience:  cfg.Auth.Audience,
			ClockSkew: time.Duration(cfg.Auth.ClockSkewSeconds) * time.Second,
		},
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.RPCAddress)
	}()

	logger.Info("termlendd running",
		slog.String("network", cfg.NetworkName),
		slog.String("address", cfg.RPCAddress),
		slog.Int("markets", len(node.Markets())),
		slog.Uint64("timestamp", node.Timestamp()),
	)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("rpc shutdown", slog.Any("error", err))
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server terminated", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

type envLookupFunc func(string) (string, bool)

// resolveGenesisPath picks the genesis document location: CLI flag,
// then environment, then config. The ledger cannot boot without one.
func resolveGenesisPath(cliPath, cfgPath string, lookup envLookupFunc) (string, error) {
	if trimmed := strings.TrimSpace(cliPath); trimmed != "" {
		return trimmed, nil
	}
	if lookup != nil {
		if value, ok := lookup(genesisPathEnv); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed, nil
			}
		}
	}
	if trimmed := strings.TrimSpace(cfgPath); trimmed != "" {
		return trimmed, nil
	}
	return "", fmt.Errorf("no genesis document provided; supply one via --genesis, %s, or config GenesisFile", genesisPathEnv)
}

// runClock stamps the ledger with wall time on an interval so fixed
// pools mature and average-balance windows decay without traffic.
func runClock(ctx context.Context, node *core.Node, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := node.SetTimestamp(uint64(time.Now().Unix())); err != nil {
				// A rewind means the genesis time is still ahead of
				// the wall clock; the next tick retries.
				if !errors.Is(err, coreerrors.ErrClockRewind) {
					logger.Error("advance ledger clock", slog.Any("error", err))
				}
				continue
			}
			refreshMarketGauges(node)
		}
	}
}

// refreshMarketGauges republishes the per-market gauges from committed
// state.
func refreshMarketGauges(node *core.Node) {
	gauges := observability.Markets()
	quotes := node.Quotes()
	for _, name := range node.Markets() {
		snapshot, err := node.MarketSnapshot(name)
		if err != nil {
			continue
		}
		gauges.RecordState(name, snapshot.FloatingAssets, snapshot.FloatingDebt, snapshot.FloatingBackupBorrowed, snapshot.EarningsAccumulator, snapshot.BadDebt)
		gauges.RecordUtilization(name, snapshot.UtilizationFloating, snapshot.UtilizationGlobal)
		if quote, ok := quotes[name]; ok {
			gauges.RecordPrice(name, quote.Price)
		}
	}
}
