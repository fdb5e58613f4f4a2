package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/your-org/gnb-scheduler/internal/cellcfg"
	"github.com/your-org/gnb-scheduler/internal/config"
	"github.com/your-org/gnb-scheduler/internal/event"
	"github.com/your-org/gnb-scheduler/internal/metrics"
	"github.com/your-org/gnb-scheduler/internal/metrics/archive"
	"github.com/your-org/gnb-scheduler/internal/ran"
	"github.com/your-org/gnb-scheduler/internal/sched"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// slotPeriod is the wall-clock duration of one slot at 30kHz SCS
// (numerology 1): 0.5ms. The synthetic driver below stands in for the
// real PHY slot_indication callback, out of scope.
const slotPeriod = 500 * time.Microsecond

func main() {
	configPath := flag.String("config", "config/gnb-scheduler.yaml", "path to configuration file")
	flag.Parse()

	logger := createLogger("info")
	defer logger.Sync()

	logger.Info("starting gNB DU MAC scheduler",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	logger = createLogger(cfg.Observability.Logging.Level)

	var sink metrics.Sink
	if cfg.Archive.Enabled {
		writer, err := archive.NewWriter(archive.Config{
			Addresses:     []string{cfg.Archive.Address},
			Database:      cfg.Archive.Database,
			Username:      cfg.Archive.Username,
			Password:      cfg.Archive.Password,
			FlushInterval: time.Duration(cfg.Archive.FlushIntervalMs) * time.Millisecond,
		}, logger)
		if err != nil {
			logger.Fatal("failed to open archive writer", zap.Error(err))
		}
		archiveCtx, archiveCancel := context.WithCancel(context.Background())
		defer archiveCancel()
		go writer.RunPeriodicFlush(archiveCtx)
		defer writer.Close()
		sink = writer
	}

	metricsHandler := metrics.NewHandler(logger, sink)
	events := event.NewManager(event.DefaultQueueSize)
	dispatcher := sched.NewDispatcher(cfg.Scheduler, events, metricsHandler, logger)

	cell := &cellcfg.Cell{
		CellIndex:  0,
		NofPRBs:    106,
		Numerology: 1,
		Duplex:     cellcfg.DuplexFDD,
	}
	if _, err := dispatcher.AddCell(cell, sched.AddCellOpts{RingSize: 256}); err != nil {
		logger.Fatal("failed to add cell", zap.Error(err))
	}
	if err := dispatcher.StartCell(cell.CellIndex); err != nil {
		logger.Fatal("failed to start cell", zap.Error(err))
	}

	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port)
	metricsServer := metrics.NewServer(metricsAddr, logger, dispatcher)
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("starting metrics/debug server", zap.String("addr", metricsAddr))
		serverErrors <- metricsServer.Start()
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	driverDone := make(chan struct{})
	go runSlotTickDriver(ctx, dispatcher, cell.CellIndex, cell.Numerology, logger, driverDone)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("metrics server error", zap.Error(err))
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	cancel()
	<-driverDone

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("failed to gracefully stop metrics server", zap.Error(err))
	}

	logger.Info("gNB DU MAC scheduler shutdown complete")
}

// runSlotTickDriver stands in for the PHY's per-slot indication, which
// this module does not implement: it advances a monotonically increasing
// slot count on a fixed-period ticker and calls SlotIndication for the cell.
func runSlotTickDriver(ctx context.Context, dispatcher *sched.Dispatcher, cellIndex uint32, numerology uint8, logger *zap.Logger, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(slotPeriod)
	defer ticker.Stop()

	var slotCount uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			slTx := ran.NewSlotPoint(numerology, slotCount)
			if _, err := dispatcher.SlotIndication(ctx, slTx, cellIndex); err != nil {
				logger.Warn("slot indication failed", zap.String("slot", slTx.String()), zap.Error(err))
			}
			slotCount++
		}
	}
}

// createLogger creates a structured zap logger at the given level.
func createLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}
	return logger
}
