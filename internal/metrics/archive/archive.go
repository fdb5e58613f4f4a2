// Package archive implements the optional periodic-report archival sink
// for internal/metrics.Handler: slot reports are batched and flushed to
// ClickHouse on a timer.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.uber.org/zap"

	"github.com/your-org/gnb-scheduler/internal/metrics"
)

// Config configures the ClickHouse archival sink.
type Config struct {
	Addresses       []string
	Database        string
	Username        string
	Password        string
	FlushInterval   time.Duration
	BatchSize       int
}

// Writer batches SlotReports in memory and flushes them to ClickHouse
// either when FlushInterval elapses or BatchSize is reached.
type Writer struct {
	conn   clickhouse.Conn
	logger *zap.Logger
	cfg    Config

	mu      sync.Mutex
	pending []metrics.SlotReport
}

// NewWriter opens a ClickHouse connection and returns a Writer implementing
// metrics.Sink.
func NewWriter(cfg Config, logger *zap.Logger) (*Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: failed to open clickhouse connection: %w", err)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	return &Writer{conn: conn, logger: logger, cfg: cfg}, nil
}

// Archive implements metrics.Sink: it buffers the report and flushes
// synchronously once the batch size is reached.
func (w *Writer) Archive(ctx context.Context, r metrics.SlotReport) error {
	w.mu.Lock()
	w.pending = append(w.pending, r)
	shouldFlush := len(w.pending) >= w.cfg.BatchSize
	w.mu.Unlock()

	if shouldFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes every buffered report to ClickHouse in one batch insert.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	chBatch, err := w.conn.PrepareBatch(ctx, "INSERT INTO scheduler.slot_reports (cell_name, decision_latency_us, dl_retx, ul_retx, harq_timeouts, late_harq, uci_alloc_failed, reported_at)")
	if err != nil {
		return fmt.Errorf("archive: failed to prepare batch: %w", err)
	}

	for _, r := range batch {
		if err := chBatch.Append(
			r.CellName,
			uint64(r.DecisionLatency.Microseconds()),
			r.DLRetx,
			r.ULRetx,
			r.HARQTimeouts,
			r.LateHARQ,
			r.UCIAllocFailed,
			time.Now(),
		); err != nil {
			return fmt.Errorf("archive: failed to append row: %w", err)
		}
	}

	if err := chBatch.Send(); err != nil {
		return fmt.Errorf("archive: failed to send batch: %w", err)
	}
	w.logger.Debug("flushed slot report batch", zap.Int("rows", len(batch)))
	return nil
}

// RunPeriodicFlush blocks flushing pending reports every FlushInterval until
// ctx is cancelled, intended to run as a background goroutine from main.
func (w *Writer) RunPeriodicFlush(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = w.Flush(context.Background())
			return
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				w.logger.Warn("periodic archive flush failed", zap.Error(err))
			}
		}
	}
}

// Close closes the underlying ClickHouse connection.
func (w *Writer) Close() error {
	return w.conn.Close()
}
