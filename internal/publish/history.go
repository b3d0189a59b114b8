// internal/publish/history.go
package publish

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-pricer/internal/dex/model"
)

const DefaultHistoryFlushInterval = time.Second

var historyHeader = []string{
	"timestamp", "mint", "source_pool", "pool_address", "slot",
	"price_sol", "price_usd", "confidence", "corrected",
}

// History appends every published price to a CSV file. Rows are buffered and
// flushed by Run or Close.
type History struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	interval time.Duration
	logger   *zap.Logger
	path     string

	written uint64
	flushes uint64
}

// NewHistory opens path in append mode, writing the header to a new file.
func NewHistory(path string, flushInterval time.Duration, logger *zap.Logger) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	if flushInterval <= 0 {
		flushInterval = DefaultHistoryFlushInterval
	}
	h := &History{
		writer:   csv.NewWriter(file),
		file:     file,
		interval: flushInterval,
		logger:   logger.Named("price-history"),
		path:     path,
	}

	if stat.Size() == 0 {
		if err := h.writer.Write(historyHeader); err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		h.writer.Flush()
	}
	return h, nil
}

// Publish implements Publisher.
func (h *History) Publish(_ context.Context, res *model.PriceResult) error {
	record := []string{
		res.Timestamp.UTC().Format(time.RFC3339Nano),
		res.Mint.String(),
		res.SourcePool,
		res.PoolAddress.String(),
		strconv.FormatUint(res.Slot, 10),
		decimal.NewFromFloat(res.PriceSOL).String(),
		decimal.NewFromFloat(res.PriceUSD).String(),
		decimal.NewFromFloat(res.Confidence).StringFixed(4),
		strconv.FormatBool(res.Corrected),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	h.written++
	return nil
}

// Flush writes buffered rows to disk.
func (h *History) Flush() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.writer.Flush()
	if err := h.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}
	if err := h.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}
	h.flushes++
	return nil
}

// Run flushes periodically until ctx is done, then closes the file.
func (h *History) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return h.Close()
		case <-ticker.C:
			if err := h.Flush(); err != nil {
				h.logger.Error("Periodic CSV flush failed", zap.String("file", h.path), zap.Error(err))
			}
		}
	}
}

// Close flushes and closes the file.
func (h *History) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.writer.Flush()
	if err := h.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error on close: %w", err)
	}
	if err := h.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	h.logger.Info("Price history closed",
		zap.String("file", h.path),
		zap.Uint64("written_records", h.written),
		zap.Uint64("flush_count", h.flushes))
	return nil
}

// Stats returns rows written and flushes performed.
func (h *History) Stats() (records, flushes uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written, h.flushes
}
