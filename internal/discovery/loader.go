// internal/discovery/loader.go
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/solana-pricer/internal/pool"
	"github.com/rovshanmuradov/solana-pricer/internal/utils/logger"
)

var ErrNoPools = errors.New("no valid pools in file")

// ProgramChecker reports whether a program id has a decoder.
type ProgramChecker interface {
	Supports(programID solana.PublicKey) bool
}

// PoolsFile is the on-disk list of pools to price. JSON files parse as well.
type PoolsFile struct {
	Pools []struct {
		PoolID          string   `yaml:"pool_id"`
		ProgramID       string   `yaml:"program_id"`
		BaseMint        string   `yaml:"base_mint"`
		QuoteMint       string   `yaml:"quote_mint"`
		ReserveAccounts []string `yaml:"reserve_accounts"`
	} `yaml:"pools"`
}

// Loader feeds pool descriptors from a file into the directory.
type Loader struct {
	directory *pool.Directory
	programs  ProgramChecker
	logger    *zap.Logger

	mu      sync.Mutex
	modTime time.Time // of the file at the last successful Sync
}

// NewLoader creates a loader. programs may be nil to accept any program id.
func NewLoader(directory *pool.Directory, programs ProgramChecker, log *zap.Logger) *Loader {
	return &Loader{
		directory: directory,
		programs:  programs,
		logger:    log.Named("pool-discovery"),
	}
}

// ParseFile reads descriptors from path. Invalid entries are logged and skipped.
func (l *Loader) ParseFile(path string) ([]pool.Descriptor, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read pools file: %w", err)
	}

	var file PoolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse pools file: %w", err)
	}

	descs := make([]pool.Descriptor, 0, len(file.Pools))
	for i, entry := range file.Pools {
		desc, err := buildDescriptor(entry.PoolID, entry.ProgramID, entry.BaseMint, entry.QuoteMint, entry.ReserveAccounts)
		if err == nil {
			err = desc.Validate()
		}
		if err != nil {
			l.logger.Warn("Skipping invalid pool entry", zap.Int("index", i), zap.String("pool_id", entry.PoolID), zap.Error(err))
			continue
		}
		if l.programs != nil && !l.programs.Supports(desc.ProgramID) {
			l.logger.Warn("Skipping pool of unsupported program",
				zap.String("pool_id", entry.PoolID),
				zap.String("program_id", entry.ProgramID))
			continue
		}
		descs = append(descs, desc)
	}

	if len(descs) == 0 {
		return nil, ErrNoPools
	}
	return descs, nil
}

func buildDescriptor(poolID, programID, base, quote string, reserves []string) (pool.Descriptor, error) {
	var (
		desc pool.Descriptor
		err  error
	)
	if desc.PoolID, err = solana.PublicKeyFromBase58(poolID); err != nil {
		return desc, fmt.Errorf("pool_id: %w", err)
	}
	if desc.ProgramID, err = solana.PublicKeyFromBase58(programID); err != nil {
		return desc, fmt.Errorf("program_id: %w", err)
	}
	if desc.BaseMint, err = solana.PublicKeyFromBase58(base); err != nil {
		return desc, fmt.Errorf("base_mint: %w", err)
	}
	if desc.QuoteMint, err = solana.PublicKeyFromBase58(quote); err != nil {
		return desc, fmt.Errorf("quote_mint: %w", err)
	}
	for _, r := range reserves {
		key, err := solana.PublicKeyFromBase58(r)
		if err != nil {
			return desc, fmt.Errorf("reserve account %q: %w", r, err)
		}
		desc.ReserveAccounts = append(desc.ReserveAccounts, key)
	}
	return desc, nil
}

// Sync makes the directory match the file: new and changed pools are upserted and
// pools missing from the file are removed. A pool whose reserve set changed is
// removed and added again.
func (l *Loader) Sync(path string) (int, error) {
	defer logger.TrackPerformance(l.logger, "pool_sync")()

	modTime, err := fileModTime(path)
	if err != nil {
		return 0, err
	}
	descs, err := l.ParseFile(path)
	if err != nil {
		return 0, err
	}

	wanted := make(map[solana.PublicKey]struct{}, len(descs))
	loaded := 0
	for _, desc := range descs {
		wanted[desc.PoolID] = struct{}{}

		err := l.directory.Upsert(desc)
		if errors.Is(err, pool.ErrReserveSetChanged) {
			l.directory.Remove(desc.PoolID)
			err = l.directory.Upsert(desc)
		}
		if err != nil {
			l.logger.Warn("Failed to register pool", zap.String("pool", desc.PoolID.String()), zap.Error(err))
			continue
		}
		loaded++
	}

	for _, desc := range l.directory.All() {
		if _, ok := wanted[desc.PoolID]; !ok {
			l.directory.Remove(desc.PoolID)
		}
	}

	l.mu.Lock()
	l.modTime = modTime
	l.mu.Unlock()

	l.logger.Info("Pools loaded", zap.Int("count", loaded), zap.String("path", path))
	return loaded, nil
}

// Watch re-syncs path every interval once its modification time changes, until ctx
// is done. A failed sync leaves the directory as it was and is retried next tick.
func (l *Loader) Watch(ctx context.Context, path string, interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			modTime, err := fileModTime(path)
			if err != nil {
				l.logger.Warn("Pools file unavailable", zap.String("path", path), zap.Error(err))
				continue
			}
			l.mu.Lock()
			unchanged := modTime.Equal(l.modTime)
			l.mu.Unlock()
			if unchanged {
				continue
			}
			if _, err := l.Sync(path); err != nil {
				l.logger.Warn("Pools reload failed", zap.String("path", path), zap.Error(err))
			}
		}
	}
}

func fileModTime(path string) (time.Time, error) {
	info, err := os.Stat(filepath.Clean(path))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to stat pools file: %w", err)
	}
	return info.ModTime(), nil
}
