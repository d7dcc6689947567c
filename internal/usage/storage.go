package usage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// StatsFileName is the persisted usage statistics file.
const StatsFileName = "usage_stats.json"

// Storage persists usage statistics between runs.
type Storage interface {
	LoadStats(ctx context.Context) (*Stats, error)
	SaveStats(ctx context.Context, stats *Stats) error
}

// FileStorage implements Storage on the local filesystem.
type FileStorage struct {
	dataDir string
	mu      sync.RWMutex
}

// NewFileStorage creates a file-based storage rooted at dataDir.
func NewFileStorage(dataDir string) (*FileStorage, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, err
	}
	return &FileStorage{dataDir: dataDir}, nil
}

func (f *FileStorage) path() string {
	return filepath.Join(f.dataDir, StatsFileName)
}

// LoadStats reads the statistics file. Absent or unparseable files yield
// empty statistics; usage data is advisory, never worth failing startup over.
func (f *FileStorage) LoadStats(_ context.Context) (*Stats, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	data, err := os.ReadFile(f.path())
	if err != nil {
		if os.IsNotExist(err) {
			return NewStats(), nil
		}
		return nil, err
	}

	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		log.WithError(err).Warn("Failed to unmarshal usage stats, starting fresh")
		return NewStats(), nil
	}
	if stats.Accounts == nil {
		stats.Accounts = make(map[string]*AccountUsage)
	}
	return &stats, nil
}

// SaveStats writes the statistics through a temp file plus rename.
func (f *FileStorage) SaveStats(_ context.Context, stats *Stats) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	tempFile := f.path() + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tempFile, f.path()); err != nil {
		_ = os.Remove(tempFile)
		return err
	}
	return nil
}
