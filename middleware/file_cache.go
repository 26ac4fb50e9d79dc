package middleware

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/shrek82/dbutil/core"
)

// FileCache caches query results as JSON files in a directory. Queries are
// cached only when their context carries WithCacheTTL.
type FileCache struct {
	resultCache
	CacheDir string
}

// NewFileCache creates a file cache in cacheDir, created by Init.
func NewFileCache(cacheDir string, defaultTTL ...time.Duration) *FileCache {
	ttl := 5 * time.Minute
	if len(defaultTTL) > 0 {
		ttl = defaultTTL[0]
	}
	m := &FileCache{CacheDir: cacheDir}
	m.resultCache = resultCache{name: "FileCache", defaultTTL: ttl, store: &fileStore{dir: cacheDir, now: time.Now}}
	return m
}

func (m *FileCache) Name() string {
	return m.name
}

func (m *FileCache) Init(r *core.Registry) error {
	if m.CacheDir == "" {
		return fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(m.CacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	m.init(r)
	return nil
}

func (m *FileCache) Shutdown() error {
	return nil
}

func (m *FileCache) Process(ctx context.Context, stmt *core.Statement, next core.Handler) (*core.Outcome, error) {
	return m.process(ctx, stmt, next)
}

type fileStore struct {
	dir string
	now func() time.Time
}

type fileCacheEntry struct {
	Data json.RawMessage `json:"data"`
	// ExpiresAt is zero for entries without expiry
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *fileStore) path(key string) string {
	return filepath.Join(s.dir, strings.TrimPrefix(key, KeyPrefix)+".json")
}

func (s *fileStore) get(_ context.Context, key string) ([]byte, bool, error) {
	filename := s.path(key)
	raw, err := os.ReadFile(filename)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entry fileCacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		_ = os.Remove(filename)
		return nil, false, nil
	}
	if !entry.ExpiresAt.IsZero() && !s.now().Before(entry.ExpiresAt) {
		_ = os.Remove(filename)
		return nil, false, nil
	}
	return entry.Data, true, nil
}

func (s *fileStore) set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	entry := fileCacheEntry{Data: data}
	if ttl > 0 {
		entry.ExpiresAt = s.now().Add(ttl)
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// write then rename so readers never see a partial file
	tmp, err := os.CreateTemp(s.dir, "entry-*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(key))
}
