package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/utils"
)

const (
	payloadExt  = ".bin"
	metadataExt = ".meta.json"
	tempPrefix  = ".tmp-"

	defaultMaxSize    = 500 * 1024 * 1024
	defaultExpiration = 24 * time.Hour
)

// Config represents file cache configuration
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Directory    string        `yaml:"directory"`
	MaxSizeBytes int64         `yaml:"max_size_bytes"`
	Expiration   time.Duration `yaml:"expiration"`
}

// Stats is a best-effort snapshot of the cache directory.
type Stats struct {
	FileCount      int   `json:"file_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
}

// Observer receives cache events, typically a metrics collector.
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
	RecordCacheEviction(count int)
	RecordCacheStore(bytes int)
	SetCacheSize(bytes int64)
}

// entryMetadata is the sidecar record stored next to each payload.
type entryMetadata struct {
	Path     string    `json:"path"`
	SiteID   string    `json:"site_id"`
	CachedAt time.Time `json:"cached_at"`
	Size     int64     `json:"size"`
}

// diskEntry is a payload found while scanning the cache directory.
type diskEntry struct {
	key        string
	size       int64
	accessTime time.Time
}

// FileCache is a disk-backed cache of downloaded payloads keyed by site and
// logical path. Payload mtime doubles as the last access time for eviction;
// the store time lives in the sidecar and drives expiration.
//
// Every internal failure is logged and reported as a miss or a no-op.
type FileCache struct {
	mu       sync.Mutex
	config   Config
	logger   utils.Logger
	observer Observer
	now      func() time.Time
}

// Option customizes a FileCache.
type Option func(*FileCache)

// WithLogger sets the cache logger.
func WithLogger(l utils.Logger) Option {
	return func(c *FileCache) { c.logger = utils.OrNop(l).WithComponent("cache") }
}

// WithObserver sets the cache event observer.
func WithObserver(o Observer) Option {
	return func(c *FileCache) { c.observer = o }
}

// WithClock replaces the time source used for expiration and access times.
func WithClock(now func() time.Time) Option {
	return func(c *FileCache) { c.now = now }
}

// NewFileCache creates a new file cache. The directory is created lazily on
// the first store.
func NewFileCache(config Config, opts ...Option) *FileCache {
	if config.Directory == "" {
		config.Directory = filepath.Join(os.TempDir(), "cloudfile-cache")
	}
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = defaultMaxSize
	}
	if config.Expiration <= 0 {
		config.Expiration = defaultExpiration
	}

	c := &FileCache{
		config: config,
		logger: utils.NopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the effective configuration
func (c *FileCache) Config() Config {
	return c.config
}

// Enabled reports whether the cache stores and serves entries.
func (c *FileCache) Enabled() bool {
	return c.config.Enabled
}

// Key derives the cache key for a site and path. Both are lowercased so the
// same logical file maps to one entry regardless of caller casing.
func Key(path, siteID string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(siteID + ":" + path)))
	return hex.EncodeToString(sum[:])
}

// TryGet returns the cached payload for path on siteID. Expired and corrupt
// entries are removed before the miss is reported.
func (c *FileCache) TryGet(path, siteID string) ([]byte, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(path, siteID)
	meta, err := c.readMetadata(key)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Discarding unreadable cache metadata", map[string]interface{}{
				"path":       path,
				"site":       siteID,
				"error":      err.Error(),
				"error_code": string(errors.CodeOf(err)),
			})
			c.removeEntry(key)
		}
		c.miss()
		return nil, false
	}

	now := c.now()
	if now.Sub(meta.CachedAt) > c.config.Expiration {
		c.logger.Debug("Cache entry expired", map[string]interface{}{
			"path":      path,
			"site":      siteID,
			"cached_at": meta.CachedAt,
		})
		c.removeEntry(key)
		c.miss()
		return nil, false
	}

	data, err := os.ReadFile(c.payloadPath(key))
	if err != nil {
		err = errors.Wrap(errors.ErrCodeCacheIO, "failed to read cache payload", err).WithComponent("cache")
	} else if int64(len(data)) != meta.Size {
		err = errors.Newf(errors.ErrCodeCacheCorrupt,
			"payload is %d bytes, metadata records %d", len(data), meta.Size).WithComponent("cache")
	}
	if err != nil {
		c.logger.Warn("Discarding unreadable cache payload", map[string]interface{}{
			"path":       path,
			"site":       siteID,
			"error":      err.Error(),
			"error_code": string(errors.CodeOf(err)),
		})
		c.removeEntry(key)
		c.miss()
		return nil, false
	}

	if err := os.Chtimes(c.payloadPath(key), now, now); err != nil {
		c.logger.Debug("Failed to record cache access time", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	c.notify(func(o Observer) { o.RecordCacheHit() })
	return data, true
}

// Store caches data for path on siteID, evicting least recently accessed
// entries to stay under the size ceiling. Payloads larger than the ceiling
// are never cached.
func (c *FileCache) Store(path, siteID string, data []byte) {
	if !c.config.Enabled {
		return
	}
	size := int64(len(data))
	if size > c.config.MaxSizeBytes {
		c.logger.Debug("Payload exceeds cache ceiling, not caching", map[string]interface{}{
			"path":      path,
			"site":      siteID,
			"size":      size,
			"max_bytes": c.config.MaxSizeBytes,
		})
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(c.config.Directory, 0750); err != nil {
		c.logger.Error("Failed to create cache directory", map[string]interface{}{
			"directory": c.config.Directory,
			"error":     err.Error(),
		})
		return
	}

	key := Key(path, siteID)
	// The entry being replaced does not count against the new payload.
	c.removeEntry(key)
	c.evictFor(size)

	now := c.now()
	meta := entryMetadata{
		Path:     path,
		SiteID:   siteID,
		CachedAt: now.UTC(),
		Size:     size,
	}
	if err := c.writeEntry(key, data, meta); err != nil {
		c.logger.Error("Failed to write cache entry", map[string]interface{}{
			"path":       path,
			"site":       siteID,
			"error":      err.Error(),
			"error_code": string(errors.ErrCodeCacheIO),
		})
		c.removeEntry(key)
		return
	}
	if err := os.Chtimes(c.payloadPath(key), now, now); err != nil {
		c.logger.Debug("Failed to record cache access time", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}

	c.notify(func(o Observer) { o.RecordCacheStore(len(data)) })
	c.reportSize()
}

// Remove deletes the entry for path on siteID, if any.
func (c *FileCache) Remove(path, siteID string) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeEntry(Key(path, siteID))
	c.reportSize()
}

// Clear deletes the cache directory and recreates it empty.
func (c *FileCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.config.Directory); err != nil {
		c.logger.Error("Failed to clear cache directory", map[string]interface{}{
			"directory": c.config.Directory,
			"error":     err.Error(),
		})
	}
	if err := os.MkdirAll(c.config.Directory, 0750); err != nil {
		c.logger.Error("Failed to recreate cache directory", map[string]interface{}{
			"directory": c.config.Directory,
			"error":     err.Error(),
		})
	}
	c.logger.Info("Cache cleared", map[string]interface{}{"directory": c.config.Directory})
	c.notify(func(o Observer) { o.SetCacheSize(0) })
}

// GetStats returns the number and total size of cached payloads.
func (c *FileCache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats Stats
	for _, e := range c.scan() {
		stats.FileCount++
		stats.TotalSizeBytes += e.size
	}
	return stats
}

// Helper methods

func (c *FileCache) payloadPath(key string) string {
	return filepath.Join(c.config.Directory, key+payloadExt)
}

func (c *FileCache) metadataPath(key string) string {
	return filepath.Join(c.config.Directory, key+metadataExt)
}

func (c *FileCache) readMetadata(key string) (*entryMetadata, error) {
	raw, err := os.ReadFile(c.metadataPath(key))
	if err != nil {
		return nil, err
	}
	var meta entryMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, errors.Wrap(errors.ErrCodeCacheCorrupt, "corrupt cache metadata", err).WithComponent("cache")
	}
	if meta.CachedAt.IsZero() {
		return nil, errors.NewError(errors.ErrCodeCacheCorrupt, "corrupt cache metadata: missing cached_at").
			WithComponent("cache")
	}
	return &meta, nil
}

// writeEntry writes the payload and its sidecar through temp files and only
// renames them into place once both are fully written.
func (c *FileCache) writeEntry(key string, data []byte, meta entryMetadata) error {
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	payloadTmp, err := writeTemp(c.config.Directory, data)
	if err != nil {
		return err
	}
	metaTmp, err := writeTemp(c.config.Directory, raw)
	if err != nil {
		_ = os.Remove(payloadTmp) // Ignore error on cleanup
		return err
	}

	if err := os.Rename(payloadTmp, c.payloadPath(key)); err != nil {
		_ = os.Remove(payloadTmp)
		_ = os.Remove(metaTmp)
		return err
	}
	if err := os.Rename(metaTmp, c.metadataPath(key)); err != nil {
		_ = os.Remove(metaTmp)
		return err
	}
	return nil
}

func writeTemp(dir string, data []byte) (string, error) {
	file, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return "", err
	}
	name := file.Name()
	if _, err := file.Write(data); err != nil {
		_ = file.Close()
		_ = os.Remove(name)
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(name)
		return "", err
	}
	return name, nil
}

// removeEntry deletes both files of an entry. Missing files are not an error.
func (c *FileCache) removeEntry(key string) bool {
	removed := false
	for _, p := range []string{c.payloadPath(key), c.metadataPath(key)} {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed = true
		case !os.IsNotExist(err):
			c.logger.Warn("Failed to remove cache file", map[string]interface{}{
				"file":  p,
				"error": err.Error(),
			})
		}
	}
	return removed
}

// scan lists the payloads currently on disk. Errors degrade to a partial list.
func (c *FileCache) scan() []diskEntry {
	dirEntries, err := os.ReadDir(c.config.Directory)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("Failed to list cache directory", map[string]interface{}{
				"directory": c.config.Directory,
				"error":     err.Error(),
			})
		}
		return nil
	}

	entries := make([]diskEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, payloadExt) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, diskEntry{
			key:        strings.TrimSuffix(name, payloadExt),
			size:       info.Size(),
			accessTime: info.ModTime(),
		})
	}
	return entries
}

// evictFor removes the least recently accessed entries until incoming bytes
// fit under the ceiling. A failed removal does not stop the pass.
func (c *FileCache) evictFor(incoming int64) {
	entries := c.scan()

	var current int64
	for _, e := range entries {
		current += e.size
	}
	if current+incoming <= c.config.MaxSizeBytes {
		return
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].accessTime.Equal(entries[j].accessTime) {
			return entries[i].key < entries[j].key
		}
		return entries[i].accessTime.Before(entries[j].accessTime)
	})

	evicted := 0
	for _, e := range entries {
		if current+incoming <= c.config.MaxSizeBytes {
			break
		}
		if c.removeEntry(e.key) {
			evicted++
		}
		current -= e.size
	}

	c.logger.Debug("Evicted cache entries", map[string]interface{}{
		"evicted":   evicted,
		"remaining": utils.FormatBytes(current),
	})
	c.notify(func(o Observer) { o.RecordCacheEviction(evicted) })
}

func (c *FileCache) miss() {
	c.notify(func(o Observer) { o.RecordCacheMiss() })
}

func (c *FileCache) reportSize() {
	if c.observer == nil {
		return
	}
	var total int64
	for _, e := range c.scan() {
		total += e.size
	}
	c.notify(func(o Observer) { o.SetCacheSize(total) })
}

func (c *FileCache) notify(fn func(Observer)) {
	if c.observer == nil {
		return
	}
	defer func() { _ = recover() }()
	fn(c.observer)
}
