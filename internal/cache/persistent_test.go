package cache

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cloudfile/pkg/utils"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingObserver struct {
	mu                            sync.Mutex
	hits, misses, evicted, stores int
	size                          int64
}

func (o *recordingObserver) RecordCacheHit() { o.mu.Lock(); o.hits++; o.mu.Unlock() }
func (o *recordingObserver) RecordCacheMiss() { o.mu.Lock(); o.misses++; o.mu.Unlock() }
func (o *recordingObserver) RecordCacheEviction(n int) {
	o.mu.Lock()
	o.evicted += n
	o.mu.Unlock()
}
func (o *recordingObserver) RecordCacheStore(int) { o.mu.Lock(); o.stores++; o.mu.Unlock() }
func (o *recordingObserver) SetCacheSize(n int64) { o.mu.Lock(); o.size = n; o.mu.Unlock() }

func newTestCache(t *testing.T, maxSize int64, clock *testClock, opts ...Option) *FileCache {
	t.Helper()
	opts = append(opts, WithClock(clock.Now))
	return NewFileCache(Config{
		Enabled:      true,
		Directory:    filepath.Join(t.TempDir(), "cache"),
		MaxSizeBytes: maxSize,
		Expiration:   time.Hour,
	}, opts...)
}

func TestNewFileCache_Defaults(t *testing.T) {
	c := NewFileCache(Config{Enabled: true, Directory: t.TempDir()})

	cfg := c.Config()
	assert.Equal(t, int64(defaultMaxSize), cfg.MaxSizeBytes)
	assert.Equal(t, defaultExpiration, cfg.Expiration)
	assert.True(t, c.Enabled())
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key("Docs/Readme.TXT", "SiteA"), Key("docs/readme.txt", "sitea"))
	assert.NotEqual(t, Key("docs/readme.txt", "siteA"), Key("docs/readme.txt", "siteB"))
	assert.Len(t, Key("a", "b"), 64)
}

func TestFileCache_StoreAndGet(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)

	payload := []byte("0123456789")
	c.Store("docs/readme.txt", "siteA", payload)

	data, ok := c.TryGet("docs/readme.txt", "siteA")
	require.True(t, ok)
	assert.Equal(t, payload, data)

	_, ok = c.TryGet("docs/readme.txt", "siteB")
	assert.False(t, ok, "entries are isolated per site")
}

func TestFileCache_CaseInsensitiveKey(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)

	c.Store("A/B", "Site", []byte("abc"))

	data, ok := c.TryGet("a/b", "site")
	require.True(t, ok)
	assert.Equal(t, []byte("abc"), data)
}

func TestFileCache_Expiration(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)
	c.Store("docs/a.txt", "site", []byte("fresh"))

	clock.Advance(time.Hour - time.Second)
	_, ok := c.TryGet("docs/a.txt", "site")
	assert.True(t, ok, "entry is still fresh just before the horizon")

	clock.Advance(2 * time.Second)
	_, ok = c.TryGet("docs/a.txt", "site")
	assert.False(t, ok, "entry is stale just after the horizon")

	key := Key("docs/a.txt", "site")
	_, err := os.Stat(c.payloadPath(key))
	assert.True(t, os.IsNotExist(err), "stale payload is removed")
	_, err = os.Stat(c.metadataPath(key))
	assert.True(t, os.IsNotExist(err), "stale metadata is removed")
}

func TestFileCache_OversizedPayloadNotCached(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 100, clock)

	c.Store("big.bin", "site", bytes.Repeat([]byte{1}, 150))

	_, ok := c.TryGet("big.bin", "site")
	assert.False(t, ok)
	assert.Equal(t, Stats{}, c.GetStats())
}

func TestFileCache_EvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newTestClock()
	observer := &recordingObserver{}
	c := newTestCache(t, 30, clock, WithObserver(observer))
	ten := bytes.Repeat([]byte{7}, 10)

	c.Store("a", "site", ten)
	clock.Advance(time.Minute)
	c.Store("b", "site", ten)
	clock.Advance(time.Minute)
	c.Store("c", "site", ten)
	clock.Advance(time.Minute)

	// a was stored first but read most recently
	_, ok := c.TryGet("a", "site")
	require.True(t, ok)
	clock.Advance(time.Minute)

	c.Store("d", "site", ten)

	_, ok = c.TryGet("b", "site")
	assert.False(t, ok, "least recently accessed entry is evicted")
	for _, p := range []string{"a", "c", "d"} {
		_, ok := c.TryGet(p, "site")
		assert.True(t, ok, "entry %s should survive", p)
	}

	assert.Equal(t, Stats{FileCount: 3, TotalSizeBytes: 30}, c.GetStats())
	assert.Equal(t, 1, observer.evicted)
	assert.Equal(t, int64(30), observer.size)
}

func TestFileCache_EvictsUntilFits(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 40, clock)

	for i := 0; i < 4; i++ {
		c.Store(fmt.Sprintf("f%d", i), "site", bytes.Repeat([]byte{1}, 10))
		clock.Advance(time.Second)
	}
	c.Store("big", "site", bytes.Repeat([]byte{2}, 25))

	stats := c.GetStats()
	assert.LessOrEqual(t, stats.TotalSizeBytes, int64(40))
	_, ok := c.TryGet("big", "site")
	assert.True(t, ok)
	_, ok = c.TryGet("f3", "site")
	assert.True(t, ok, "newest small entry survives")
	_, ok = c.TryGet("f0", "site")
	assert.False(t, ok)
}

func TestFileCache_ReplaceExisting(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 20, clock)

	c.Store("doc", "site", bytes.Repeat([]byte{1}, 15))
	c.Store("doc", "site", bytes.Repeat([]byte{2}, 18))

	data, ok := c.TryGet("doc", "site")
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{2}, 18), data)
	assert.Equal(t, Stats{FileCount: 1, TotalSizeBytes: 18}, c.GetStats())
}

func TestFileCache_CorruptMetadata(t *testing.T) {
	clock := newTestClock()
	var logs bytes.Buffer
	logger := utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:  utils.DEBUG,
		Output: &logs,
		Format: utils.FormatJSON,
	})
	c := newTestCache(t, 1024, clock, WithLogger(logger))
	c.Store("doc", "site", []byte("payload"))

	key := Key("doc", "site")
	require.NoError(t, os.WriteFile(c.metadataPath(key), []byte("not json"), 0600))

	_, ok := c.TryGet("doc", "site")
	assert.False(t, ok)
	_, err := os.Stat(c.payloadPath(key))
	assert.True(t, os.IsNotExist(err), "payload is removed with its corrupt sidecar")
	assert.Contains(t, logs.String(), `"error_code":"CACHE_CORRUPT"`)
}

func TestFileCache_TruncatedPayload(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)
	c.Store("doc", "site", []byte("payload"))

	require.NoError(t, os.WriteFile(c.payloadPath(Key("doc", "site")), []byte("pay"), 0600))

	_, ok := c.TryGet("doc", "site")
	assert.False(t, ok)
}

func TestFileCache_MetadataRecord(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)
	c.Store("Docs/Report.pdf", "SiteA", []byte("12345"))

	meta, err := c.readMetadata(Key("Docs/Report.pdf", "SiteA"))
	require.NoError(t, err)
	assert.Equal(t, "Docs/Report.pdf", meta.Path)
	assert.Equal(t, "SiteA", meta.SiteID)
	assert.Equal(t, int64(5), meta.Size)
	assert.True(t, meta.CachedAt.Equal(clock.Now()))
	assert.Equal(t, time.UTC, meta.CachedAt.Location())
}

func TestFileCache_Disabled(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	c := NewFileCache(Config{Enabled: false, Directory: dir, MaxSizeBytes: 1024})

	c.Store("doc", "site", []byte("data"))
	_, ok := c.TryGet("doc", "site")
	assert.False(t, ok)

	_, err := os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "disabled cache never touches disk")
}

func TestFileCache_RemoveAndClear(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 1024, clock)

	c.Store("a", "site", []byte("1"))
	c.Store("b", "site", []byte("22"))

	c.Remove("a", "site")
	_, ok := c.TryGet("a", "site")
	assert.False(t, ok)
	assert.Equal(t, Stats{FileCount: 1, TotalSizeBytes: 2}, c.GetStats())

	c.Clear()
	assert.Equal(t, Stats{}, c.GetStats())
	info, err := os.Stat(c.Config().Directory)
	require.NoError(t, err)
	assert.True(t, info.IsDir(), "directory is recreated empty")
}

func TestFileCache_StatsMissingDirectory(t *testing.T) {
	c := NewFileCache(Config{Enabled: true, Directory: filepath.Join(t.TempDir(), "absent")})
	assert.Equal(t, Stats{}, c.GetStats())
}

func TestFileCache_ObserverCounts(t *testing.T) {
	clock := newTestClock()
	observer := &recordingObserver{}
	c := newTestCache(t, 1024, clock, WithObserver(observer))

	c.TryGet("doc", "site")
	c.Store("doc", "site", []byte("data"))
	c.TryGet("doc", "site")

	assert.Equal(t, 1, observer.misses)
	assert.Equal(t, 1, observer.hits)
	assert.Equal(t, 1, observer.stores)
	assert.Equal(t, int64(4), observer.size)
}

func TestFileCache_ConcurrentAccess(t *testing.T) {
	clock := newTestClock()
	c := newTestCache(t, 64*1024, clock)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				path := fmt.Sprintf("g%d/file%d", g, i)
				payload := []byte(path)
				c.Store(path, "site", payload)
				if data, ok := c.TryGet(path, "site"); ok && !bytes.Equal(data, payload) {
					t.Errorf("corrupt read for %s", path)
				}
			}
		}(g)
	}
	wg.Wait()

	assert.Equal(t, 160, c.GetStats().FileCount)
}
