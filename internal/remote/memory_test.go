package remote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/cloudfile/pkg/errors"
)

var _ Store = (*MemoryStore)(nil)

func TestMemoryStore_UploadDownload(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	data := []byte("quarterly numbers")
	require.NoError(t, m.Upload(ctx, "finance", "reports/q1.txt", data))
	data[0] = 'X' // the store keeps its own copy

	got, err := m.Download(ctx, "finance", "reports/q1.txt")
	require.NoError(t, err)
	assert.Equal(t, "quarterly numbers", string(got))

	_, err = m.Download(ctx, "hr", "reports/q1.txt")
	assert.True(t, errors.IsNotFound(err))

	_, err = m.Download(ctx, "finance", "reports/q2.txt")
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryStore_Exists(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Upload(ctx, "s", "a/b/c.txt", []byte("x")))

	for path, want := range map[string]bool{
		"a/b/c.txt": true,
		"a/b":       true,
		"a":         true,
		"a/b/d.txt": false,
		"ab":        false,
	} {
		ok, err := m.Exists(ctx, "s", path)
		require.NoError(t, err)
		assert.Equal(t, want, ok, path)
	}

	ok, err := m.Exists(ctx, "other", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_DeleteFileAndDirectory(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Upload(ctx, "s", "dir/a.txt", []byte("a")))
	require.NoError(t, m.Upload(ctx, "s", "dir/sub/b.txt", []byte("b")))
	require.NoError(t, m.Upload(ctx, "s", "keep.txt", []byte("k")))

	require.NoError(t, m.Delete(ctx, "s", "dir/a.txt"))
	ok, _ := m.Exists(ctx, "s", "dir/a.txt")
	assert.False(t, ok)

	require.NoError(t, m.Delete(ctx, "s", "dir"))
	ok, _ = m.Exists(ctx, "s", "dir/sub/b.txt")
	assert.False(t, ok)
	ok, _ = m.Exists(ctx, "s", "keep.txt")
	assert.True(t, ok)

	assert.True(t, errors.IsNotFound(m.Delete(ctx, "s", "dir")))
}

func TestMemoryStore_Move(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Upload(ctx, "s", "old.txt", []byte("payload")))

	require.NoError(t, m.Move(ctx, "s", "old.txt", "archive/new.txt"))

	ok, _ := m.Exists(ctx, "s", "old.txt")
	assert.False(t, ok)
	got, err := m.Download(ctx, "s", "archive/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	assert.True(t, errors.IsNotFound(m.Move(ctx, "s", "old.txt", "x.txt")))
}

func TestMemoryStore_ListAndCreateDirectory(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewMemoryStore()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Upload(ctx, "s", "docs/a.txt", []byte("aaa")))
	require.NoError(t, m.Upload(ctx, "s", "docs/nested/b.txt", []byte("b")))
	require.NoError(t, m.CreateDirectory(ctx, "s", "docs/empty/deeper"))

	entries, err := m.List(ctx, "s", "docs")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, Entry{Name: "a.txt", Path: "docs/a.txt", Size: 3, Modified: now}, entries[0])
	assert.Equal(t, "empty", entries[1].Name)
	assert.True(t, entries[1].IsDir)
	assert.Equal(t, "docs/empty", entries[1].Path)
	assert.Equal(t, "nested", entries[2].Name)
	assert.True(t, entries[2].IsDir)

	root, err := m.List(ctx, "s", "")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, "docs", root[0].Name)

	empty, err := m.List(ctx, "s", "docs/empty/deeper")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = m.List(ctx, "s", "missing")
	assert.True(t, errors.IsNotFound(err))

	fresh, err := m.List(ctx, "new-site", "")
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m := NewMemoryStore()

	assert.ErrorIs(t, m.Upload(ctx, "s", "a", nil), context.Canceled)
	_, err := m.Download(ctx, "s", "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path := "f" + string(rune('a'+i)) + ".txt"
			assert.NoError(t, m.Upload(ctx, "s", path, []byte{byte(i)}))
			_, err := m.Download(ctx, "s", path)
			assert.NoError(t, err)
			_, err = m.List(ctx, "s", "")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := m.List(ctx, "s", "")
	require.NoError(t, err)
	assert.Len(t, entries, 20)
}

type observed struct {
	op  string
	err error
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []observed
}

func (r *recordingObserver) ObserveRemote(op string, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, observed{op: op, err: err})
}

func TestInstrument(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	assert.Same(t, m, Instrument(m, nil))

	obs := &recordingObserver{}
	s := Instrument(m, obs)

	require.NoError(t, s.Upload(ctx, "s", "a.txt", []byte("a")))
	_, err := s.Download(ctx, "s", "missing.txt")
	require.Error(t, err)
	_, _ = s.Exists(ctx, "s", "a.txt")
	_ = s.Move(ctx, "s", "a.txt", "b.txt")
	_, _ = s.List(ctx, "s", "")
	_ = s.CreateDirectory(ctx, "s", "d")
	_ = s.Delete(ctx, "s", "b.txt")

	require.Len(t, obs.calls, 7)
	ops := make([]string, 0, len(obs.calls))
	for _, c := range obs.calls {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{"upload", "download", "exists", "move", "list", "create_directory", "delete"}, ops)
	assert.NoError(t, obs.calls[0].err)
	assert.True(t, errors.IsNotFound(obs.calls[1].err))
	assert.NoError(t, obs.calls[3].err)
}
