package cloudfile

import (
	"context"
	"time"

	"github.com/objectfs/cloudfile/internal/cache"
	"github.com/objectfs/cloudfile/internal/config"
	"github.com/objectfs/cloudfile/internal/queue"
	"github.com/objectfs/cloudfile/internal/remote"
	"github.com/objectfs/cloudfile/pkg/errors"
	"github.com/objectfs/cloudfile/pkg/retry"
	"github.com/objectfs/cloudfile/pkg/utils"
)

// Client performs file and directory operations against one site. Reads go
// through the site cache; every remote call runs under the retry executor.
type Client struct {
	site     config.SiteConfig
	store    remote.Store
	executor *retry.Executor
	cache    *cache.FileCache
	queue    *queue.Queue
	audit    *auditor
	logger   utils.Logger
}

// Site returns the site this client is bound to.
func (c *Client) Site() config.SiteConfig {
	return c.site
}

// WriteAllBytes uploads data to path and refreshes the cached copy.
func (c *Client) WriteAllBytes(ctx context.Context, path string, data []byte) (err error) {
	rec := c.begin(ctx, "write", path)
	rec.bytes = len(data)
	defer func() { rec.err = err; c.audit.record(rec) }()

	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	rec.path = p

	err = c.executor.Execute(ctx, "upload "+p, func(ctx context.Context) error {
		return c.store.Upload(ctx, c.site.SiteID, p, data)
	})
	if err != nil {
		c.cache.Remove(p, c.site.SiteID)
		return err
	}
	c.cache.Store(p, c.site.SiteID, data)
	return nil
}

// ReadAllBytes returns the content of path, from the cache when possible.
func (c *Client) ReadAllBytes(ctx context.Context, path string) (data []byte, err error) {
	rec := c.begin(ctx, "read", path)
	defer func() { rec.err = err; rec.bytes = len(data); c.audit.record(rec) }()

	p, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	rec.path = p

	if cached, ok := c.cache.TryGet(p, c.site.SiteID); ok {
		rec.cached = true
		return cached, nil
	}

	data, err = retry.ExecuteValue(ctx, c.executor, "download "+p, func(ctx context.Context) ([]byte, error) {
		return c.store.Download(ctx, c.site.SiteID, p)
	})
	if err != nil {
		return nil, err
	}
	c.cache.Store(p, c.site.SiteID, data)
	return data, nil
}

// Exists reports whether path names a file or directory.
func (c *Client) Exists(ctx context.Context, path string) (ok bool, err error) {
	rec := c.begin(ctx, "exists", path)
	defer func() { rec.err = err; c.audit.record(rec) }()

	p, err := normalizePath(path)
	if err != nil {
		return false, err
	}
	rec.path = p

	return retry.ExecuteValue(ctx, c.executor, "exists "+p, func(ctx context.Context) (bool, error) {
		return c.store.Exists(ctx, c.site.SiteID, p)
	})
}

// Delete removes path and drops its cached copy.
func (c *Client) Delete(ctx context.Context, path string) (err error) {
	rec := c.begin(ctx, "delete", path)
	defer func() { rec.err = err; c.audit.record(rec) }()

	p, err := normalizePath(path)
	if err != nil {
		return err
	}
	rec.path = p

	c.cache.Remove(p, c.site.SiteID)
	return c.executor.Execute(ctx, "delete "+p, func(ctx context.Context) error {
		return c.store.Delete(ctx, c.site.SiteID, p)
	})
}

// Move renames from to to. Cached copies of both paths are dropped.
func (c *Client) Move(ctx context.Context, from, to string) (err error) {
	rec := c.begin(ctx, "move", from)
	rec.target = to
	defer func() { rec.err = err; c.audit.record(rec) }()

	src, dst, err := normalizePair(from, to)
	if err != nil {
		return err
	}
	rec.path, rec.target = src, dst

	c.cache.Remove(src, c.site.SiteID)
	c.cache.Remove(dst, c.site.SiteID)
	return c.executor.Execute(ctx, "move "+src, func(ctx context.Context) error {
		return c.store.Move(ctx, c.site.SiteID, src, dst)
	})
}

// ListDirectory returns the direct children of dir; "" lists the site root.
func (c *Client) ListDirectory(ctx context.Context, dir string) (entries []remote.Entry, err error) {
	rec := c.begin(ctx, "list", dir)
	defer func() { rec.err = err; c.audit.record(rec) }()

	d, err := normalizeDir(dir)
	if err != nil {
		return nil, err
	}
	rec.path = d

	return retry.ExecuteValue(ctx, c.executor, "list "+d, func(ctx context.Context) ([]remote.Entry, error) {
		return c.store.List(ctx, c.site.SiteID, d)
	})
}

// CreateDirectory creates dir and any missing parents.
func (c *Client) CreateDirectory(ctx context.Context, dir string) (err error) {
	rec := c.begin(ctx, "create_directory", dir)
	defer func() { rec.err = err; c.audit.record(rec) }()

	d, err := normalizeDir(dir)
	if err != nil {
		return err
	}
	rec.path = d

	return c.executor.Execute(ctx, "mkdir "+d, func(ctx context.Context) error {
		return c.store.CreateDirectory(ctx, c.site.SiteID, d)
	})
}

// WriteAllBytesAsync queues an upload and returns immediately. The cached
// copy is dropped now and refreshed once the upload succeeds.
func (c *Client) WriteAllBytesAsync(ctx context.Context, path string, data []byte, onSuccess queue.SuccessFunc, onError queue.ErrorFunc) (*queue.Handle, error) {
	p, err := normalizePath(path)
	if err != nil {
		return nil, err
	}
	payload := append([]byte(nil), data...)

	c.cache.Remove(p, c.site.SiteID)
	action := func(ctx context.Context) error {
		if err := c.store.Upload(ctx, c.site.SiteID, p, payload); err != nil {
			return err
		}
		c.cache.Store(p, c.site.SiteID, payload)
		return nil
	}
	rec := c.begin(ctx, "write_async", p)
	rec.bytes = len(payload)
	return c.submit(rec, payload, action, onSuccess, onError)
}

// DeleteAsync queues a delete of path.
func (c *Client) DeleteAsync(ctx context.Context, path string, onSuccess queue.SuccessFunc, onError queue.ErrorFunc) (*queue.Handle, error) {
	p, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	c.cache.Remove(p, c.site.SiteID)
	action := func(ctx context.Context) error {
		return c.store.Delete(ctx, c.site.SiteID, p)
	}
	return c.submit(c.begin(ctx, "delete_async", p), nil, action, onSuccess, onError)
}

// MoveAsync queues a move of from to to.
func (c *Client) MoveAsync(ctx context.Context, from, to string, onSuccess queue.SuccessFunc, onError queue.ErrorFunc) (*queue.Handle, error) {
	src, dst, err := normalizePair(from, to)
	if err != nil {
		return nil, err
	}

	c.cache.Remove(src, c.site.SiteID)
	c.cache.Remove(dst, c.site.SiteID)
	action := func(ctx context.Context) error {
		return c.store.Move(ctx, c.site.SiteID, src, dst)
	}
	rec := c.begin(ctx, "move_async", src)
	rec.target = dst
	return c.submit(rec, nil, action, onSuccess, onError)
}

// submit hands action to the site queue and audits the item once it settles.
// A rejected submission is audited immediately.
func (c *Client) submit(rec auditRecord, payload []byte, action queue.Action, onSuccess queue.SuccessFunc, onError queue.ErrorFunc) (*queue.Handle, error) {
	success := func(path string) {
		c.audit.record(rec)
		if onSuccess != nil {
			onSuccess(path)
		}
	}
	failure := func(path string, err error) {
		r := rec
		r.err = err
		c.audit.record(r)
		if onError != nil {
			onError(path, err)
		}
	}

	h, err := c.queue.Submit(rec.path, payload, action, success, failure)
	if err != nil {
		rec.err = err
		c.audit.record(rec)
		return nil, err
	}
	c.logger.Debug("Operation submitted", map[string]interface{}{
		"id":        h.ID,
		"operation": rec.operation,
		"path":      rec.path,
	})
	return h, nil
}

// WaitForUploads blocks until the site queue has no queued or running work.
// A positive timeout bounds the wait.
func (c *Client) WaitForUploads(ctx context.Context, timeout time.Duration) error {
	return c.queue.WaitForAll(ctx, timeout)
}

// QueueStats returns a snapshot of the site queue.
func (c *Client) QueueStats() queue.Stats {
	return c.queue.GetStats()
}

// CacheStats returns the site cache usage.
func (c *Client) CacheStats() cache.Stats {
	return c.cache.GetStats()
}

// ClearCache drops every cached file of the site.
func (c *Client) ClearCache() {
	c.cache.Clear()
}

func (c *Client) begin(ctx context.Context, operation, path string) auditRecord {
	return auditRecord{
		correlationID: correlationFor(ctx),
		operation:     operation,
		site:          c.site.Name,
		path:          path,
		start:         time.Now(),
	}
}

func normalizePath(path string) (string, error) {
	p, err := utils.NormalizePath(path)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodePathInvalid, "invalid path", err).
			WithComponent("cloudfile").
			WithContext("path", path)
	}
	return p, nil
}

func normalizeDir(dir string) (string, error) {
	d, err := utils.NormalizeDir(dir)
	if err != nil {
		return "", errors.Wrap(errors.ErrCodePathInvalid, "invalid directory", err).
			WithComponent("cloudfile").
			WithContext("path", dir)
	}
	return d, nil
}

func normalizePair(from, to string) (string, string, error) {
	src, err := normalizePath(from)
	if err != nil {
		return "", "", err
	}
	dst, err := normalizePath(to)
	if err != nil {
		return "", "", err
	}
	return src, dst, nil
}
