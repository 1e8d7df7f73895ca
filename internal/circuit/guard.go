package circuit

import (
	"context"

	"github.com/objectfs/cloudfile/internal/remote"
)

// guarded routes every call of the wrapped Store through the breaker of
// the call's site.
type guarded struct {
	store   remote.Store
	manager *Manager
}

// Guard wraps store. A nil manager returns store unchanged.
func Guard(store remote.Store, manager *Manager) remote.Store {
	if manager == nil {
		return store
	}
	return &guarded{store: store, manager: manager}
}

func (g *guarded) call(site string, fn func() error) error {
	b := g.manager.Breaker(site)
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn()
	b.Done(err)
	return err
}

func (g *guarded) Upload(ctx context.Context, site, path string, data []byte) error {
	return g.call(site, func() error { return g.store.Upload(ctx, site, path, data) })
}

func (g *guarded) Download(ctx context.Context, site, path string) ([]byte, error) {
	var data []byte
	err := g.call(site, func() (err error) {
		data, err = g.store.Download(ctx, site, path)
		return err
	})
	return data, err
}

func (g *guarded) Exists(ctx context.Context, site, path string) (bool, error) {
	var ok bool
	err := g.call(site, func() (err error) {
		ok, err = g.store.Exists(ctx, site, path)
		return err
	})
	return ok, err
}

func (g *guarded) Delete(ctx context.Context, site, path string) error {
	return g.call(site, func() error { return g.store.Delete(ctx, site, path) })
}

func (g *guarded) Move(ctx context.Context, site, from, to string) error {
	return g.call(site, func() error { return g.store.Move(ctx, site, from, to) })
}

func (g *guarded) List(ctx context.Context, site, dir string) ([]remote.Entry, error) {
	var entries []remote.Entry
	err := g.call(site, func() (err error) {
		entries, err = g.store.List(ctx, site, dir)
		return err
	})
	return entries, err
}

func (g *guarded) CreateDirectory(ctx context.Context, site, dir string) error {
	return g.call(site, func() error { return g.store.CreateDirectory(ctx, site, dir) })
}
