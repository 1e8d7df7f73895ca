package remote

import (
	"context"
	"time"
)

// Observer receives the duration and outcome of each remote call.
type Observer interface {
	ObserveRemote(operation string, duration time.Duration, err error)
}

// Instrumented reports every call of the wrapped Store to an Observer.
type Instrumented struct {
	store    Store
	observer Observer
}

// Instrument wraps store. A nil observer returns store unchanged.
func Instrument(store Store, observer Observer) Store {
	if observer == nil {
		return store
	}
	return &Instrumented{store: store, observer: observer}
}

func (i *Instrumented) observe(operation string, start time.Time, err error) {
	i.observer.ObserveRemote(operation, time.Since(start), err)
}

func (i *Instrumented) Upload(ctx context.Context, site, path string, data []byte) (err error) {
	defer func(start time.Time) { i.observe("upload", start, err) }(time.Now())
	return i.store.Upload(ctx, site, path, data)
}

func (i *Instrumented) Download(ctx context.Context, site, path string) (data []byte, err error) {
	defer func(start time.Time) { i.observe("download", start, err) }(time.Now())
	return i.store.Download(ctx, site, path)
}

func (i *Instrumented) Exists(ctx context.Context, site, path string) (ok bool, err error) {
	defer func(start time.Time) { i.observe("exists", start, err) }(time.Now())
	return i.store.Exists(ctx, site, path)
}

func (i *Instrumented) Delete(ctx context.Context, site, path string) (err error) {
	defer func(start time.Time) { i.observe("delete", start, err) }(time.Now())
	return i.store.Delete(ctx, site, path)
}

func (i *Instrumented) Move(ctx context.Context, site, from, to string) (err error) {
	defer func(start time.Time) { i.observe("move", start, err) }(time.Now())
	return i.store.Move(ctx, site, from, to)
}

func (i *Instrumented) List(ctx context.Context, site, dir string) (entries []Entry, err error) {
	defer func(start time.Time) { i.observe("list", start, err) }(time.Now())
	return i.store.List(ctx, site, dir)
}

func (i *Instrumented) CreateDirectory(ctx context.Context, site, dir string) (err error) {
	defer func(start time.Time) { i.observe("create_directory", start, err) }(time.Now())
	return i.store.CreateDirectory(ctx, site, dir)
}
