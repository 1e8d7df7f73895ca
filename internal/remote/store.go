package remote

import (
	"context"
	"time"

	"github.com/objectfs/cloudfile/pkg/errors"
)

// Store is the remote document storage consumed by the facade. Paths are
// normalized logical paths relative to the site root; "" is the root.
type Store interface {
	Upload(ctx context.Context, site, path string, data []byte) error
	Download(ctx context.Context, site, path string) ([]byte, error)
	Exists(ctx context.Context, site, path string) (bool, error)
	Delete(ctx context.Context, site, path string) error
	Move(ctx context.Context, site, from, to string) error
	List(ctx context.Context, site, dir string) ([]Entry, error)
	CreateDirectory(ctx context.Context, site, dir string) error
}

// Entry describes one child of a listed directory.
type Entry struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	IsDir    bool      `json:"is_dir"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// NotFound builds the error every backend returns for a missing path.
func NotFound(component, operation, site, path string) error {
	return errors.NewError(errors.ErrCodeFileNotFound, "file not found: "+path).
		WithComponent(component).
		WithOperation(operation).
		WithContext("site", site).
		WithContext("path", path)
}
