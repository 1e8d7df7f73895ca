package remote

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/objectfs/cloudfile/pkg/utils"
)

type memoryObject struct {
	data     []byte
	modified time.Time
}

type memorySite struct {
	files map[string]memoryObject
	dirs  map[string]time.Time
}

// MemoryStore keeps every site in process memory. Directories exist
// implicitly as parents of stored files or explicitly once created.
type MemoryStore struct {
	mu    sync.RWMutex
	sites map[string]*memorySite
	now   func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sites: make(map[string]*memorySite),
		now:   time.Now,
	}
}

func (m *MemoryStore) site(name string) *memorySite {
	s, ok := m.sites[name]
	if !ok {
		s = &memorySite{
			files: make(map[string]memoryObject),
			dirs:  make(map[string]time.Time),
		}
		m.sites[name] = s
	}
	return s
}

func (m *MemoryStore) Upload(ctx context.Context, site, path string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.site(site).files[path] = memoryObject{data: buf, modified: m.now()}
	return nil
}

func (m *MemoryStore) Download(ctx context.Context, site, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sites[site]
	if !ok {
		return nil, NotFound("memory", "download", site, path)
	}
	obj, ok := s.files[path]
	if !ok {
		return nil, NotFound("memory", "download", site, path)
	}
	buf := make([]byte, len(obj.data))
	copy(buf, obj.data)
	return buf, nil
}

func (m *MemoryStore) Exists(ctx context.Context, site, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sites[site]
	if !ok {
		return false, nil
	}
	if _, ok := s.files[path]; ok {
		return true, nil
	}
	return s.dirExists(path), nil
}

func (m *MemoryStore) Delete(ctx context.Context, site, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sites[site]
	if !ok {
		return NotFound("memory", "delete", site, path)
	}
	if _, ok := s.files[path]; ok {
		delete(s.files, path)
		return nil
	}
	if !s.dirExists(path) {
		return NotFound("memory", "delete", site, path)
	}
	prefix := path + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			delete(s.files, p)
		}
	}
	for d := range s.dirs {
		if d == path || strings.HasPrefix(d, prefix) {
			delete(s.dirs, d)
		}
	}
	return nil
}

func (m *MemoryStore) Move(ctx context.Context, site, from, to string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sites[site]
	if !ok {
		return NotFound("memory", "move", site, from)
	}
	obj, ok := s.files[from]
	if !ok {
		return NotFound("memory", "move", site, from)
	}
	delete(s.files, from)
	obj.modified = m.now()
	s.files[to] = obj
	return nil
}

func (m *MemoryStore) List(ctx context.Context, site, dir string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sites[site]
	if !ok {
		if dir == "" {
			return []Entry{}, nil
		}
		return nil, NotFound("memory", "list", site, dir)
	}
	if !s.dirExists(dir) {
		return nil, NotFound("memory", "list", site, dir)
	}

	children := make(map[string]Entry)
	for p, obj := range s.files {
		if rest, ok := childOf(dir, p); ok {
			if name, _, nested := strings.Cut(rest, "/"); nested {
				children[name] = Entry{Name: name, Path: utils.JoinPath(dir, name), IsDir: true}
				continue
			}
			children[rest] = Entry{Name: rest, Path: p, Size: int64(len(obj.data)), Modified: obj.modified}
		}
	}
	for d, created := range s.dirs {
		if rest, ok := childOf(dir, d); ok {
			name, _, _ := strings.Cut(rest, "/")
			if _, seen := children[name]; !seen {
				children[name] = Entry{Name: name, Path: utils.JoinPath(dir, name), IsDir: true, Modified: created}
			}
		}
	}

	entries := make([]Entry, 0, len(children))
	for _, e := range children {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (m *MemoryStore) CreateDirectory(ctx context.Context, site, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dir == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.site(site)
	for d := dir; d != ""; d = utils.ParentDir(d) {
		if _, ok := s.dirs[d]; !ok {
			s.dirs[d] = m.now()
		}
	}
	return nil
}

func (s *memorySite) dirExists(dir string) bool {
	if dir == "" {
		return true
	}
	if _, ok := s.dirs[dir]; ok {
		return true
	}
	prefix := dir + "/"
	for p := range s.files {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	for d := range s.dirs {
		if strings.HasPrefix(d, prefix) {
			return true
		}
	}
	return false
}

// childOf returns p relative to dir when p lies below it.
func childOf(dir, p string) (string, bool) {
	if dir == "" {
		return p, p != ""
	}
	prefix := dir + "/"
	if !strings.HasPrefix(p, prefix) || len(p) == len(prefix) {
		return "", false
	}
	return p[len(prefix):], true
}
