package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/version"
)

const (
	// indexPrefix prefixes the store keys mapping a directory (relative to the
	// root) to its descriptor.
	indexPrefix = "workspace-dir."

	systemDirName = ".bzlrel/system"
)

// Compile-time interface compliance check
var _ Provider = (*FS)(nil)

// FS is a Provider laying directories out under a root directory. The
// directory index is kept in a PropertyStore so it survives across runs.
// Locks are held in process.
//
// Layout:
//
//	<root>/.bzlrel/system/<normalized module path>
//	<root>/<module path>@<D|S>-<version name>
type FS struct {
	root          string
	store         runctx.PropertyStore
	multiVersions bool
	logger        *slog.Logger
	locks         map[string]*lock
}

type lock struct {
	readers int
	writer  bool
}

// FSOption configures an FS provider.
type FSOption func(*FS)

// WithMultipleVersions allows several user directories for the same module.
// By default a module has at most one user directory.
func WithMultipleVersions(allow bool) FSOption {
	return func(f *FS) {
		f.multiVersions = allow
	}
}

// WithFSLogger sets the logger.
func WithFSLogger(l *slog.Logger) FSOption {
	return func(f *FS) {
		f.logger = l
	}
}

// NewFS creates a provider rooted at root.
func NewFS(root string, store runctx.PropertyStore, opts ...FSOption) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	f := &FS{
		root:  abs,
		store: store,
		locks: make(map[string]*lock),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = logutil.OrDiscard(f.logger)
	return f, nil
}

// Root returns the workspace root.
func (f *FS) Root() string {
	return f.root
}

// Get returns the directory described by desc and acquires it.
func (f *FS) Get(ctx context.Context, desc Descriptor, mode GetMode, access Access) (string, error) {
	path, exists, err := f.Path(ctx, desc)
	if err != nil {
		return "", err
	}

	switch {
	case exists && mode == Create:
		return "", fmt.Errorf("%s: %w", desc, ErrExists)
	case !exists && mode == GetExisting:
		return "", fmt.Errorf("%s: %w", desc, ErrNotFound)
	case !exists:
		if path, err = f.create(ctx, desc); err != nil {
			return "", err
		}
	}

	if err := f.acquire(path, access); err != nil {
		return "", fmt.Errorf("%s: %w", desc, err)
	}
	return path, nil
}

func (f *FS) create(ctx context.Context, desc Descriptor) (string, error) {
	if desc.Kind == User {
		if desc.Version.IsZero() {
			return "", fmt.Errorf("user workspace directory for %s requires a version", desc.Module)
		}
		if other, ok, err := f.Conflict(ctx, desc); err != nil {
			return "", err
		} else if ok {
			return "", fmt.Errorf("%s conflicts with %s: %w", desc, other, ErrConflict)
		}
	}

	path := f.layout(desc)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("%s: path %s is in use: %w", desc, path, ErrExists)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("creating workspace directory: %w", err)
	}
	if err := f.store.Set(ctx, indexPrefix+f.rel(path), desc.String()); err != nil {
		os.RemoveAll(path)
		return "", err
	}
	f.logger.Debug("workspace directory created", "descriptor", desc.String(), "path", path)
	return path, nil
}

func (f *FS) acquire(path string, access Access) error {
	l := f.locks[path]
	switch access {
	case Peek:
		return nil
	case Read:
		if l != nil && l.writer {
			return fmt.Errorf("%s held for %s: %w", path, ReadWrite, ErrLocked)
		}
		if l == nil {
			l = &lock{}
			f.locks[path] = l
		}
		l.readers++
	case ReadWrite:
		if l != nil && (l.writer || l.readers > 0) {
			return fmt.Errorf("%s already held: %w", path, ErrLocked)
		}
		f.locks[path] = &lock{writer: true}
	default:
		return fmt.Errorf("invalid access mode %d", access)
	}
	return nil
}

// Release releases a directory acquired with Read or ReadWrite access.
// Releasing a directory that is not held is a no-op.
func (f *FS) Release(path string) {
	l := f.locks[path]
	if l == nil {
		return
	}
	if l.writer {
		delete(f.locks, path)
		return
	}
	l.readers--
	if l.readers <= 0 {
		delete(f.locks, path)
	}
}

// Exists reports whether the directory described by desc exists.
func (f *FS) Exists(ctx context.Context, desc Descriptor) (bool, error) {
	_, ok, err := f.Path(ctx, desc)
	return ok, err
}

// Path returns the path of an existing directory. Index entries whose
// directory disappeared from disk are dropped.
func (f *FS) Path(ctx context.Context, desc Descriptor) (string, bool, error) {
	entries, err := f.entries(ctx)
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if e.desc == desc {
			return e.path, true, nil
		}
	}
	return f.layout(desc), false, nil
}

// Conflict returns the user directory of the same module pinned to another
// version when multiple versions are not allowed.
func (f *FS) Conflict(ctx context.Context, desc Descriptor) (Descriptor, bool, error) {
	if desc.Kind != User || f.multiVersions {
		return Descriptor{}, false, nil
	}
	dirs, err := f.List(ctx, ForModule(desc.Module, User))
	if err != nil {
		return Descriptor{}, false, err
	}
	for _, d := range dirs {
		if d.Version != desc.Version {
			return d, true, nil
		}
	}
	return Descriptor{}, false, nil
}

// Delete removes the directory described by desc.
func (f *FS) Delete(ctx context.Context, desc Descriptor) error {
	path, ok, err := f.Path(ctx, desc)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", desc, ErrNotFound)
	}
	if f.locks[path] != nil {
		return fmt.Errorf("deleting %s: %w", desc, ErrLocked)
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("deleting workspace directory: %w", err)
	}
	if err := f.store.Delete(ctx, indexPrefix+f.rel(path)); err != nil {
		return err
	}
	f.logger.Debug("workspace directory deleted", "descriptor", desc.String(), "path", path)
	return nil
}

// List returns the existing directories accepted by filter, sorted by path.
func (f *FS) List(ctx context.Context, filter func(Descriptor) bool) ([]Descriptor, error) {
	entries, err := f.entries(ctx)
	if err != nil {
		return nil, err
	}
	var descs []Descriptor
	for _, e := range entries {
		if filter == nil || filter(e.desc) {
			descs = append(descs, e.desc)
		}
	}
	return descs, nil
}

// Lookup returns the descriptor of the directory at path.
func (f *FS) Lookup(ctx context.Context, path string) (Descriptor, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Descriptor{}, false, err
	}
	v, ok, err := f.store.Get(ctx, indexPrefix+f.rel(abs))
	if err != nil || !ok {
		return Descriptor{}, false, err
	}
	if _, err := os.Stat(abs); err != nil {
		return Descriptor{}, false, nil
	}
	desc, err := ParseDescriptor(v)
	if err != nil {
		return Descriptor{}, false, err
	}
	return desc, true, nil
}

// Relabel changes the version the user directory at path is pinned to.
func (f *FS) Relabel(ctx context.Context, path string, v version.Version) error {
	desc, ok, err := f.Lookup(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	if desc.Kind != User {
		return nil
	}
	desc.Version = v
	return f.store.Set(ctx, indexPrefix+f.rel(path), desc.String())
}

type entry struct {
	path string
	desc Descriptor
}

func (f *FS) entries(ctx context.Context) ([]entry, error) {
	keys, err := f.store.Keys(ctx, indexPrefix)
	if err != nil {
		return nil, err
	}
	var entries []entry
	for _, key := range keys {
		rel := strings.TrimPrefix(key, indexPrefix)
		path := filepath.Join(f.root, filepath.FromSlash(rel))
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			f.logger.Warn("dropping stale workspace directory entry", "path", path)
			if err := f.store.Delete(ctx, key); err != nil {
				return nil, err
			}
			continue
		}
		v, ok, err := f.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		desc, err := ParseDescriptor(v)
		if err != nil {
			return nil, fmt.Errorf("workspace index entry %s: %w", key, err)
		}
		entries = append(entries, entry{path: path, desc: desc})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].path < entries[j].path })
	return entries, nil
}

func (f *FS) layout(desc Descriptor) string {
	if desc.Kind == System {
		return filepath.Join(f.root, filepath.FromSlash(systemDirName), desc.Module.Normalized())
	}
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(desc.Version.Name)
	return filepath.Join(f.root, filepath.FromSlash(desc.Module.String())) + "@" + desc.Version.Type.String() + "-" + name
}

func (f *FS) rel(path string) string {
	rel, err := filepath.Rel(f.root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}
