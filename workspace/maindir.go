package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// mainDirKeyPrefix prefixes the property holding, per module, the main
// directory path relative to the workspace root.
const mainDirKeyPrefix = "main-workspace-dir."

// MainDirs tracks the main user directory of each module.
//
// The mapping is advisory: it is validated whenever it is read and a new
// main directory is elected among the module's user directories when the
// recorded one is gone, is not a user directory or belongs to another module.
// It is not locked.
type MainDirs struct {
	store    runctx.PropertyStore
	provider Provider
	logger   *slog.Logger
}

// NewMainDirs creates the coordinator. A nil logger disables logging.
func NewMainDirs(store runctx.PropertyStore, provider Provider, logger *slog.Logger) *MainDirs {
	return &MainDirs{store: store, provider: provider, logger: logutil.OrDiscard(logger)}
}

// Key returns the property key under which the main directory of module is
// recorded.
func Key(module version.NodePath) string {
	return mainDirKeyPrefix + module.Normalized()
}

// Get returns the main directory of module, electing one when needed.
// ok is false when the module has no user directory.
func (m *MainDirs) Get(ctx context.Context, module version.NodePath) (path string, ok bool, err error) {
	rel, found, err := m.store.Get(ctx, Key(module))
	if err != nil {
		return "", false, err
	}
	if found {
		path = filepath.Join(m.provider.Root(), filepath.FromSlash(rel))
		valid, err := m.valid(ctx, module, path)
		if err != nil {
			return "", false, err
		}
		if valid {
			return path, true, nil
		}
		m.logger.Info("main workspace directory no longer valid", "module", module.String(), "path", path)
	}
	return m.elect(ctx, module, path)
}

// Set records path as the main directory of module.
func (m *MainDirs) Set(ctx context.Context, module version.NodePath, path string) error {
	valid, err := m.valid(ctx, module, path)
	if err != nil {
		return err
	}
	if !valid {
		return fmt.Errorf("%s is not a user workspace directory of %s", path, module)
	}
	rel, err := filepath.Rel(m.provider.Root(), path)
	if err != nil {
		return fmt.Errorf("main workspace directory outside workspace: %w", err)
	}
	return m.store.Set(ctx, Key(module), filepath.ToSlash(rel))
}

// Clear forgets the main directory of module.
func (m *MainDirs) Clear(ctx context.Context, module version.NodePath) error {
	return m.store.Delete(ctx, Key(module))
}

// IsMain reports whether path is the main directory of module.
func (m *MainDirs) IsMain(ctx context.Context, module version.NodePath, path string) (bool, error) {
	main, ok, err := m.Get(ctx, module)
	if err != nil || !ok {
		return false, err
	}
	return filepath.Clean(main) == filepath.Clean(path), nil
}

func (m *MainDirs) valid(ctx context.Context, module version.NodePath, path string) (bool, error) {
	desc, ok, err := m.provider.Lookup(ctx, path)
	if err != nil {
		return false, err
	}
	return ok && desc.Kind == User && desc.Module == module, nil
}

// elect picks the first user directory of module, skipping previous.
func (m *MainDirs) elect(ctx context.Context, module version.NodePath, previous string) (string, bool, error) {
	dirs, err := m.provider.List(ctx, ForModule(module, User))
	if err != nil {
		return "", false, err
	}
	for _, d := range dirs {
		path, ok, err := m.provider.Path(ctx, d)
		if err != nil {
			return "", false, err
		}
		if !ok || path == previous {
			continue
		}
		if err := m.Set(ctx, module, path); err != nil {
			return "", false, err
		}
		m.logger.Info("main workspace directory elected", "module", module.String(), "path", path)
		return path, true, nil
	}
	if err := m.Clear(ctx, module); err != nil {
		return "", false, err
	}
	return "", false, nil
}
