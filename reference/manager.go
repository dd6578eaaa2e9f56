package reference

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/albertocavalcante/go-bzlrel/descriptor"
	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/mapper"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// Resolver maps Bazel module names to tracked modules.
type Resolver interface {
	// ModuleByArtifact returns the tracked module publishing the Bazel module name.
	ModuleByArtifact(name string) (version.NodePath, bool)
	// Mapper returns the version mapper of a tracked module.
	Mapper(module version.NodePath) (mapper.Mapper, bool)
}

// Manager lists and rewrites references in MODULE.bazel trees.
type Manager struct {
	id       string
	resolver Resolver
	actions  map[Condition]Action
	logger   *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithAction sets how a condition is handled. Conditions default to ActionWarn.
func WithAction(c Condition, a Action) Option {
	return func(m *Manager) {
		m.actions[c] = a
	}
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager returns a manager with a fresh adapter id.
func NewManager(resolver Resolver, opts ...Option) *Manager {
	m := &Manager{
		id:       uuid.NewString(),
		resolver: resolver,
		actions:  make(map[Condition]Action),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logutil.OrDiscard(m.logger)
	return m
}

// ID returns the adapter id stamped on every Locator this manager produces.
func (m *Manager) ID() string { return m.id }

// Action returns the configured handling of c.
func (m *Manager) Action(c Condition) Action { return m.actions[c] }

// References lists the references declared by the module checked out at dir.
//
// The root descriptor, its include() segments and aggregated sub-modules are
// scanned. References between members of the aggregate are skipped.
func (m *Manager) References(dir string) ([]Reference, error) {
	tree, err := descriptor.LoadTree(dir)
	if err != nil {
		return nil, err
	}
	if err := checkAggregate(tree); err != nil {
		return nil, err
	}

	internal := tree.ModuleNames()
	var refs []Reference
	for _, f := range tree.Files {
		rel := tree.Rel(f)
		for _, dep := range f.Deps() {
			if dep.Name == "" || internal[dep.Name] {
				continue
			}
			if !dep.Resolved {
				if dep.Placeholder == "" {
					// Version pinned elsewhere, e.g. by an override.
					m.logger.Debug("skipping reference without version", "file", rel, "module", dep.Name)
					continue
				}
				if err := m.handle(UnresolvedProperty, rel, dep); err != nil {
					return nil, err
				}
				continue
			}

			ref := Reference{
				ArtifactName:    dep.Name,
				ArtifactVersion: dep.Version,
				DevDependency:   dep.DevDependency,
				Locator: Locator{
					AdapterID: m.id,
					File:      rel,
					Index:     dep.Index,
					Name:      dep.Name,
				},
			}
			target, ok, err := m.target(dep)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", rel, err)
			}
			if !ok {
				if err := m.handle(ModuleNotFound, rel, dep); err != nil {
					return nil, err
				}
			}
			ref.Target = target
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (m *Manager) target(dep descriptor.Dep) (*version.ModuleVersion, bool, error) {
	path, ok := m.resolver.ModuleByArtifact(dep.Name)
	if !ok {
		return nil, false, nil
	}
	mp, ok := m.resolver.Mapper(path)
	if !ok {
		mp = mapper.Default()
	}
	v, err := mp.ToVersion(dep.Version)
	if err != nil {
		return nil, false, fmt.Errorf("bazel_dep %s: %w", dep.Name, err)
	}
	return &version.ModuleVersion{NodePath: path, Version: v}, true, nil
}

func (m *Manager) handle(c Condition, file string, dep descriptor.Dep) error {
	switch m.actions[c] {
	case ActionIgnore:
		return nil
	case ActionAbort:
		sentinel := ErrModuleNotFound
		if c == UnresolvedProperty {
			sentinel = ErrUnresolvedProperty
		}
		return fmt.Errorf("%s: bazel_dep %s: %w", file, dep.Name, sentinel)
	default:
		m.logger.Warn("unresolved reference",
			"condition", c.String(),
			"file", file,
			"module", dep.Name,
			"placeholder", dep.Placeholder)
		return nil
	}
}

// UpdateReferenceVersion rewrites ref in the module checked out at dir so it
// designates v. Reports whether the descriptor changed.
func (m *Manager) UpdateReferenceVersion(dir string, ref Reference, v version.Version) (bool, error) {
	if ref.Locator.AdapterID != m.id {
		return false, ErrForeignLocator
	}
	if ref.Target == nil {
		return false, fmt.Errorf("%s: %w", ref.ArtifactName, ErrExternalReference)
	}
	mp, ok := m.resolver.Mapper(ref.Target.NodePath)
	if !ok {
		mp = mapper.Default()
	}
	artifact, err := mp.ToArtifactVersion(v)
	if err != nil {
		return false, err
	}

	path, err := locate(dir, ref.Locator.File)
	if err != nil {
		return false, err
	}
	f, err := descriptor.Load(path)
	if err != nil {
		return false, err
	}
	changed, err := f.SetDepVersion(ref.Locator.Index, ref.Locator.Name, artifact)
	if err != nil || !changed {
		return false, err
	}
	if err := f.Save(); err != nil {
		return false, err
	}
	m.logger.Info("updated reference",
		"file", ref.Locator.File,
		"module", ref.ArtifactName,
		"from", ref.ArtifactVersion,
		"to", artifact)
	return true, nil
}

// ArtifactVersion returns the module(version) declared at the root of dir.
func (m *Manager) ArtifactVersion(dir string) (string, error) {
	f, err := descriptor.Load(filepath.Join(dir, descriptor.FileName))
	if err != nil {
		return "", err
	}
	return f.Version(), nil
}

// SetArtifactVersion sets the module(version) of the module at dir, and of
// every aggregated sub-module, to the mapping of v. Reports whether any
// descriptor changed.
func (m *Manager) SetArtifactVersion(dir string, module version.NodePath, v version.Version) (bool, error) {
	mp, ok := m.resolver.Mapper(module)
	if !ok {
		mp = mapper.Default()
	}
	artifact, err := mp.ToArtifactVersion(v)
	if err != nil {
		return false, err
	}
	tree, err := descriptor.LoadTree(dir)
	if err != nil {
		return false, err
	}

	var changed bool
	files := []*descriptor.File{tree.Root}
	for _, s := range tree.SubModules {
		files = append(files, s.File)
	}
	for _, f := range files {
		c, err := f.SetVersion(artifact)
		if err != nil {
			return false, err
		}
		changed = changed || c
	}
	if err := tree.Save(); err != nil {
		return false, err
	}
	return changed, nil
}

func locate(dir, rel string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(rel))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("locator file %q escapes the module directory", rel)
	}
	return filepath.Join(dir, clean), nil
}

func checkAggregate(tree *descriptor.Tree) error {
	root := tree.Root.Version()
	for _, s := range tree.SubModules {
		sub := s.File.Version()
		if sub == "" || sub == root {
			continue
		}
		return &AggregateVersionError{
			Module:     tree.Root.ModuleName(),
			Version:    root,
			SubModule:  s.Name,
			SubVersion: sub,
		}
	}
	return nil
}
