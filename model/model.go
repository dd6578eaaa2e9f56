// Package model holds the tracked modules and the strategies each one
// supports.
//
// Every module carries an explicit capability registry: a map from
// Capability to the implementation serving it. Registries are filled when
// the engine is constructed; callers look strategies up by capability and
// get an error when a module does not support one.
package model

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"

	"github.com/albertocavalcante/go-bzlrel/mapper"
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

var (
	// ErrUnknownModule is returned for node paths that are not tracked.
	ErrUnknownModule = errors.New("unknown module")

	// ErrUnsupported is returned when a module lacks a capability.
	ErrUnsupported = errors.New("capability not supported")

	// ErrDuplicate is returned when a module or capability is registered twice.
	ErrDuplicate = errors.New("already registered")
)

// Capability names a strategy a module can carry.
type Capability int

const (
	// SourceControl is served by an scm.Adapter.
	SourceControl Capability = iota + 1
	// ReferenceManager is served by a References implementation.
	ReferenceManager
	// VersionMapper is served by a mapper.Mapper.
	VersionMapper
	// VersionNaming is served by a StaticVersionNamer.
	VersionNaming
)

func (c Capability) String() string {
	switch c {
	case SourceControl:
		return "source-control"
	case ReferenceManager:
		return "reference-manager"
	case VersionMapper:
		return "version-mapper"
	case VersionNaming:
		return "version-naming"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// References lists and rewrites the references of a checked out module.
type References interface {
	References(dir string) ([]reference.Reference, error)
	UpdateReferenceVersion(dir string, ref reference.Reference, v version.Version) (bool, error)
	ArtifactVersion(dir string) (string, error)
	SetArtifactVersion(dir string, module version.NodePath, v version.Version) (bool, error)
}

// StaticVersionNamer picks the name of the next static version of a module.
type StaticVersionNamer interface {
	NewStaticVersion(ctx context.Context, prefix string) (version.Version, error)
}

// Module is one tracked module.
type Module struct {
	Path version.NodePath
	// ArtifactName is the Bazel module name.
	ArtifactName string
	caps         map[Capability]any
}

// NewModule returns a module with an empty registry.
func NewModule(path version.NodePath, artifactName string) *Module {
	return &Module{Path: path, ArtifactName: artifactName, caps: make(map[Capability]any)}
}

// Register binds impl to c. A capability can be registered once.
func (m *Module) Register(c Capability, impl any) error {
	if impl == nil {
		return fmt.Errorf("%s: %s: nil implementation", m.Path, c)
	}
	if _, ok := m.caps[c]; ok {
		return fmt.Errorf("%s: %s: %w", m.Path, c, ErrDuplicate)
	}
	m.caps[c] = impl
	return nil
}

// Has reports whether the module supports c.
func (m *Module) Has(c Capability) bool {
	_, ok := m.caps[c]
	return ok
}

// Capabilities returns the registered capabilities in ascending order.
func (m *Module) Capabilities() []Capability {
	out := make([]Capability, 0, len(m.caps))
	for c := range m.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strategy returns the implementation registered for c as a T.
func Strategy[T any](m *Module, c Capability) (T, error) {
	var zero T
	impl, ok := m.caps[c]
	if !ok {
		return zero, fmt.Errorf("%s: %s: %w", m.Path, c, ErrUnsupported)
	}
	t, ok := impl.(T)
	if !ok {
		return zero, fmt.Errorf("%s: %s: registered %T does not implement %v", m.Path, c, impl, reflect.TypeFor[T]())
	}
	return t, nil
}

// SCM returns the module's source-control adapter.
func (m *Module) SCM() (scm.Adapter, error) {
	return Strategy[scm.Adapter](m, SourceControl)
}

// References returns the module's reference manager.
func (m *Module) References() (References, error) {
	return Strategy[References](m, ReferenceManager)
}

// Mapper returns the module's version mapper.
func (m *Module) Mapper() (mapper.Mapper, error) {
	return Strategy[mapper.Mapper](m, VersionMapper)
}

// StaticVersionNamer returns the module's static version naming strategy.
func (m *Module) StaticVersionNamer() (StaticVersionNamer, error) {
	return Strategy[StaticVersionNamer](m, VersionNaming)
}

// Model is the set of tracked modules.
type Model struct {
	modules []*Module
	byPath  map[version.NodePath]*Module
	byName  map[string]*Module
}

// New returns an empty model.
func New() *Model {
	return &Model{
		byPath: make(map[version.NodePath]*Module),
		byName: make(map[string]*Module),
	}
}

// Add tracks a module. Node paths and artifact names must be unique.
func (m *Model) Add(mod *Module) error {
	if _, ok := m.byPath[mod.Path]; ok {
		return fmt.Errorf("module %s: %w", mod.Path, ErrDuplicate)
	}
	if _, ok := m.byName[mod.ArtifactName]; ok {
		return fmt.Errorf("bazel module %s: %w", mod.ArtifactName, ErrDuplicate)
	}
	m.modules = append(m.modules, mod)
	m.byPath[mod.Path] = mod
	m.byName[mod.ArtifactName] = mod
	return nil
}

// Module returns the module at path.
func (m *Model) Module(path version.NodePath) (*Module, error) {
	mod, ok := m.byPath[path]
	if !ok {
		return nil, fmt.Errorf("%s: %w", path, ErrUnknownModule)
	}
	return mod, nil
}

// Modules returns the tracked modules in registration order.
func (m *Model) Modules() []*Module {
	return append([]*Module(nil), m.modules...)
}

// ModuleByArtifact returns the module publishing the Bazel module name.
func (m *Model) ModuleByArtifact(name string) (version.NodePath, bool) {
	mod, ok := m.byName[name]
	if !ok {
		return version.NodePath{}, false
	}
	return mod.Path, true
}

// Mapper returns the version mapper of the module at path.
func (m *Model) Mapper(path version.NodePath) (mapper.Mapper, bool) {
	mod, ok := m.byPath[path]
	if !ok {
		return nil, false
	}
	mp, err := mod.Mapper()
	if err != nil {
		return nil, false
	}
	return mp, true
}

var _ reference.Resolver = (*Model)(nil)
