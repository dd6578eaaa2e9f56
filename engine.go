// Package gobzlrel is a release-engineering engine for graphs of Bazel
// modules, each backed by a git repository and a MODULE.bazel descriptor.
//
// The engine tracks dynamic versions (branches) and static versions (tags)
// of every module, rewrites the bazel_dep references between modules to pin
// them to resolved versions, and picks versions through configurable
// policies.
//
// # Overview
//
// An Engine is assembled from a configuration file:
//
//   - Source control: one git adapter per module (package scm)
//   - References: a manager listing and rewriting bazel_dep calls (package reference)
//   - Mapping: regex rules between versions and artifact versions (package mapper)
//   - Policies: pinned versions, equivalent static versions, revisions (package policy)
//
// # Quick Start
//
//	cfg, err := config.Load("bzlrel.yaml")
//	if err != nil {
//	    return err
//	}
//	eng, err := gobzlrel.Open(cfg, gobzlrel.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer eng.Close()
//
//	// Pin every reference to Domain/lib reachable from the app to S/1.0.
//	report, err := eng.ChangeReferences(ctx,
//	    []version.ModuleVersion{version.MustModuleVersion("Domain/app:D/main")},
//	    map[version.NodePath]version.Version{
//	        version.MustNodePath("Domain/lib"): version.NewStatic("1.0"),
//	    })
//
// # Properties
//
// Module behavior is configured through hierarchical properties (see package
// config): fetch/push behavior, pull mode, revision formatting and the
// actions taken on references that cannot be resolved.
//
// # Thread Safety
//
// An Engine serves one run and is not safe for concurrent use.
package gobzlrel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/albertocavalcante/go-bzlrel/config"
	"github.com/albertocavalcante/go-bzlrel/graph"
	"github.com/albertocavalcante/go-bzlrel/mapper"
	"github.com/albertocavalcante/go-bzlrel/model"
	"github.com/albertocavalcante/go-bzlrel/policy"
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/task"
	"github.com/albertocavalcante/go-bzlrel/version"
	"github.com/albertocavalcante/go-bzlrel/workspace"
)

// Engine wires the components of one run.
type Engine struct {
	cfg      *config.Config
	rc       *runctx.Context
	provider *workspace.FS
	model    *model.Model
	refs     *reference.Manager
	logger   *slog.Logger
	closed   bool
}

// Open assembles an engine for the modules of cfg.
func Open(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	ec, err := newEngineConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := ec.log()

	store := ec.store
	if store == nil {
		if cfg.Store != "" {
			bs, err := runctx.OpenBadgerStore(runctx.BadgerConfig{Path: cfg.Store, Logger: logger.With("component", "store")})
			if err != nil {
				return nil, err
			}
			store = bs
		} else {
			store = runctx.NewMemoryStore()
		}
	}

	runID := ec.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	rcOpts := []runctx.Option{
		runctx.WithID(runID),
		runctx.WithStore(store),
		runctx.WithMetrics(runctx.NewMetrics(ec.registerer)),
		runctx.WithLogger(logger),
	}
	if ec.notifier != nil {
		rcOpts = append(rcOpts, runctx.WithNotifier(ec.notifier))
	}
	rc := runctx.New(rcOpts...)

	e := &Engine{cfg: cfg, rc: rc, model: model.New(), logger: logger}
	if err := e.assemble(ec); err != nil {
		_ = rc.Close()
		return nil, err
	}
	logger.Debug("engine opened", "run", runID, "modules", len(cfg.Modules), "workspace", cfg.Workspace)
	return e, nil
}

func (e *Engine) assemble(ec *engineConfig) error {
	provider, err := workspace.NewFS(e.cfg.Workspace, e.rc.Store(), workspace.WithFSLogger(e.logger))
	if err != nil {
		return err
	}
	e.provider = provider
	mainDirs := workspace.NewMainDirs(e.rc.Store(), provider, e.logger)

	var refOpts []reference.Option
	for cond, key := range map[reference.Condition]string{
		reference.ModuleNotFound:     config.PropModuleNotFound,
		reference.UnresolvedProperty: config.PropUnresolvedProperty,
	} {
		action, err := reference.ParseAction(e.cfg.PropertyOr(version.NodePath{}, key, ""))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		refOpts = append(refOpts, reference.WithAction(cond, action))
	}
	refOpts = append(refOpts, reference.WithLogger(e.logger))
	e.refs = reference.NewManager(e.model, refOpts...)

	for i := range e.cfg.Modules {
		if err := e.addModule(&e.cfg.Modules[i], mainDirs, ec); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) addModule(m *config.Module, mainDirs *workspace.MainDirs, ec *engineConfig) error {
	path := m.NodePath()

	behavior := scm.FetchPush
	if ec.behavior != nil {
		behavior = *ec.behavior
	} else if raw, ok := e.cfg.Property(path, config.PropFetchPush); ok {
		b, err := scm.ParseFetchPushBehavior(raw)
		if err != nil {
			return fmt.Errorf("module %s: %w", path, err)
		}
		behavior = b
	}
	pullRebase, err := e.cfg.BoolProperty(path, config.PropPullRebase, false)
	if err != nil {
		return fmt.Errorf("module %s: %w", path, err)
	}
	pushAll, err := e.cfg.BoolProperty(path, config.PropPushAllOnSync, false)
	if err != nil {
		return fmt.Errorf("module %s: %w", path, err)
	}

	gitOpts := []scm.Option{
		scm.WithLogger(e.logger),
		scm.WithDefaultFetchPushBehavior(behavior),
		scm.WithPullRebase(pullRebase),
		scm.WithPushAllOnSync(pushAll),
	}
	if ec.runner != nil {
		gitOpts = append(gitOpts, scm.WithRunner(ec.runner))
	}
	if ec.onEvent != nil {
		gitOpts = append(gitOpts, scm.WithEventHandler(ec.onEvent))
	}
	git, err := scm.NewGit(path, m.Remote, e.rc, e.provider, mainDirs, gitOpts...)
	if err != nil {
		return err
	}

	mp, err := mapper.FromConfig(m.Mapper)
	if err != nil {
		return fmt.Errorf("module %s: %w", path, err)
	}
	revOpts, err := policy.RevisionOptionsFor(e.cfg, path)
	if err != nil {
		return err
	}

	mod := model.NewModule(path, m.Name)
	for c, impl := range map[model.Capability]any{
		model.SourceControl:    git,
		model.ReferenceManager: e.refs,
		model.VersionMapper:    mp,
		model.VersionNaming:    &policy.Namer{SCM: git, Options: revOpts},
	} {
		if err := mod.Register(c, impl); err != nil {
			return err
		}
	}
	return e.model.Add(mod)
}

// Config returns the configuration the engine was opened with.
func (e *Engine) Config() *config.Config { return e.cfg }

// Model returns the tracked modules.
func (e *Engine) Model() *model.Model { return e.model }

// RunContext returns the run context shared by the adapters.
func (e *Engine) RunContext() *runctx.Context { return e.rc }

// Workspace returns the workspace directory provider.
func (e *Engine) Workspace() workspace.Provider { return e.provider }

// Close releases the property store.
func (e *Engine) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	return e.rc.Close()
}

// SCM returns the source control adapter of the module at path.
func (e *Engine) SCM(path version.NodePath) (scm.Adapter, error) {
	if e.closed {
		return nil, ErrClosed
	}
	mod, err := e.model.Module(path)
	if err != nil {
		return nil, err
	}
	return mod.SCM()
}

// ModuleByName returns the module declaring the Bazel module name.
func (e *Engine) ModuleByName(name string) (version.NodePath, error) {
	path, ok := e.model.ModuleByArtifact(name)
	if !ok {
		return version.NodePath{}, fmt.Errorf("%s: %w", name, model.ErrUnknownModule)
	}
	return path, nil
}

// Checkout materializes a module version into its user directory, creating
// the directory when needed, and returns the directory path.
func (e *Engine) Checkout(ctx context.Context, mv version.ModuleVersion) (string, error) {
	adapter, err := e.SCM(mv.NodePath)
	if err != nil {
		return "", err
	}
	if mv.Version.IsZero() {
		if mv.Version, err = adapter.DefaultVersion(ctx); err != nil {
			return "", err
		}
	}
	dir, err := e.provider.Get(ctx, workspace.UserDir(mv), workspace.GetExistingOrCreate, workspace.ReadWrite)
	if err != nil {
		return "", err
	}
	defer e.provider.Release(dir)
	if err := adapter.Checkout(ctx, dir, mv.Version); err != nil {
		return "", err
	}
	return dir, nil
}

// References lists the references declared by a module version. The zero
// version designates the module's current user directory or default version.
func (e *Engine) References(ctx context.Context, mv version.ModuleVersion) ([]reference.Reference, error) {
	adapter, err := e.SCM(mv.NodePath)
	if err != nil {
		return nil, err
	}
	dir, err := adapter.CheckoutSystem(ctx, mv.Version)
	if err != nil {
		return nil, err
	}
	defer adapter.Release(dir)
	return e.refs.References(dir)
}

// Graph builds the reference graph reachable from root. With dynamicOnly,
// static versions are left unexpanded.
func (e *Engine) Graph(ctx context.Context, root version.ModuleVersion, dynamicOnly bool) (*graph.Graph, error) {
	if root.Version.IsZero() {
		return nil, fmt.Errorf("%s: %w", root, ErrNoVersion)
	}
	var opts []graph.BuilderOption
	if dynamicOnly {
		opts = append(opts, graph.DynamicOnly())
	}
	return graph.NewBuilder(e.References, opts...).Build(ctx, root)
}

// ChangeReferences makes every reference reachable from roots to a module in
// versions designate the mapped version.
func (e *Engine) ChangeReferences(ctx context.Context, roots []version.ModuleVersion, versions map[version.NodePath]version.Version, opts ...task.ChangeOption) (*task.Report, error) {
	if e.closed {
		return nil, ErrClosed
	}
	opts = append([]task.ChangeOption{task.WithLogger(e.logger)}, opts...)
	return task.ChangeReferences(ctx, e.model, roots, versions, opts...)
}

// CreateStaticVersion tags the tip of a dynamic module version.
func (e *Engine) CreateStaticVersion(ctx context.Context, mv version.ModuleVersion, opts task.StaticOptions) (*task.StaticVersion, error) {
	if e.closed {
		return nil, ErrClosed
	}
	return task.CreateStaticVersion(ctx, e.model, mv, opts, task.WithLogger(e.logger))
}

// ExistingEquivalentStaticVersion returns a static version of the module
// equivalent to the tip of the dynamic version, or nil.
func (e *Engine) ExistingEquivalentStaticVersion(ctx context.Context, mv version.ModuleVersion) (*version.Version, error) {
	adapter, err := e.SCM(mv.NodePath)
	if err != nil {
		return nil, err
	}
	depth, err := e.cfg.IntProperty(mv.NodePath, config.PropEquivalentSearchDepth, policy.DefaultSearchDepth)
	if err != nil {
		return nil, err
	}
	return policy.ExistingEquivalentStaticVersion(ctx, policy.EquivalenceDeps{
		SCM: adapter,
		References: func(ctx context.Context, v version.Version) ([]reference.Reference, error) {
			return e.References(ctx, version.NewModuleVersion(mv.NodePath, v))
		},
		SearchDepth: depth,
		Logger:      e.logger,
	}, mv.Version)
}

// NewStaticVersion returns the next free static version named prefix<n> of
// the module at path.
func (e *Engine) NewStaticVersion(ctx context.Context, path version.NodePath, prefix string) (version.Version, error) {
	if e.closed {
		return version.Version{}, ErrClosed
	}
	mod, err := e.model.Module(path)
	if err != nil {
		return version.Version{}, err
	}
	namer, err := mod.StaticVersionNamer()
	if err != nil {
		return version.Version{}, err
	}
	return namer.NewStaticVersion(ctx, prefix)
}

// SpecificVersion returns the version pinned for the module at path under
// key.
func (e *Engine) SpecificVersion(path version.NodePath, key string) (version.Version, error) {
	v, ok, err := policy.SpecificVersion(e.cfg, path, key)
	if err != nil {
		return version.Version{}, err
	}
	if !ok {
		return version.Version{}, fmt.Errorf("%s: %s%s: %w", path, config.PropSpecificVersionPrefix, key, ErrNotPinned)
	}
	return v, nil
}

// MapArtifactVersion converts an artifact version of the module at path to a
// version.
func (e *Engine) MapArtifactVersion(path version.NodePath, artifactVersion string) (version.Version, error) {
	mp, ok := e.model.Mapper(path)
	if !ok {
		return version.Version{}, fmt.Errorf("%s: %w", path, model.ErrUnknownModule)
	}
	return mp.ToVersion(strings.TrimSpace(artifactVersion))
}

// ArtifactVersion converts a version of the module at path to an artifact
// version.
func (e *Engine) ArtifactVersion(path version.NodePath, v version.Version) (string, error) {
	mp, ok := e.model.Mapper(path)
	if !ok {
		return "", fmt.Errorf("%s: %w", path, model.ErrUnknownModule)
	}
	return mp.ToArtifactVersion(v)
}
