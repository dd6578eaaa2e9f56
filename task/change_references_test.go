package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/go-bzlrel/mapper"
	"github.com/albertocavalcante/go-bzlrel/model"
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

type commit struct {
	dir     string
	message string
	attrs   scm.Attributes
	content string
}

// fakeSCM serves one module: a directory per version, commits recorded.
type fakeSCM struct {
	scm.Adapter
	module    version.NodePath
	dirs      map[version.Version]string
	notSync   bool
	checkouts []version.Version
	released  []string
	commits   []commit
	created   []version.Version
	statics   []version.Version
}

func (f *fakeSCM) Module() version.NodePath { return f.module }

func (f *fakeSCM) CheckoutSystem(_ context.Context, v version.Version) (string, error) {
	f.checkouts = append(f.checkouts, v)
	dir, ok := f.dirs[v]
	if !ok {
		return "", scm.ErrVersionNotFound
	}
	return dir, nil
}

func (f *fakeSCM) Release(path string) { f.released = append(f.released, path) }

func (f *fakeSCM) IsSync(context.Context, string, scm.SyncFlags) (bool, error) {
	return !f.notSync, nil
}

func (f *fakeSCM) Commit(_ context.Context, path, message string, attrs scm.Attributes) error {
	data, _ := os.ReadFile(filepath.Join(path, "MODULE.bazel"))
	f.commits = append(f.commits, commit{dir: path, message: message, attrs: attrs, content: string(data)})
	return nil
}

type fixture struct {
	model *model.Model
	scms  map[string]*fakeSCM
}

func (fx *fixture) addModule(t *testing.T, mgr *reference.Manager, path, name string, descriptors map[version.Version]string) {
	t.Helper()
	f := &fakeSCM{module: version.MustNodePath(path), dirs: map[version.Version]string{}}
	for v, content := range descriptors {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "MODULE.bazel"), []byte(content), 0o644))
		f.dirs[v] = dir
	}
	mod := model.NewModule(f.module, name)
	require.NoError(t, mod.Register(model.SourceControl, f))
	require.NoError(t, mod.Register(model.ReferenceManager, mgr))
	require.NoError(t, mod.Register(model.VersionMapper, mapper.Default()))
	require.NoError(t, fx.model.Add(mod))
	fx.scms[path] = f
}

func newFixture(t *testing.T) (*fixture, *reference.Manager) {
	fx := &fixture{model: model.New(), scms: map[string]*fakeSCM{}}
	mgr := reference.NewManager(fx.model)
	return fx, mgr
}

func read(t *testing.T, dir string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, "MODULE.bazel"))
	require.NoError(t, err)
	return string(data)
}

var (
	mainV = version.NewDynamic("main")
	s10   = version.NewStatic("1.0")
)

func TestChangeReferencesScenario(t *testing.T) {
	fx, mgr := newFixture(t)
	fx.addModule(t, mgr, "Domain/a", "a", map[version.Version]string{
		mainV: `module(name = "a", version = "0.0.0-main")
bazel_dep(name = "b", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/b", "b", map[version.Version]string{
		mainV: `module(name = "b", version = "0.0.0-main")
`,
	})

	root := version.MustModuleVersion("Domain/a:D/main")
	report, err := ChangeReferences(context.Background(), fx.model, []version.ModuleVersion{root},
		map[version.NodePath]version.Version{version.MustNodePath("Domain/b"): s10})
	require.NoError(t, err)

	a := fx.scms["Domain/a"]
	assert.Contains(t, read(t, a.dirs[mainV]), `bazel_dep(name = "b", version = "1.0")`)
	require.Len(t, a.commits, 1)
	assert.Equal(t, "true", a.commits[0].attrs[scm.AttrReferenceVersionChange])
	assert.Equal(t, "Change reference to Domain/b from D/main to S/1.0", a.commits[0].message)
	assert.Equal(t, []string{a.dirs[mainV]}, a.released)

	require.Len(t, report.Changes, 1)
	assert.Equal(t, "Domain/a:D/main: Domain/b:D/main -> S/1.0", report.Changes[0].String())
	assert.Empty(t, fx.scms["Domain/b"].checkouts, "a pinned reference is not descended into")

	// A second run finds the reference already pinned.
	report, err = ChangeReferences(context.Background(), fx.model, []version.ModuleVersion{root},
		map[version.NodePath]version.Version{version.MustNodePath("Domain/b"): s10})
	require.NoError(t, err)
	assert.Empty(t, report.Changes)
	assert.Len(t, a.commits, 1)
}

func TestChangeReferencesTraversal(t *testing.T) {
	fx, mgr := newFixture(t)
	fx.addModule(t, mgr, "Domain/app", "app", map[version.Version]string{
		mainV: `module(name = "app", version = "0.0.0-main")
bazel_dep(name = "lib", version = "0.0.0-main")
bazel_dep(name = "util", version = "0.0.0-main")
bazel_dep(name = "frozen", version = "1.0")
bazel_dep(name = "rules_go", version = "0.50.1")
`,
	})
	fx.addModule(t, mgr, "Domain/lib", "lib", map[version.Version]string{
		mainV: `module(name = "lib", version = "0.0.0-main")
bazel_dep(name = "util", version = "0.0.0-main")
bazel_dep(name = "base", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/util", "util", map[version.Version]string{
		mainV: `module(name = "util", version = "0.0.0-main")
bazel_dep(name = "base", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/base", "base", map[version.Version]string{
		mainV: `module(name = "base", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/frozen", "frozen", map[version.Version]string{
		s10: `module(name = "frozen", version = "1.0")
bazel_dep(name = "base", version = "0.0.0-main")
`,
	})

	report, err := ChangeReferences(context.Background(), fx.model,
		[]version.ModuleVersion{version.MustModuleVersion("Domain/app:D/main")},
		map[version.NodePath]version.Version{
			version.MustNodePath("Domain/util"): version.NewStatic("2.0"),
			version.MustNodePath("Domain/base"): version.NewStatic("3.0"),
		})
	require.NoError(t, err)

	var changed []string
	for _, c := range report.Changes {
		changed = append(changed, c.String())
	}
	assert.Equal(t, []string{
		"Domain/app:D/main: Domain/util:D/main -> S/2.0",
		"Domain/lib:D/main: Domain/util:D/main -> S/2.0",
		"Domain/lib:D/main: Domain/base:D/main -> S/3.0",
	}, changed)

	assert.Equal(t, []version.ModuleVersion{
		version.MustModuleVersion("Domain/app:D/main"),
		version.MustModuleVersion("Domain/lib:D/main"),
	}, report.Visited)
	assert.Empty(t, fx.scms["Domain/util"].checkouts)
	assert.Empty(t, fx.scms["Domain/frozen"].checkouts, "static versions are not descended into")
	assert.Len(t, fx.scms["Domain/lib"].commits, 2, "one commit per rewritten reference")
	assert.Contains(t, report.String(), "changed 3 reference(s)")
}

func TestChangeReferencesNotSync(t *testing.T) {
	fx, mgr := newFixture(t)
	fx.addModule(t, mgr, "Domain/a", "a", map[version.Version]string{
		mainV: `module(name = "a", version = "0.0.0-main")
bazel_dep(name = "b", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/b", "b", map[version.Version]string{mainV: `module(name = "b")`})
	fx.scms["Domain/a"].notSync = true

	mapping := map[version.NodePath]version.Version{version.MustNodePath("Domain/b"): s10}
	roots := []version.ModuleVersion{version.MustModuleVersion("Domain/a:D/main")}

	_, err := ChangeReferences(context.Background(), fx.model, roots, mapping)
	assert.ErrorIs(t, err, scm.ErrNotSync)
	assert.Contains(t, read(t, fx.scms["Domain/a"].dirs[mainV]), `version = "0.0.0-main")`+"\n", "nothing rewritten")
	assert.Len(t, fx.scms["Domain/a"].released, 1, "directory released on failure")

	report, err := ChangeReferences(context.Background(), fx.model, roots, mapping, WithContinueOnError())
	require.NoError(t, err)
	require.Len(t, report.Failures, 1)
	assert.True(t, errors.Is(report.Failures[0].Err, scm.ErrNotSync))
}

func TestChangeReferencesStaticRoot(t *testing.T) {
	fx, _ := newFixture(t)
	report, err := ChangeReferences(context.Background(), fx.model,
		[]version.ModuleVersion{version.MustModuleVersion("Domain/a:S/1.0")}, nil)
	require.NoError(t, err)
	require.Len(t, report.Skipped, 1)
	assert.Empty(t, report.Visited)
}
