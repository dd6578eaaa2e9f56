package task

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/go-bzlrel/model"
	"github.com/albertocavalcante/go-bzlrel/policy"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

func (f *fakeSCM) CreateVersion(_ context.Context, _ string, target version.Version, _ scm.Attributes, _ bool) error {
	f.created = append(f.created, target)
	f.statics = append(f.statics, target)
	return nil
}

func (f *fakeSCM) Versions(_ context.Context, t version.Type) ([]version.Version, error) {
	if t != version.Static {
		return nil, nil
	}
	return f.statics, nil
}

func staticFixture(t *testing.T) *fixture {
	t.Helper()
	fx, mgr := newFixture(t)
	fx.addModule(t, mgr, "Domain/a", "a", map[version.Version]string{
		mainV: `module(name = "a", version = "0.0.0-main")
`,
	})
	mod, err := fx.model.Module(version.MustNodePath("Domain/a"))
	require.NoError(t, err)
	require.NoError(t, mod.Register(model.VersionNaming, &policy.Namer{SCM: fx.scms["Domain/a"]}))
	return fx
}

func TestCreateStaticVersion(t *testing.T) {
	fx := staticFixture(t)
	a := fx.scms["Domain/a"]

	res, err := CreateStaticVersion(context.Background(), fx.model,
		version.MustModuleVersion("Domain/a:D/main"), StaticOptions{Version: s10})
	require.NoError(t, err)
	assert.Equal(t, s10, res.Static)
	assert.True(t, res.VersionChanged)
	assert.Equal(t, []version.Version{s10}, a.created)

	require.Len(t, a.commits, 2)
	assert.Contains(t, a.commits[0].content, `version = "1.0"`)
	assert.True(t, a.commits[0].attrs.IsTrue(scm.AttrVersionChange))
	assert.Contains(t, a.commits[1].content, `version = "0.0.0-main"`)
	assert.Equal(t, "S/1.0", a.commits[1].attrs[scm.AttrEquivalentStaticVersion])
	assert.Equal(t, []string{a.dirs[mainV]}, a.released)
}

func TestCreateStaticVersionNextRevision(t *testing.T) {
	fx := staticFixture(t)
	a := fx.scms["Domain/a"]
	a.statics = []version.Version{version.NewStatic("1.0.1"), version.NewStatic("1.0.2"), version.NewStatic("2.0.7")}

	res, err := CreateStaticVersion(context.Background(), fx.model,
		version.MustModuleVersion("Domain/a:D/main"), StaticOptions{Prefix: "1.0."})
	require.NoError(t, err)
	assert.Equal(t, version.NewStatic("1.0.3"), res.Static)
}

func TestCreateStaticVersionRejects(t *testing.T) {
	fx := staticFixture(t)
	ctx := context.Background()

	_, err := CreateStaticVersion(ctx, fx.model, version.MustModuleVersion("Domain/a:S/1.0"), StaticOptions{Version: s10})
	assert.ErrorIs(t, err, scm.ErrVersionKind)

	_, err = CreateStaticVersion(ctx, fx.model, version.MustModuleVersion("Domain/a:D/main"), StaticOptions{Version: mainV})
	assert.ErrorIs(t, err, scm.ErrVersionKind)

	_, err = CreateStaticVersion(ctx, fx.model, version.MustModuleVersion("Domain/a:D/main"), StaticOptions{})
	assert.Error(t, err)

	fx.scms["Domain/a"].notSync = true
	_, err = CreateStaticVersion(ctx, fx.model, version.MustModuleVersion("Domain/a:D/main"), StaticOptions{Version: s10})
	assert.ErrorIs(t, err, scm.ErrNotSync)
	assert.Empty(t, fx.scms["Domain/a"].created)
}

func TestReportJSON(t *testing.T) {
	fx, mgr := newFixture(t)
	fx.addModule(t, mgr, "Domain/a", "a", map[version.Version]string{
		mainV: `module(name = "a", version = "0.0.0-main")
bazel_dep(name = "b", version = "0.0.0-main")
`,
	})
	fx.addModule(t, mgr, "Domain/b", "b", map[version.Version]string{mainV: `module(name = "b")`})

	report, err := ChangeReferences(context.Background(), fx.model,
		[]version.ModuleVersion{version.MustModuleVersion("Domain/a:D/main"), version.MustModuleVersion("Domain/c:S/1")},
		map[version.NodePath]version.Version{version.MustNodePath("Domain/b"): s10})
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = report.WriteTo(&buf)
	require.NoError(t, err)

	var decoded jsonReport
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, []string{"Domain/a:D/main"}, decoded.Visited)
	require.Len(t, decoded.Changes, 1)
	assert.Equal(t, jsonChange{Module: "Domain/a:D/main", Target: "Domain/b:D/main", Version: "S/1.0", File: "MODULE.bazel", Index: 0}, decoded.Changes[0])
	assert.Equal(t, []jsonSkip{{Module: "Domain/c:S/1", Reason: "static versions are immutable"}}, decoded.Skipped)
	assert.Empty(t, decoded.Failures)

	path := filepath.Join(t.TempDir(), "report.json")
	require.NoError(t, report.WriteFile(path))
	data, err := report.Marshal()
	require.NoError(t, err)
	assert.Equal(t, buf.Bytes(), data)
}
