package reference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/go-bzlrel/mapper"
	"github.com/albertocavalcante/go-bzlrel/version"
)

type fakeResolver struct {
	modules map[string]version.NodePath
	mappers map[version.NodePath]mapper.Mapper
}

func (r fakeResolver) ModuleByArtifact(name string) (version.NodePath, bool) {
	p, ok := r.modules[name]
	return p, ok
}

func (r fakeResolver) Mapper(p version.NodePath) (mapper.Mapper, bool) {
	m, ok := r.mappers[p]
	return m, ok
}

var (
	pathB = version.MustNodePath("Domain/b")
	pathC = version.MustNodePath("Domain/c")
)

func resolver() fakeResolver {
	return fakeResolver{
		modules: map[string]version.NodePath{"b": pathB, "c": pathC},
		mappers: map[version.NodePath]mapper.Mapper{pathB: mapper.Default()},
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func moduleDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	write(t, filepath.Join(dir, "MODULE.bazel"), `module(name = "a", version = "0.0.0-main")

C_VERSION = "2.0"

include("//:deps.MODULE.bazel")

bazel_dep(name = "b", version = "0.0.0-main")
bazel_dep(name = "c", version = C_VERSION)
bazel_dep(name = "rules_go", version = "0.50.1")
bazel_dep(name = "a_sub", version = "0.0.0-main")
local_path_override(module_name = "a_sub", path = "sub")
`)
	write(t, filepath.Join(dir, "deps.MODULE.bazel"), `bazel_dep(name = "b", version = "1.0", dev_dependency = True)
`)
	write(t, filepath.Join(dir, "sub", "MODULE.bazel"), `module(name = "a_sub", version = "0.0.0-main")
bazel_dep(name = "a", version = "0.0.0-main")
bazel_dep(name = "c", version = "3.0")
`)
	return dir
}

func TestReferences(t *testing.T) {
	dir := moduleDir(t)
	m := NewManager(resolver())

	refs, err := m.References(dir)
	require.NoError(t, err)
	require.Len(t, refs, 5)

	got := make([]string, 0, len(refs))
	for _, r := range refs {
		assert.Equal(t, m.ID(), r.Locator.AdapterID)
		got = append(got, r.String())
	}
	assert.Equal(t, []string{
		"b@0.0.0-main -> Domain/b:D/main",
		"c@2.0 -> Domain/c:S/2.0",
		"rules_go@0.50.1 (external)",
		"b@1.0 -> Domain/b:S/1.0",
		"c@3.0 -> Domain/c:S/3.0",
	}, got)

	assert.Equal(t, Locator{AdapterID: m.ID(), File: "MODULE.bazel", Index: 1, Name: "c"}, refs[1].Locator)
	assert.Equal(t, "deps.MODULE.bazel", refs[3].Locator.File)
	assert.True(t, refs[3].DevDependency)
	assert.Equal(t, Locator{AdapterID: m.ID(), File: "sub/MODULE.bazel", Index: 1, Name: "c"}, refs[4].Locator)
}

func TestReferencesConditions(t *testing.T) {
	content := `module(name = "a", version = "1.0")
bazel_dep(name = "external", version = "1.0")
bazel_dep(name = "b", version = B_VERSION)
bazel_dep(name = "c")
`
	dir := t.TempDir()
	write(t, filepath.Join(dir, "MODULE.bazel"), content)

	refs, err := NewManager(resolver()).References(dir)
	require.NoError(t, err)
	require.Len(t, refs, 1, "unresolved placeholder is skipped, untracked module is kept")
	assert.Nil(t, refs[0].Target)

	refs, err = NewManager(resolver(), WithAction(ModuleNotFound, ActionIgnore), WithAction(UnresolvedProperty, ActionIgnore)).References(dir)
	require.NoError(t, err)
	assert.Len(t, refs, 1)

	_, err = NewManager(resolver(), WithAction(ModuleNotFound, ActionAbort)).References(dir)
	assert.ErrorIs(t, err, ErrModuleNotFound)

	_, err = NewManager(resolver(), WithAction(UnresolvedProperty, ActionAbort)).References(dir)
	assert.ErrorIs(t, err, ErrUnresolvedProperty)
}

func TestReferencesAggregateVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "MODULE.bazel"), `module(name = "a", version = "1.0")
local_path_override(module_name = "a_sub", path = "sub")
`)
	write(t, filepath.Join(dir, "sub", "MODULE.bazel"), `module(name = "a_sub", version = "1.1")
`)

	_, err := NewManager(resolver()).References(dir)
	var aggErr *AggregateVersionError
	require.True(t, errors.As(err, &aggErr), "error = %v", err)
	assert.Equal(t, "a_sub", aggErr.SubModule)
	assert.Equal(t, "1.1", aggErr.SubVersion)
	assert.Equal(t, "1.0", aggErr.Version)
}

func TestUpdateReferenceVersion(t *testing.T) {
	dir := moduleDir(t)
	m := NewManager(resolver())
	refs, err := m.References(dir)
	require.NoError(t, err)

	changed, err := m.UpdateReferenceVersion(dir, refs[0], version.NewStatic("1.0"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, read(t, filepath.Join(dir, "MODULE.bazel")), `bazel_dep(name = "b", version = "1.0")`)

	changed, err = m.UpdateReferenceVersion(dir, refs[0], version.NewStatic("1.0"))
	require.NoError(t, err)
	assert.False(t, changed, "second update is a no-op")

	changed, err = m.UpdateReferenceVersion(dir, refs[1], version.NewStatic("2.1"))
	require.NoError(t, err)
	assert.True(t, changed)
	content := read(t, filepath.Join(dir, "MODULE.bazel"))
	assert.Contains(t, content, `C_VERSION = "2.1"`)
	assert.Contains(t, content, `version = C_VERSION`)

	changed, err = m.UpdateReferenceVersion(dir, refs[4], version.NewStatic("3.1"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Contains(t, read(t, filepath.Join(dir, "sub", "MODULE.bazel")), `bazel_dep(name = "c", version = "3.1")`)

	refs, err = m.References(dir)
	require.NoError(t, err)
	assert.Equal(t, "Domain/b:S/1.0", refs[0].Target.String())
	assert.Equal(t, "Domain/c:S/2.1", refs[1].Target.String())
}

func TestUpdateReferenceVersionRejects(t *testing.T) {
	dir := moduleDir(t)
	m := NewManager(resolver())
	refs, err := m.References(dir)
	require.NoError(t, err)

	other := NewManager(resolver())
	_, err = other.UpdateReferenceVersion(dir, refs[0], version.NewStatic("1.0"))
	assert.ErrorIs(t, err, ErrForeignLocator)

	_, err = m.UpdateReferenceVersion(dir, refs[2], version.NewStatic("1.0"))
	assert.ErrorIs(t, err, ErrExternalReference)

	escaped := refs[0]
	escaped.Locator.File = "../MODULE.bazel"
	_, err = m.UpdateReferenceVersion(dir, escaped, version.NewStatic("1.0"))
	assert.Error(t, err)

	_, err = m.UpdateReferenceVersion(dir, refs[0], version.NewDynamic("feature/x"))
	assert.Error(t, err, "unmappable version")
}

func TestArtifactVersion(t *testing.T) {
	dir := moduleDir(t)
	m := NewManager(resolver())

	v, err := m.ArtifactVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0-main", v)

	changed, err := m.SetArtifactVersion(dir, version.MustNodePath("Domain/a"), version.NewStatic("1.2.0"))
	require.NoError(t, err)
	assert.True(t, changed)

	v, err = m.ArtifactVersion(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", v)
	assert.Contains(t, read(t, filepath.Join(dir, "sub", "MODULE.bazel")), `version = "1.2.0"`)

	changed, err = m.SetArtifactVersion(dir, version.MustNodePath("Domain/a"), version.NewStatic("1.2.0"))
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestParseAction(t *testing.T) {
	for in, want := range map[string]Action{"": ActionWarn, "warn": ActionWarn, "Ignore": ActionIgnore, "abort": ActionAbort} {
		got, err := ParseAction(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseAction("explode")
	assert.Error(t, err)
}

func TestDiff(t *testing.T) {
	ref := func(name, v string) Reference { return Reference{ArtifactName: name, ArtifactVersion: v} }

	assert.True(t, Diff(nil, nil).IsEmpty())
	assert.True(t, Diff(
		[]Reference{ref("b", "1.0"), ref("c", "2.0")},
		[]Reference{ref("c", "2.0"), ref("b", "1.0")},
	).IsEmpty())

	d := Diff(
		[]Reference{ref("b", "1.0"), ref("c", "2.0"), ref("gone", "1")},
		[]Reference{ref("b", "1.1"), ref("c", "2.0"), ref("new", "3")},
	)
	assert.Equal(t, []Change{{Name: "new", Version: "3"}}, d.Added)
	assert.Equal(t, []Change{{Name: "gone", Version: "1"}}, d.Removed)
	assert.Equal(t, []VersionChange{{Name: "b", OldVersion: "1.0", NewVersion: "1.1"}}, d.Changed)
	assert.Equal(t, 3, d.TotalChanges())

	dup := Diff(
		[]Reference{ref("b", "1.0"), ref("b", "2.0")},
		[]Reference{ref("b", "2.0"), ref("b", "1.0")},
	)
	assert.True(t, dup.IsEmpty())

	ordered := Diff(
		[]Reference{ref("b", "10.0"), ref("b", "9.0")},
		[]Reference{ref("b", "9.0"), ref("b", "11.0")},
	)
	assert.Equal(t, []VersionChange{{Name: "b", OldVersion: "9.0,10.0", NewVersion: "9.0,11.0"}}, ordered.Changed)
}
