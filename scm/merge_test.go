package scm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/go-bzlrel/version"
)

// featureHistory seeds D/feature with one commit per entry, each changing one
// file, and returns the commit ids oldest first.
func featureHistory(f *fixture, changes ...[2]string) []string {
	f.t.Helper()
	f.seedBranch("feature", "main")
	var ids []string
	for _, c := range changes {
		ids = append(ids, f.seedCommit("feature", map[string]string{c[0]: c[1]}, "Change "+c[0]))
	}
	return ids
}

func TestMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	featureHistory(f, [2]string{"a.txt", "a1\n"}, [2]string{"b.txt", "b1\n"})
	f.newRun()
	path := f.checkout("D/main")

	res, err := f.git.Merge(ctx, path, version.MustParse("D/feature"), "Merge feature")
	require.NoError(t, err)
	assert.Equal(t, Merged, res)
	assert.Equal(t, "a1\n", readFile(t, path, "a.txt"))
	assert.Equal(t, runGit(t, path, "rev-parse", "HEAD"), f.remoteRef("refs/heads/main"))

	res, err = f.git.Merge(ctx, path, version.MustParse("D/feature"), "Merge feature again")
	require.NoError(t, err)
	assert.Equal(t, NothingToMerge, res)
}

func TestMergeConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	featureHistory(f, [2]string{"a.txt", "feature\n"})
	f.seedCommit("main", map[string]string{"a.txt": "main\n"}, "Main change")
	f.newRun()
	path := f.checkout("D/main")
	head := runGit(t, path, "rev-parse", "HEAD")

	res, err := f.git.Merge(ctx, path, version.MustParse("D/feature"), "Merge feature")
	require.NoError(t, err)
	assert.Equal(t, Conflicts, res)
	assert.Equal(t, head, runGit(t, path, "rev-parse", "HEAD"))
	require.Len(t, f.notes, 1)
	assert.Contains(t, f.notes[0], "a.txt")
}

func TestMergeRequiresDynamicVersion(t *testing.T) {
	f := newFixture(t)
	path := f.checkout("S/1.0")
	_, err := f.git.Merge(context.Background(), path, version.MustParse("D/main"), "x")
	assert.ErrorIs(t, err, ErrVersionKind)
}

// Merging with an empty exclusion list yields the same tree as Merge.
func TestMergeExcludeCommitsEmptyIsMerge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	featureHistory(f, [2]string{"a.txt", "a1\n"}, [2]string{"b.txt", "b1\n"}, [2]string{"c.txt", "c1\n"})
	f.seedBranch("dest1", "main")
	f.seedBranch("dest2", "main")
	f.newRun()
	feature := version.MustParse("D/feature")

	path := f.checkout("D/dest1")
	res, err := f.git.Merge(ctx, path, feature, "Merge")
	require.NoError(t, err)
	require.Equal(t, Merged, res)
	tree1 := runGit(t, path, "rev-parse", "HEAD^{tree}")

	path = f.checkout("D/dest2")
	res, err = f.git.MergeExcludeCommits(ctx, path, feature, nil, "Merge")
	require.NoError(t, err)
	require.Equal(t, Merged, res)
	tree2 := runGit(t, path, "rev-parse", "HEAD^{tree}")

	assert.Equal(t, tree1, tree2)
}

func TestMergeExcludeCommitsFirstAndLast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := featureHistory(f,
		[2]string{"a.txt", "excluded\n"},
		[2]string{"b.txt", "b1\n"},
		[2]string{"c.txt", "c1\n"},
		[2]string{"x.txt", "excluded\n"},
	)
	f.newRun()
	path := f.checkout("D/main")

	res, err := f.git.MergeExcludeCommits(ctx, path, version.MustParse("D/feature"), []string{ids[0], ids[3][:10]}, "Merge feature without a and x")
	require.NoError(t, err)
	assert.Equal(t, Merged, res)

	assert.Equal(t, "a\n", readFile(t, path, "a.txt"))
	assert.Equal(t, "b1\n", readFile(t, path, "b.txt"))
	assert.Equal(t, "c1\n", readFile(t, path, "c.txt"))
	assert.Equal(t, "x\n", readFile(t, path, "x.txt"))

	assert.Equal(t, ids[3], runGit(t, path, "rev-parse", "HEAD^2"), "merge commit records the source")
	assert.Equal(t, runGit(t, path, "rev-parse", "HEAD"), f.remoteRef("refs/heads/main"))

	patches, err := f.git.PendingPatches(ctx, path)
	require.NoError(t, err)
	assert.Empty(t, patches)

	res, err = f.git.MergeExcludeCommits(ctx, path, version.MustParse("D/feature"), []string{ids[0]}, "Again")
	require.NoError(t, err)
	assert.Equal(t, NothingToMerge, res)
}

func TestMergeExcludeCommitsUnknownCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	featureHistory(f, [2]string{"a.txt", "a1\n"})
	f.newRun()
	path := f.checkout("D/main")
	base := runGit(t, path, "rev-parse", "HEAD")

	_, err := f.git.MergeExcludeCommits(ctx, path, version.MustParse("D/feature"), []string{base}, "Merge")
	assert.Error(t, err)
}

// The second of three patches conflicts: the first is applied, the third is
// next in line, nothing is committed and the operator is told how to recover.
func TestMergeExcludeCommitsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := featureHistory(f,
		[2]string{"a.txt", "a1\n"},
		[2]string{"x.txt", "x1\n"},
		[2]string{"b.txt", "b-feature\n"},
		[2]string{"x.txt", "x2\n"},
		[2]string{"c.txt", "c1\n"},
	)
	f.seedBranch("dest", "main")
	f.seedCommit("dest", map[string]string{"b.txt": "b-dest\n"}, "Dest change")
	f.newRun()
	path := f.checkout("D/dest")
	head := runGit(t, path, "rev-parse", "HEAD")
	remoteHead := f.remoteRef("refs/heads/dest")

	res, err := f.git.MergeExcludeCommits(ctx, path, version.MustParse("D/feature"), []string{ids[1], ids[3]}, "Merge feature")
	require.NoError(t, err)
	assert.Equal(t, Conflicts, res)

	assert.Equal(t, head, runGit(t, path, "rev-parse", "HEAD"), "nothing committed")
	assert.Equal(t, remoteHead, f.remoteRef("refs/heads/dest"), "nothing pushed")
	assert.Equal(t, ids[4], runGit(t, path, "rev-parse", "MERGE_HEAD"), "keep-ours merge prepared")
	assert.Equal(t, "a1\n", readFile(t, path, "a.txt"), "first patch applied")
	assert.Equal(t, "c\n", readFile(t, path, "c.txt"), "third patch pending")
	assert.Contains(t, readFile(t, path, "b.txt"), "<<<<<<<")

	patches, err := f.git.PendingPatches(ctx, path)
	require.NoError(t, err)
	var names []string
	for _, p := range patches {
		names = append(names, filepath.Base(p))
	}
	require.Len(t, names, 3)
	assert.True(t, strings.HasPrefix(names[0], "001-") && strings.HasSuffix(names[0], ".patch.done"), names[0])
	assert.True(t, strings.HasPrefix(names[1], "002-") && strings.HasSuffix(names[1], ".patch.done"), names[1])
	assert.True(t, strings.HasPrefix(names[2], "003-") && strings.HasSuffix(names[2], ".patch.current"), names[2])

	require.Len(t, f.notes, 1)
	assert.Contains(t, f.notes[0], "git apply --3way")
	assert.Contains(t, f.notes[0], "git merge --abort")

	// A second attempt refuses to run over the leftovers.
	_, err = f.git.MergeExcludeCommits(ctx, path, version.MustParse("D/feature"), []string{ids[1]}, "Again")
	assert.Error(t, err)

	// Manual recovery: resolve, apply the remaining patch, commit.
	writeFile(t, path, "b.txt", "b-resolved\n")
	runGit(t, path, "add", "b.txt")
	runGit(t, path, "apply", "--3way", patches[2])
	runGit(t, path, "commit", "--quiet", "-m", "Merge feature")
	assert.Equal(t, "c1\n", readFile(t, path, "c.txt"))
	assert.Equal(t, "x\n", readFile(t, path, "x.txt"))
	require.NoError(t, os.RemoveAll(filepath.Dir(patches[0])))
}

func TestReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	featureHistory(f, [2]string{"a.txt", "a1\n"}, [2]string{"new.txt", "new\n"})
	f.seedCommit("main", map[string]string{"b.txt": "main only\n", "main.txt": "m\n"}, "Main change")
	f.newRun()
	path := f.checkout("D/main")

	res, err := f.git.Replace(ctx, path, version.MustParse("D/feature"), "Replace main by feature")
	require.NoError(t, err)
	assert.Equal(t, Merged, res)

	featureTip := f.remoteRef("refs/heads/feature")
	assert.Equal(t, runGit(t, path, "rev-parse", featureTip+"^{tree}"), runGit(t, path, "rev-parse", "HEAD^{tree}"))
	assert.Equal(t, featureTip, runGit(t, path, "rev-parse", "HEAD^2"))
	assert.NoFileExists(t, filepath.Join(path, "main.txt"))
	assert.Equal(t, "b\n", readFile(t, path, "b.txt"))
	assert.Equal(t, runGit(t, path, "rev-parse", "HEAD"), f.remoteRef("refs/heads/main"))

	res, err = f.git.Replace(ctx, path, version.MustParse("D/feature"), "Again")
	require.NoError(t, err)
	assert.Equal(t, NothingToMerge, res)
}
