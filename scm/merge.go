package scm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/albertocavalcante/go-bzlrel/version"
)

const (
	// excludeMergeDir is where MergeExcludeCommits keeps its patch files,
	// relative to the git directory.
	excludeMergeDir = "bzlrel/exclude-merge"

	patchDoneSuffix    = ".done"
	patchCurrentSuffix = ".current"
)

// prepareMerge checks that path has a synchronized dynamic version checked
// out and resolves src.
func (g *Git) prepareMerge(ctx context.Context, path string, src version.Version) (version.Version, string, error) {
	cur, err := g.CurrentVersion(ctx, path)
	if err != nil {
		return version.Version{}, "", err
	}
	if !cur.IsDynamic() {
		return version.Version{}, "", fmt.Errorf("module %s: merge requires a dynamic version, %s is checked out: %w", g.module, cur, ErrVersionKind)
	}
	ok, err := g.IsSync(ctx, path, AllChanges)
	if err != nil {
		return version.Version{}, "", err
	}
	if !ok {
		return version.Version{}, "", fmt.Errorf("module %s: %s at %s: %w", g.module, cur, path, ErrNotSync)
	}
	srcCommit, err := g.resolve(ctx, path, src)
	if err != nil {
		return version.Version{}, "", err
	}
	return cur, srcCommit, nil
}

// Merge merges src into the dynamic version checked out at path. On
// conflicts the merge is left in progress for the operator.
func (g *Git) Merge(ctx context.Context, path string, src version.Version, message string) (MergeResult, error) {
	cur, srcCommit, err := g.prepareMerge(ctx, path, src)
	if err != nil {
		return 0, err
	}
	merged, err := g.isAncestor(ctx, path, srcCommit, "HEAD")
	if err != nil {
		return 0, err
	}
	if merged {
		return NothingToMerge, nil
	}

	res, err := g.runner.RunAllow(ctx, path, []int{1}, "merge", "--quiet", "--no-ff", "--no-edit", "-m", message, srcCommit)
	if err != nil {
		return 0, fmt.Errorf("module %s: merge %s into %s: %w", g.module, src, cur, err)
	}
	if res.ExitCode != 0 {
		conflicted, err := g.unmergedPaths(ctx, path)
		if err != nil {
			return 0, err
		}
		if len(conflicted) == 0 {
			return 0, fmt.Errorf("module %s: merge %s into %s failed: %s", g.module, src, cur, strings.TrimSpace(res.Stdout+res.Stderr))
		}
		g.rc.Notify(ctx, fmt.Sprintf("Merging %s into %s of %s produced conflicts in %s: %s. Resolve them and commit, or run git merge --abort.",
			src, cur, g.module, path, strings.Join(conflicted, ", ")))
		return Conflicts, nil
	}
	if err := g.push(ctx, path, "refs/heads/"+cur.Name); err != nil {
		return 0, err
	}
	return Merged, nil
}

// patchRange is a run of consecutive commits replayed as one patch: the diff
// from Base to End.
type patchRange struct {
	Base    string
	End     string
	Commits []string
}

// planRanges splits commits (oldest first) into the ranges between excluded
// commits. The base of a range is the commit preceding it, or mergeBase for
// a range starting the list.
func planRanges(commits []string, excluded map[string]bool, mergeBase string) []patchRange {
	var ranges []patchRange
	var cur *patchRange
	prev := mergeBase
	for _, c := range commits {
		if excluded[c] {
			if cur != nil {
				ranges = append(ranges, *cur)
				cur = nil
			}
			prev = c
			continue
		}
		if cur == nil {
			cur = &patchRange{Base: prev}
		}
		cur.End = c
		cur.Commits = append(cur.Commits, c)
		prev = c
	}
	if cur != nil {
		ranges = append(ranges, *cur)
	}
	return ranges
}

// MergeExcludeCommits merges src into the dynamic version checked out at
// path, leaving out the excluded commits.
//
// The commits of HEAD..src are split into ranges separated by the excluded
// commits and one patch file per range is written under the git directory.
// A keep-ours merge of src is prepared without committing, then the patches
// are applied in order with three-way semantics. When a patch does not apply,
// nothing is committed: applied patches are renamed with a .done suffix, the
// next patch to apply gets a .current suffix, the others stay as they are,
// and recovery instructions are sent to the run's notifier. Recovery is
// manual. On success the patch files are removed and the merge is committed
// and pushed.
//
// An empty exclusion list is a regular Merge.
func (g *Git) MergeExcludeCommits(ctx context.Context, path string, src version.Version, excluded []string, message string) (MergeResult, error) {
	if len(excluded) == 0 {
		return g.Merge(ctx, path, src, message)
	}
	cur, srcCommit, err := g.prepareMerge(ctx, path, src)
	if err != nil {
		return 0, err
	}

	res, err := g.git(ctx, path, "rev-list", "--reverse", "--topo-order", "HEAD.."+srcCommit)
	if err != nil {
		return 0, err
	}
	commits := res.Lines()
	if len(commits) == 0 {
		return NothingToMerge, nil
	}
	inList := make(map[string]bool, len(commits))
	for _, c := range commits {
		inList[c] = true
	}
	skip := make(map[string]bool, len(excluded))
	for _, id := range excluded {
		full, ok, err := g.revParse(ctx, path, id+"^{commit}")
		if err != nil {
			return 0, err
		}
		if !ok || !inList[full] {
			return 0, fmt.Errorf("module %s: excluded commit %s is not among the commits of %s missing from %s", g.module, id, src, cur)
		}
		skip[full] = true
	}
	mergeBase, err := g.output(ctx, path, "merge-base", "HEAD", srcCommit)
	if err != nil {
		return 0, err
	}

	gitDir, err := g.gitDir(ctx, path)
	if err != nil {
		return 0, err
	}
	patchDir := filepath.Join(gitDir, filepath.FromSlash(excludeMergeDir))
	if entries, err := os.ReadDir(patchDir); err == nil && len(entries) > 0 {
		return 0, fmt.Errorf("module %s: %s: %w", g.module, patchDir, ErrMergeInProgress)
	}
	if err := os.MkdirAll(patchDir, 0o755); err != nil {
		return 0, err
	}

	patches, err := g.writePatches(ctx, path, patchDir, planRanges(commits, skip, mergeBase))
	if err != nil {
		os.RemoveAll(patchDir)
		return 0, err
	}

	if _, err := g.git(ctx, path, "merge", "--quiet", "--no-commit", "--no-ff", "-s", "ours", srcCommit); err != nil {
		os.RemoveAll(patchDir)
		return 0, fmt.Errorf("module %s: prepare merge of %s: %w", g.module, src, err)
	}

	for i, patch := range patches {
		res, err := g.runner.RunAllow(ctx, path, []int{1}, "apply", "--3way", patch)
		if err != nil {
			return 0, err
		}
		if res.ExitCode == 0 {
			if err := os.Rename(patch, patch+patchDoneSuffix); err != nil {
				return 0, err
			}
			continue
		}

		conflicted, err := g.unmergedPaths(ctx, path)
		if err != nil {
			return 0, err
		}
		next := i
		if len(conflicted) > 0 {
			// Applied with conflict markers: the operator resolves them
			// and continues with the following patch.
			if err := os.Rename(patch, patch+patchDoneSuffix); err != nil {
				return 0, err
			}
			next = i + 1
		}
		if next < len(patches) {
			if err := os.Rename(patches[next], patches[next]+patchCurrentSuffix); err != nil {
				return 0, err
			}
		}
		g.logger.Warn("exclusion merge stopped", "path", path, "patch", filepath.Base(patch), "conflicts", conflicted)
		g.rc.Notify(ctx, excludeMergeInstructions(g.module, src, cur, path, patchDir, filepath.Base(patch)))
		return Conflicts, nil
	}

	if err := os.RemoveAll(patchDir); err != nil {
		return 0, err
	}
	if _, err := g.git(ctx, path, "commit", "--quiet", "--cleanup=whitespace", "-m", message); err != nil {
		return 0, fmt.Errorf("module %s: commit exclusion merge: %w", g.module, err)
	}
	if err := g.push(ctx, path, "refs/heads/"+cur.Name); err != nil {
		return 0, err
	}
	return Merged, nil
}

// writePatches writes one patch file per range and returns their paths in
// application order. Ranges with an empty diff produce no file.
func (g *Git) writePatches(ctx context.Context, path, dir string, ranges []patchRange) ([]string, error) {
	var patches []string
	for i, r := range ranges {
		res, err := g.git(ctx, path, "diff", "--binary", "--full-index", r.Base, r.End)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(res.Stdout) == "" {
			g.logger.Debug("skipping empty range", "base", r.Base, "end", r.End)
			continue
		}
		files, err := diff.ParseMultiFileDiff([]byte(res.Stdout))
		if err != nil {
			g.logger.Warn("unable to inspect patch", "base", r.Base, "end", r.End, "error", err)
		} else {
			if len(files) == 0 {
				continue
			}
			var added, deleted int32
			for _, f := range files {
				st := f.Stat()
				added += st.Added + st.Changed
				deleted += st.Deleted + st.Changed
			}
			g.logger.Debug("patch written", "commits", len(r.Commits), "files", len(files), "added", added, "deleted", deleted)
		}

		name := fmt.Sprintf("%03d-%s.patch", i+1, shortID(r.End))
		file := filepath.Join(dir, name)
		if err := os.WriteFile(file, []byte(res.Stdout), 0o644); err != nil {
			return nil, err
		}
		patches = append(patches, file)
	}
	return patches, nil
}

func excludeMergeInstructions(module version.NodePath, src, dest version.Version, path, patchDir, failed string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Merging %s into %s of %s while excluding commits stopped at patch %s.\n", src, dest, module, failed)
	fmt.Fprintf(&b, "A merge of %s keeping the current tree is prepared in %s and nothing was committed.\n", src, path)
	fmt.Fprintf(&b, "Patch files are in %s: files ending in %s are applied, the file ending in %s is the next to apply and the remaining ones follow in name order.\n",
		patchDir, patchDoneSuffix, patchCurrentSuffix)
	b.WriteString("To complete the merge: resolve the conflicts and git add the files, apply each remaining patch in order with git apply --3way <file>, then git commit and push. Delete the patch directory afterwards.\n")
	b.WriteString("To abandon the merge: run git merge --abort (or git reset --hard HEAD) and delete the patch directory.")
	return b.String()
}

// Replace makes the tree at path identical to src's and records src as
// merged. It never produces conflicts.
func (g *Git) Replace(ctx context.Context, path string, src version.Version, message string) (MergeResult, error) {
	cur, srcCommit, err := g.prepareMerge(ctx, path, src)
	if err != nil {
		return 0, err
	}
	headTree, err := g.output(ctx, path, "rev-parse", "HEAD^{tree}")
	if err != nil {
		return 0, err
	}
	srcTree, err := g.output(ctx, path, "rev-parse", srcCommit+"^{tree}")
	if err != nil {
		return 0, err
	}
	if headTree == srcTree {
		return NothingToMerge, nil
	}

	merged, err := g.isAncestor(ctx, path, srcCommit, "HEAD")
	if err != nil {
		return 0, err
	}
	if !merged {
		if _, err := g.git(ctx, path, "merge", "--quiet", "--no-commit", "--no-ff", "-s", "ours", srcCommit); err != nil {
			return 0, fmt.Errorf("module %s: prepare merge of %s: %w", g.module, src, err)
		}
	}
	if _, err := g.git(ctx, path, "read-tree", "-u", "--reset", srcCommit); err != nil {
		return 0, err
	}
	if _, err := g.git(ctx, path, "commit", "--quiet", "--cleanup=whitespace", "-m", message); err != nil {
		return 0, fmt.Errorf("module %s: commit replace of %s by %s: %w", g.module, cur, src, err)
	}
	if err := g.push(ctx, path, "refs/heads/"+cur.Name); err != nil {
		return 0, err
	}
	return Merged, nil
}

func (g *Git) unmergedPaths(ctx context.Context, path string) ([]string, error) {
	res, err := g.git(ctx, path, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return res.Lines(), nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// PendingPatches returns the patch files left by an interrupted exclusion
// merge in path, in application order.
func (g *Git) PendingPatches(ctx context.Context, path string) ([]string, error) {
	gitDir, err := g.gitDir(ctx, path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Join(gitDir, filepath.FromSlash(excludeMergeDir))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}
