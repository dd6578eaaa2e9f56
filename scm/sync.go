package scm

import (
	"context"
	"fmt"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/workspace"
)

// relayDir returns the main directory through which path exchanges with the
// remote, or "" when path talks to the remote directly.
func (g *Git) relayDir(ctx context.Context, path string) (string, error) {
	main, ok, err := g.mainDirs.Get(ctx, g.module)
	if err != nil {
		return "", err
	}
	if !ok || main == path || !isRepo(main) {
		return "", nil
	}
	return main, nil
}

// fetch updates the remote-tracking refs and tags of path, at most once per
// run. A directory other than the main one fetches from the main directory
// after the main directory fetched from the remote.
func (g *Git) fetch(ctx context.Context, path string) error {
	if !g.FetchPushBehavior().CanFetch() || g.rc.IsFetched(path) {
		return nil
	}
	relay, err := g.relayDir(ctx, path)
	if err != nil {
		return err
	}
	if relay != "" {
		if err := g.fetch(ctx, relay); err != nil {
			return err
		}
		if err := g.fetchFrom(ctx, path, relay); err != nil {
			return err
		}
	} else {
		g.logger.Debug("fetching", "path", path)
		if _, err := g.git(ctx, path, "fetch", "--quiet", "--prune", "--tags", "--force", remoteName); err != nil {
			return fmt.Errorf("module %s: fetch: %w", g.module, err)
		}
	}
	g.rc.Metrics().Fetches.WithLabelValues(g.module.String()).Inc()
	g.rc.MarkFetched(path)
	return nil
}

// fetchFrom copies the remote-tracking refs and tags of the local repository
// src into path.
func (g *Git) fetchFrom(ctx context.Context, path, src string) error {
	g.logger.Debug("fetching from local directory", "path", path, "source", src)
	_, err := g.git(ctx, path, "fetch", "--quiet", "--force", src,
		"+refs/remotes/"+remoteName+"/*:refs/remotes/"+remoteName+"/*",
		"+refs/tags/*:refs/tags/*")
	if err != nil {
		return fmt.Errorf("module %s: fetch from %s: %w", g.module, src, err)
	}
	return nil
}

// push publishes ref (refs/heads/<name> or refs/tags/<name>) of path, relaying
// through the main directory when path is not the main directory.
func (g *Git) push(ctx context.Context, path, ref string) error {
	if !g.FetchPushBehavior().CanPush() {
		g.logger.Info("push disabled, not pushing", "path", path, "ref", ref)
		return nil
	}
	relay, err := g.relayDir(ctx, path)
	if err != nil {
		return err
	}

	remoteRef := ref
	if relay != "" {
		tracking := ref
		if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
			tracking = "refs/remotes/" + remoteName + "/" + name
		}
		if _, err := g.git(ctx, path, "push", "--quiet", relay, ref+":"+tracking); err != nil {
			return fmt.Errorf("module %s: push %s to main directory: %w", g.module, ref, err)
		}
		if _, err := g.git(ctx, relay, "push", "--quiet", remoteName, tracking+":"+remoteRef); err != nil {
			return fmt.Errorf("module %s: push %s: %w", g.module, ref, err)
		}
	} else {
		if _, err := g.git(ctx, path, "push", "--quiet", remoteName, ref+":"+remoteRef); err != nil {
			return fmt.Errorf("module %s: push %s: %w", g.module, ref, err)
		}
	}

	if name, ok := strings.CutPrefix(ref, "refs/heads/"); ok {
		if _, err := g.git(ctx, path, "update-ref", "refs/remotes/"+remoteName+"/"+name, ref); err != nil {
			return err
		}
	}
	g.rc.Metrics().Pushes.WithLabelValues(g.module.String()).Inc()
	g.logger.Info("pushed", "path", path, "ref", ref)
	return nil
}

// branchState compares a local branch with its remote-tracking branch.
type branchState struct {
	ahead  int
	behind int
	// tracked is false when the branch has no remote-tracking branch.
	tracked bool
}

func (g *Git) branchState(ctx context.Context, path, name string) (branchState, error) {
	tracking := "refs/remotes/" + remoteName + "/" + name
	if _, ok, err := g.revParse(ctx, path, tracking); err != nil || !ok {
		if err != nil {
			return branchState{}, err
		}
		n, err := g.countCommits(ctx, path, "refs/heads/"+name)
		return branchState{ahead: n}, err
	}
	ahead, err := g.countCommits(ctx, path, tracking+"..refs/heads/"+name)
	if err != nil {
		return branchState{}, err
	}
	behind, err := g.countCommits(ctx, path, "refs/heads/"+name+".."+tracking)
	if err != nil {
		return branchState{}, err
	}
	return branchState{ahead: ahead, behind: behind, tracked: true}, nil
}

// IsSync reports whether path is synchronized according to flags.
//
// Unpushed commits of the checked out branch are pushed when pushing is
// enabled and the branch has not diverged; with pushing disabled they are not
// reported either. With WithPushAllOnSync every other local branch with
// unpushed commits is pushed as well. A call can therefore push.
func (g *Git) IsSync(ctx context.Context, path string, flags SyncFlags) (bool, error) {
	v, err := g.CurrentVersion(ctx, path)
	if err != nil {
		return false, err
	}
	if v.IsStatic() {
		return true, nil
	}
	if err := g.fetch(ctx, path); err != nil {
		return false, err
	}

	if flags&LocalChanges != 0 {
		res, err := g.git(ctx, path, "status", "--porcelain")
		if err != nil {
			return false, err
		}
		if len(res.Lines()) > 0 {
			g.logger.Debug("uncommitted changes", "path", path)
			return false, nil
		}
	}

	state, err := g.branchState(ctx, path, v.Name)
	if err != nil {
		return false, err
	}
	if flags&RemoteChanges != 0 && state.behind > 0 {
		g.logger.Debug("remote changes not integrated", "path", path, "behind", state.behind)
		return false, nil
	}
	if flags&LocalChanges != 0 && state.ahead > 0 && g.FetchPushBehavior().CanPush() {
		if state.behind > 0 {
			return false, nil
		}
		if err := g.push(ctx, path, "refs/heads/"+v.Name); err != nil {
			return false, err
		}
	}

	if g.pushAllOnSync && g.FetchPushBehavior().CanPush() {
		if err := g.pushAll(ctx, path, v.Name); err != nil {
			return false, err
		}
	}
	return true, nil
}

// pushAll pushes every local branch except skip that is ahead of, and not
// behind, its remote-tracking branch.
func (g *Git) pushAll(ctx context.Context, path, skip string) error {
	res, err := g.git(ctx, path, "for-each-ref", "--format=%(refname)", "refs/heads")
	if err != nil {
		return err
	}
	for _, ref := range res.Lines() {
		name, ok := versionName(ref)
		if !ok || name == skip {
			continue
		}
		state, err := g.branchState(ctx, path, name)
		if err != nil {
			return err
		}
		if state.ahead == 0 {
			continue
		}
		if state.behind > 0 {
			g.logger.Warn("branch diverged from remote, not pushing", "path", path, "branch", name)
			continue
		}
		if err := g.push(ctx, path, ref); err != nil {
			return err
		}
	}
	return nil
}

// Update integrates remote changes into the branch checked out at path, by
// merging or rebasing per WithPullRebase. Static versions are never updated.
func (g *Git) Update(ctx context.Context, path string) (bool, error) {
	v, err := g.CurrentVersion(ctx, path)
	if err != nil {
		return false, err
	}
	if v.IsStatic() {
		return false, nil
	}
	if err := g.fetch(ctx, path); err != nil {
		return false, err
	}
	state, err := g.branchState(ctx, path, v.Name)
	if err != nil {
		return false, err
	}
	if !state.tracked || state.behind == 0 {
		return false, nil
	}

	tracking := "refs/remotes/" + remoteName + "/" + v.Name
	args := []string{"merge", "--quiet", "--no-edit", tracking}
	if g.pullRebase {
		args = []string{"rebase", "--quiet", tracking}
	}
	res, err := g.runner.RunAllow(ctx, path, []int{1}, args...)
	if err != nil {
		return false, fmt.Errorf("module %s: update %s: %w", g.module, path, err)
	}
	if res.ExitCode != 0 {
		g.rc.Notify(ctx, fmt.Sprintf("Updating %s (%s) from the remote produced conflicts. Resolve them in %s and complete the %s.", g.module, v, path, args[0]))
		return true, nil
	}
	return false, nil
}

// Commit stages every change in path and commits it, then pushes.
func (g *Git) Commit(ctx context.Context, path, message string, attrs Attributes) error {
	v, err := g.CurrentVersion(ctx, path)
	if err != nil {
		return err
	}
	if !v.IsDynamic() {
		return fmt.Errorf("module %s: commit requires a dynamic version, %s is checked out: %w", g.module, v, ErrVersionKind)
	}
	ok, err := g.IsSync(ctx, path, RemoteChanges)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("module %s: %s at %s: %w", g.module, v, path, ErrNotSync)
	}

	if _, err := g.git(ctx, path, "add", "--all"); err != nil {
		return err
	}
	res, err := g.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return err
	}
	if len(res.Lines()) == 0 {
		g.logger.Info("nothing to commit", "path", path)
		return nil
	}
	if _, err := g.git(ctx, path, "commit", "--quiet", "--cleanup=whitespace", "-m", EncodeMessage(attrs, message)); err != nil {
		return fmt.Errorf("module %s: commit: %w", g.module, err)
	}
	return g.push(ctx, path, "refs/heads/"+v.Name)
}

// queryDir returns a directory suitable for read-only queries: the main
// directory, else the system directory, which is created when missing.
// The directory is fetched and accessed without a lock.
func (g *Git) queryDir(ctx context.Context) (string, error) {
	main, ok, err := g.mainDirs.Get(ctx, g.module)
	if err != nil {
		return "", err
	}
	if ok && isRepo(main) {
		return main, g.fetch(ctx, main)
	}

	path, err := g.provider.Get(ctx, workspace.SystemDir(g.module), workspace.GetExistingOrCreate, workspace.Peek)
	if err != nil {
		return "", err
	}
	if !isRepo(path) {
		if err := g.initRepo(ctx, path); err != nil {
			return "", err
		}
		return path, nil
	}
	return path, g.fetch(ctx, path)
}
