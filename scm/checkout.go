package scm

import (
	"context"
	"errors"
	"fmt"

	"github.com/albertocavalcante/go-bzlrel/version"
	"github.com/albertocavalcante/go-bzlrel/workspace"
)

// CheckoutSystem returns a directory held for read-write access with v
// checked out.
//
// Resolution order:
//  1. the user directory pinned to this exact version
//  2. any user directory of the module, when v is the zero version
//  3. the system directory, fetched and switched to v
//  4. a new system directory, populated from the main user directory when
//     there is one, else from the remote
//
// The directory is released on every failure path.
func (g *Git) CheckoutSystem(ctx context.Context, v version.Version) (string, error) {
	if !v.IsZero() {
		if err := v.Validate(); err != nil {
			return "", err
		}
		desc := workspace.UserDir(version.NewModuleVersion(g.module, v))
		ok, err := g.provider.Exists(ctx, desc)
		if err != nil {
			return "", err
		}
		if ok {
			g.logger.Debug("reusing user directory", "version", v.String())
			return g.provider.Get(ctx, desc, workspace.GetExisting, workspace.ReadWrite)
		}
	} else {
		dirs, err := g.provider.List(ctx, workspace.ForModule(g.module, workspace.User))
		if err != nil {
			return "", err
		}
		if len(dirs) > 0 {
			g.logger.Debug("reusing user directory", "version", dirs[0].Version.String())
			return g.provider.Get(ctx, dirs[0], workspace.GetExisting, workspace.ReadWrite)
		}
	}

	sys := workspace.SystemDir(g.module)
	path, err := g.provider.Get(ctx, sys, workspace.GetExistingOrCreate, workspace.ReadWrite)
	if err != nil {
		return "", err
	}
	if err := g.checkoutSystem(ctx, path, v); err != nil {
		g.provider.Release(path)
		return "", err
	}
	return path, nil
}

func (g *Git) checkoutSystem(ctx context.Context, path string, v version.Version) error {
	if !isRepo(path) {
		if err := g.initRepo(ctx, path); err != nil {
			return err
		}
	} else if err := g.fetch(ctx, path); err != nil {
		return err
	}

	if v.IsZero() {
		cur, err := g.CurrentVersion(ctx, path)
		switch {
		case err == nil:
			v = cur
		case errors.Is(err, ErrVersionNotFound):
			if v, err = g.DefaultVersion(ctx); err != nil {
				return err
			}
		default:
			return err
		}
	}
	return g.checkoutVersion(ctx, path, v)
}

// initRepo turns the empty directory path into a repository whose origin is
// the real remote, populated from the main user directory, else the system
// directory, else the remote.
func (g *Git) initRepo(ctx context.Context, path string) error {
	if _, err := g.git(ctx, path, "init", "--quiet"); err != nil {
		return fmt.Errorf("module %s: init %s: %w", g.module, path, err)
	}
	if _, err := g.git(ctx, path, "remote", "add", remoteName, g.remote); err != nil {
		return err
	}

	src, err := g.relayDir(ctx, path)
	if err != nil {
		return err
	}
	if src == "" {
		sys, ok, err := g.provider.Path(ctx, workspace.SystemDir(g.module))
		if err != nil {
			return err
		}
		if ok && sys != path && isRepo(sys) {
			src = sys
		}
	}

	// A new directory is always populated, whatever the fetch behavior.
	if src != "" {
		if err := g.fetch(ctx, src); err != nil {
			return err
		}
		if err := g.fetchFrom(ctx, path, src); err != nil {
			return err
		}
	} else if _, err := g.git(ctx, path, "fetch", "--quiet", "--tags", remoteName); err != nil {
		return fmt.Errorf("module %s: fetch: %w", g.module, err)
	}
	g.rc.Metrics().Fetches.WithLabelValues(g.module.String()).Inc()
	g.rc.MarkFetched(path)
	g.rc.Metrics().Clones.WithLabelValues(g.module.String()).Inc()
	g.logger.Info("workspace directory cloned", "path", path, "source", src)
	return nil
}

// Checkout materializes v into the caller-owned user directory at path.
func (g *Git) Checkout(ctx context.Context, path string, v version.Version) error {
	if !isRepo(path) {
		if err := g.initRepo(ctx, path); err != nil {
			return err
		}
	} else if err := g.fetch(ctx, path); err != nil {
		return err
	}
	if v.IsZero() {
		var err error
		if v, err = g.DefaultVersion(ctx); err != nil {
			return err
		}
	}
	if err := g.checkoutVersion(ctx, path, v); err != nil {
		return err
	}
	return g.relabel(ctx, path, v)
}

// SwitchVersion checks v out at path. Uncommitted changes prevent the switch.
func (g *Git) SwitchVersion(ctx context.Context, path string, v version.Version) error {
	res, err := g.git(ctx, path, "status", "--porcelain")
	if err != nil {
		return err
	}
	if len(res.Lines()) > 0 {
		return fmt.Errorf("module %s: %s has uncommitted changes: %w", g.module, path, ErrNotSync)
	}
	if err := g.fetch(ctx, path); err != nil {
		return err
	}
	if err := g.checkoutVersion(ctx, path, v); err != nil {
		return err
	}
	return g.relabel(ctx, path, v)
}

// relabel keeps a user directory's descriptor in line with its checkout.
func (g *Git) relabel(ctx context.Context, path string, v version.Version) error {
	desc, ok, err := g.provider.Lookup(ctx, path)
	if err != nil || !ok || desc.Kind != workspace.User || desc.Version == v {
		return err
	}
	return g.provider.Relabel(ctx, path, v)
}

// checkoutVersion checks v out at path. A dynamic version checks out the
// local branch, creating it from the remote-tracking branch when needed and
// fast-forwarding it when it is strictly behind. A static version detaches
// HEAD at the tag.
func (g *Git) checkoutVersion(ctx context.Context, path string, v version.Version) error {
	commit, err := g.resolve(ctx, path, v)
	if err != nil {
		return err
	}

	if v.IsStatic() {
		if _, err := g.git(ctx, path, "checkout", "--quiet", "--detach", commit); err != nil {
			return fmt.Errorf("module %s: checkout %s: %w", g.module, v, err)
		}
		_, err := g.git(ctx, path, "config", staticVersionConfigKey, v.Name)
		return err
	}

	if _, ok, err := g.revParse(ctx, path, "refs/heads/"+v.Name); err != nil {
		return err
	} else if ok {
		if _, err := g.git(ctx, path, "checkout", "--quiet", v.Name); err != nil {
			return fmt.Errorf("module %s: checkout %s: %w", g.module, v, err)
		}
		state, err := g.branchState(ctx, path, v.Name)
		if err != nil {
			return err
		}
		if state.tracked && state.behind > 0 && state.ahead == 0 {
			if _, err := g.git(ctx, path, "merge", "--quiet", "--ff-only", "refs/remotes/"+remoteName+"/"+v.Name); err != nil {
				return err
			}
		}
	} else {
		if _, err := g.git(ctx, path, "checkout", "--quiet", "-b", v.Name, "refs/remotes/"+remoteName+"/"+v.Name); err != nil {
			return fmt.Errorf("module %s: checkout %s: %w", g.module, v, err)
		}
	}
	_, err = g.runner.RunAllow(ctx, path, []int{5}, "config", "--unset", staticVersionConfigKey)
	return err
}

// CurrentVersion returns the version checked out at path. It fails with
// ErrVersionNotFound when nothing is checked out.
func (g *Git) CurrentVersion(ctx context.Context, path string) (version.Version, error) {
	res, err := g.runner.RunAllow(ctx, path, []int{1}, "symbolic-ref", "--quiet", "HEAD")
	if err != nil {
		return version.Version{}, err
	}
	if res.ExitCode == 0 {
		branch, _ := versionName(res.Output())
		if _, ok, err := g.revParse(ctx, path, "HEAD"); err != nil {
			return version.Version{}, err
		} else if !ok {
			return version.Version{}, fmt.Errorf("module %s: nothing checked out at %s: %w", g.module, path, ErrVersionNotFound)
		}
		return version.NewDynamic(branch), nil
	}

	head, _, err := g.revParse(ctx, path, "HEAD")
	if err != nil {
		return version.Version{}, err
	}
	cfg, err := g.runner.RunAllow(ctx, path, []int{1}, "config", "--get", staticVersionConfigKey)
	if err != nil {
		return version.Version{}, err
	}
	if name := cfg.Output(); cfg.ExitCode == 0 && name != "" {
		if id, ok, err := g.revParse(ctx, path, "refs/tags/"+name+"^{commit}"); err != nil {
			return version.Version{}, err
		} else if ok && id == head {
			return version.NewStatic(name), nil
		}
	}

	tags, err := g.git(ctx, path, "tag", "--points-at", "HEAD")
	if err != nil {
		return version.Version{}, err
	}
	if lines := tags.Lines(); len(lines) > 0 {
		return version.NewStatic(lines[0]), nil
	}
	return version.Version{}, fmt.Errorf("module %s: detached HEAD at %s is not a version: %w", g.module, path, ErrVersionNotFound)
}
