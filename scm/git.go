package scm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/internal/gitexec"
	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/version"
	"github.com/albertocavalcante/go-bzlrel/workspace"
)

const (
	remoteName = "origin"

	// staticVersionConfigKey records in a directory's git config the tag
	// checked out there, since a detached HEAD does not name it.
	staticVersionConfigKey = "bzlrel.tag"

	behaviorKeyPrefix       = "fetch-push-behavior."
	defaultVersionKeyPrefix = "default-version."
)

// Compile-time interface compliance check
var _ Adapter = (*Git)(nil)

// Git is the Adapter backed by the git command line client.
type Git struct {
	module   version.NodePath
	remote   string
	rc       *runctx.Context
	provider workspace.Provider
	mainDirs *workspace.MainDirs
	runner   *gitexec.Runner
	logger   *slog.Logger

	pullRebase      bool
	pushAllOnSync   bool
	defaultBehavior FetchPushBehavior
	onEvent         func(Event)
}

// Option configures a Git adapter.
type Option func(*Git) error

// WithLogger sets the logger. If not set, the run context's logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(g *Git) error {
		g.logger = l
		return nil
	}
}

// WithRunner replaces the git command runner.
func WithRunner(r *gitexec.Runner) Option {
	return func(g *Git) error {
		if r == nil {
			return errors.New("runner cannot be nil")
		}
		g.runner = r
		return nil
	}
}

// WithPullRebase makes Update rebase local commits instead of merging.
func WithPullRebase(rebase bool) Option {
	return func(g *Git) error {
		g.pullRebase = rebase
		return nil
	}
}

// WithPushAllOnSync makes IsSync push every local branch with unpushed
// commits, not only the one checked out. IsSync may push in any case; this
// widens what it pushes.
func WithPushAllOnSync(pushAll bool) Option {
	return func(g *Git) error {
		g.pushAllOnSync = pushAll
		return nil
	}
}

// WithEventHandler receives version creation events.
func WithEventHandler(fn func(Event)) Option {
	return func(g *Git) error {
		g.onEvent = fn
		return nil
	}
}

// WithDefaultFetchPushBehavior sets the behavior used until
// SetFetchPushBehavior is called during the run.
func WithDefaultFetchPushBehavior(b FetchPushBehavior) Option {
	return func(g *Git) error {
		if b < FetchPush || b > NoFetchNoPush {
			return fmt.Errorf("invalid fetch/push behavior %d", b)
		}
		g.defaultBehavior = b
		return nil
	}
}

// NewGit creates the adapter of module, whose repository lives at remote.
func NewGit(module version.NodePath, remote string, rc *runctx.Context, provider workspace.Provider, mainDirs *workspace.MainDirs, opts ...Option) (*Git, error) {
	if module.IsRoot() {
		return nil, errors.New("module path cannot be empty")
	}
	if remote == "" {
		return nil, fmt.Errorf("module %s: remote cannot be empty", module)
	}
	g := &Git{
		module:   module,
		remote:   remote,
		rc:       rc,
		provider: provider,
		mainDirs: mainDirs,
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	if g.logger == nil {
		g.logger = rc.Logger()
	}
	g.logger = g.logger.With("module", module.String())
	if g.runner == nil {
		g.runner = &gitexec.Runner{Logger: g.logger}
	}
	onRun := g.runner.OnRun
	runner := *g.runner
	runner.OnRun = func(sub string) {
		rc.Metrics().GitCommands.WithLabelValues(sub).Inc()
		if onRun != nil {
			onRun(sub)
		}
	}
	g.runner = &runner
	return g, nil
}

// Module returns the module this adapter serves.
func (g *Git) Module() version.NodePath {
	return g.module
}

// Remote returns the remote repository location.
func (g *Git) Remote() string {
	return g.remote
}

// FetchPushBehavior returns the module's fetch/push behavior for the run.
func (g *Git) FetchPushBehavior() FetchPushBehavior {
	if v, ok := g.rc.Transient(behaviorKeyPrefix + g.module.Normalized()); ok {
		return v.(FetchPushBehavior)
	}
	return g.defaultBehavior
}

// SetFetchPushBehavior changes the module's fetch/push behavior for the run.
func (g *Git) SetFetchPushBehavior(b FetchPushBehavior) {
	g.rc.SetTransient(behaviorKeyPrefix+g.module.Normalized(), b)
}

// Release releases a directory returned by CheckoutSystem.
func (g *Git) Release(path string) {
	g.provider.Release(path)
}

// Exists reports whether the remote repository is reachable.
func (g *Git) Exists(ctx context.Context) (bool, error) {
	_, err := g.runner.Run(ctx, "", "ls-remote", "--heads", g.remote)
	if err != nil {
		var exitErr *gitexec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DefaultVersion returns the remote default branch.
func (g *Git) DefaultVersion(ctx context.Context) (version.Version, error) {
	key := defaultVersionKeyPrefix + g.module.Normalized()
	if v, ok := g.rc.Transient(key); ok {
		return v.(version.Version), nil
	}
	res, err := g.runner.Run(ctx, "", "ls-remote", "--symref", g.remote, "HEAD")
	if err != nil {
		return version.Version{}, fmt.Errorf("module %s: reading default branch: %w", g.module, err)
	}
	for _, line := range res.Lines() {
		ref, target, ok := strings.Cut(line, "\t")
		if !ok || target != "HEAD" || !strings.HasPrefix(ref, "ref: refs/heads/") {
			continue
		}
		v := version.NewDynamic(strings.TrimPrefix(ref, "ref: refs/heads/"))
		g.rc.SetTransient(key, v)
		return v, nil
	}
	return version.Version{}, fmt.Errorf("module %s: remote has no default branch: %w", g.module, ErrVersionNotFound)
}

// Versions lists the existing versions of type t, sorted by name.
func (g *Git) Versions(ctx context.Context, t version.Type) ([]version.Version, error) {
	dir, err := g.queryDir(ctx)
	if err != nil {
		return nil, err
	}
	var refs []string
	if t == version.Static {
		refs = []string{"refs/tags"}
	} else {
		refs = []string{"refs/remotes/" + remoteName, "refs/heads"}
	}
	args := append([]string{"for-each-ref", "--format=%(refname)"}, refs...)
	res, err := g.runner.Run(ctx, dir, args...)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var versions []version.Version
	for _, ref := range res.Lines() {
		name, ok := versionName(ref)
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		versions = append(versions, version.Version{Type: t, Name: name})
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Name < versions[j].Name })
	return versions, nil
}

// VersionExists reports whether v exists.
func (g *Git) VersionExists(ctx context.Context, v version.Version) (bool, error) {
	dir, err := g.queryDir(ctx)
	if err != nil {
		return false, err
	}
	_, err = g.resolve(ctx, dir, v)
	if errors.Is(err, ErrVersionNotFound) || errors.Is(err, ErrVersionKind) {
		return false, nil
	}
	return err == nil, err
}

// versionName returns the branch or tag name of a full ref name.
func versionName(ref string) (string, bool) {
	for _, prefix := range []string{"refs/remotes/" + remoteName + "/", "refs/heads/", "refs/tags/"} {
		if name, ok := strings.CutPrefix(ref, prefix); ok {
			return name, name != "HEAD"
		}
	}
	return "", false
}

// git runs a command that must succeed.
func (g *Git) git(ctx context.Context, dir string, args ...string) (gitexec.Result, error) {
	return g.runner.Run(ctx, dir, args...)
}

// output runs a command and returns its trimmed stdout.
func (g *Git) output(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := g.runner.Run(ctx, dir, args...)
	if err != nil {
		return "", err
	}
	return res.Output(), nil
}

// revParse resolves rev to an object id. ok is false when rev does not exist.
func (g *Git) revParse(ctx context.Context, dir, rev string) (id string, ok bool, err error) {
	res, err := g.runner.RunAllow(ctx, dir, []int{1, 128}, "rev-parse", "--verify", "--quiet", rev)
	if err != nil {
		return "", false, err
	}
	if res.ExitCode != 0 {
		return "", false, nil
	}
	return res.Output(), true, nil
}

// isAncestor reports whether a is an ancestor of (or equal to) b.
func (g *Git) isAncestor(ctx context.Context, dir, a, b string) (bool, error) {
	res, err := g.runner.RunAllow(ctx, dir, []int{1}, "merge-base", "--is-ancestor", a, b)
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (g *Git) countCommits(ctx context.Context, dir, rangeSpec string) (int, error) {
	out, err := g.output(ctx, dir, "rev-list", "--count", rangeSpec)
	if err != nil {
		return 0, err
	}
	var n int
	if _, err := fmt.Sscanf(out, "%d", &n); err != nil {
		return 0, fmt.Errorf("parsing commit count %q: %w", out, err)
	}
	return n, nil
}

// gitDir returns the absolute .git directory of path.
func (g *Git) gitDir(ctx context.Context, path string) (string, error) {
	return g.output(ctx, path, "rev-parse", "--absolute-git-dir")
}

func isRepo(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

// resolve returns the commit of v in dir.
//
// A dynamic version resolves to the local branch when it contains the
// remote-tracking branch (it may carry unpushed commits), otherwise to the
// remote-tracking branch.
func (g *Git) resolve(ctx context.Context, dir string, v version.Version) (string, error) {
	if err := v.Validate(); err != nil {
		return "", err
	}
	branch := func() (local, remote string, err error) {
		local, _, err = g.revParse(ctx, dir, "refs/heads/"+v.Name+"^{commit}")
		if err != nil {
			return "", "", err
		}
		remote, _, err = g.revParse(ctx, dir, "refs/remotes/"+remoteName+"/"+v.Name+"^{commit}")
		return local, remote, err
	}

	if v.IsStatic() {
		id, ok, err := g.revParse(ctx, dir, "refs/tags/"+v.Name+"^{commit}")
		if err != nil {
			return "", err
		}
		if ok {
			return id, nil
		}
		local, remote, err := branch()
		if err != nil {
			return "", err
		}
		if local != "" || remote != "" {
			return "", fmt.Errorf("module %s: %s is a branch: %w", g.module, v, ErrVersionKind)
		}
		return "", fmt.Errorf("module %s: %s: %w", g.module, v, ErrVersionNotFound)
	}

	local, remote, err := branch()
	if err != nil {
		return "", err
	}
	switch {
	case local != "" && remote != "":
		ahead, err := g.isAncestor(ctx, dir, remote, local)
		if err != nil {
			return "", err
		}
		if ahead {
			return local, nil
		}
		return remote, nil
	case local != "":
		return local, nil
	case remote != "":
		return remote, nil
	}
	if _, ok, err := g.revParse(ctx, dir, "refs/tags/"+v.Name+"^{commit}"); err != nil {
		return "", err
	} else if ok {
		return "", fmt.Errorf("module %s: %s is a tag: %w", g.module, v, ErrVersionKind)
	}
	return "", fmt.Errorf("module %s: %s: %w", g.module, v, ErrVersionNotFound)
}

// staticVersionsByCommit maps commit ids to the tags pointing at them.
func (g *Git) staticVersionsByCommit(ctx context.Context, dir string) (map[string][]version.Version, error) {
	res, err := g.git(ctx, dir, "for-each-ref", "--format=%(objectname) %(*objectname) %(refname)", "refs/tags")
	if err != nil {
		return nil, err
	}
	m := make(map[string][]version.Version)
	for _, line := range res.Lines() {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		commit, ref := fields[0], fields[len(fields)-1]
		if len(fields) == 3 {
			// Annotated tag: the peeled object is the commit.
			commit = fields[1]
		}
		name, ok := versionName(ref)
		if !ok {
			continue
		}
		m[commit] = append(m[commit], version.NewStatic(name))
	}
	return m, nil
}
