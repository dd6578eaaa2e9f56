package scm

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/albertocavalcante/go-bzlrel/runctx"
	"github.com/albertocavalcante/go-bzlrel/version"
	"github.com/albertocavalcante/go-bzlrel/workspace"
)

var testModule = version.MustNodePath("Domain/app-a")

// fixture is a bare remote seeded from a scratch clone, plus an adapter
// working in a temporary workspace.
type fixture struct {
	t      *testing.T
	remote string
	seed   string
	store  runctx.PropertyStore
	fs     *workspace.FS
	main   *workspace.MainDirs
	rc     *runctx.Context
	git    *Git
	notes  []string
	events []Event
	opts   []Option
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GIT_CONFIG_NOSYSTEM", "1")
	t.Setenv("GIT_AUTHOR_NAME", "Test")
	t.Setenv("GIT_AUTHOR_EMAIL", "test@example.com")
	t.Setenv("GIT_COMMITTER_NAME", "Test")
	t.Setenv("GIT_COMMITTER_EMAIL", "test@example.com")
}

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), out)
	return strings.TrimSpace(string(out))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	requireGit(t)
	tmp := t.TempDir()

	f := &fixture{
		t:      t,
		remote: filepath.Join(tmp, "remote.git"),
		seed:   filepath.Join(tmp, "seed"),
		store:  runctx.NewMemoryStore(),
		opts:   opts,
	}
	runGit(t, tmp, "init", "--quiet", "--bare", f.remote)
	runGit(t, f.remote, "symbolic-ref", "HEAD", "refs/heads/main")

	runGit(t, tmp, "init", "--quiet", f.seed)
	runGit(t, f.seed, "checkout", "--quiet", "-b", "main")
	runGit(t, f.seed, "remote", "add", "origin", f.remote)
	f.seedCommit("main", map[string]string{
		"MODULE.bazel": "module(name = \"app_a\", version = \"0.0.0-main\")\n",
		"a.txt":        "a\n",
		"b.txt":        "b\n",
		"c.txt":        "c\n",
		"x.txt":        "x\n",
	}, "Initial commit")
	runGit(t, f.seed, "tag", "--annotate", "-m", "Release 1.0", "1.0")
	runGit(t, f.seed, "push", "--quiet", "origin", "refs/tags/1.0")

	fs, err := workspace.NewFS(filepath.Join(tmp, "ws"), f.store)
	require.NoError(t, err)
	f.fs = fs
	f.main = workspace.NewMainDirs(f.store, fs, nil)
	f.newRun()
	return f
}

// newRun starts a new run: fetch memoization and transient state are reset.
func (f *fixture) newRun() {
	f.t.Helper()
	f.rc = runctx.New(
		runctx.WithStore(f.store),
		runctx.WithNotifier(runctx.NotifierFunc(func(_ context.Context, msg string) {
			f.notes = append(f.notes, msg)
		})),
	)
	opts := append([]Option{WithEventHandler(func(e Event) {
		f.events = append(f.events, e)
	})}, f.opts...)
	g, err := NewGit(testModule, f.remote, f.rc, f.fs, f.main, opts...)
	require.NoError(f.t, err)
	f.git = g
}

// seedCommit commits files on branch of the seed clone, pushes, and returns
// the commit id.
func (f *fixture) seedCommit(branch string, files map[string]string, msg string) string {
	f.t.Helper()
	if runGit(f.t, f.seed, "symbolic-ref", "--short", "HEAD") != branch {
		runGit(f.t, f.seed, "checkout", "--quiet", branch)
	}
	for name, content := range files {
		writeFile(f.t, f.seed, name, content)
	}
	runGit(f.t, f.seed, "add", "--all")
	runGit(f.t, f.seed, "commit", "--quiet", "-m", msg)
	runGit(f.t, f.seed, "push", "--quiet", "origin", branch)
	return runGit(f.t, f.seed, "rev-parse", "HEAD")
}

// seedBranch creates branch from start in the seed clone and pushes it.
func (f *fixture) seedBranch(branch, start string) {
	f.t.Helper()
	runGit(f.t, f.seed, "checkout", "--quiet", "-b", branch, start)
	runGit(f.t, f.seed, "push", "--quiet", "origin", branch)
}

func (f *fixture) remoteRef(ref string) string {
	f.t.Helper()
	return runGit(f.t, f.remote, "rev-parse", ref)
}

func (f *fixture) fetches() float64 {
	return testutil.ToFloat64(f.rc.Metrics().Fetches.WithLabelValues(testModule.String()))
}

func (f *fixture) clones() float64 {
	return testutil.ToFloat64(f.rc.Metrics().Clones.WithLabelValues(testModule.String()))
}

// checkout checks v out in a system directory and releases the directory
// right away so later checkouts in the same test can reuse it.
func (f *fixture) checkout(v string) string {
	f.t.Helper()
	path, err := f.git.CheckoutSystem(context.Background(), version.MustParse(v))
	require.NoError(f.t, err)
	f.git.Release(path)
	return path
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, dir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)
	return string(data)
}
