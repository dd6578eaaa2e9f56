// Package gitexec runs the git command line client.
//
// Every invocation drains stdout and stderr into buffers so the child process
// can never block on a full pipe. Exit codes outside the allow-list are
// reported as *ExitError with the captured output, which is also logged at
// error level.
package gitexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
)

// Runner executes git commands.
type Runner struct {
	// Binary is the git executable. Defaults to "git".
	Binary string

	// Env is appended to the process environment for every command.
	Env []string

	// Logger receives command traces at debug level and failures at error level.
	// If nil, logging is disabled.
	Logger *slog.Logger

	// OnRun is called after each command with the git subcommand name.
	OnRun func(subcommand string)
}

// Result is the outcome of a command whose exit code was allowed.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Output returns stdout with surrounding whitespace trimmed.
func (r Result) Output() string {
	return strings.TrimSpace(r.Stdout)
}

// Lines returns the non-empty lines of stdout.
func (r Result) Lines() []string {
	var lines []string
	for _, line := range strings.Split(r.Stdout, "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// ExitError is returned when git exits with a code outside the allow-list.
type ExitError struct {
	Dir      string
	Args     []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("git %s (in %s) exited with code %d", strings.Join(e.Args, " "), e.Dir, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Run executes git in dir and fails on any non-zero exit code.
func (r *Runner) Run(ctx context.Context, dir string, args ...string) (Result, error) {
	return r.RunAllow(ctx, dir, nil, args...)
}

// RunAllow executes git in dir. Exit code 0 is always allowed; allowed lists
// additional acceptable exit codes.
func (r *Runner) RunAllow(ctx context.Context, dir string, allowed []int, args ...string) (Result, error) {
	binary := r.Binary
	if binary == "" {
		binary = "git"
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0", "LC_ALL=C")
	cmd.Env = append(cmd.Env, r.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log().Debug("git", "dir", dir, "args", args)
	if r.OnRun != nil && len(args) > 0 {
		r.OnRun(subcommand(args))
	}

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return res, fmt.Errorf("running git %s: %w", strings.Join(args, " "), err)
	}

	res.ExitCode = exitErr.ExitCode()
	for _, code := range allowed {
		if code == res.ExitCode {
			return res, nil
		}
	}

	combined := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	r.log().Error("git command failed",
		"dir", dir,
		"args", args,
		"exit_code", res.ExitCode,
		"output", combined)
	return res, &ExitError{
		Dir:      dir,
		Args:     args,
		ExitCode: res.ExitCode,
		Output:   combined,
		Err:      err,
	}
}

// subcommand returns the first argument that is not a global option.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-c" || args[i] == "-C":
			i++
		case strings.HasPrefix(args[i], "-"):
		default:
			return args[i]
		}
	}
	return ""
}

func (r *Runner) log() *slog.Logger {
	return logutil.OrDiscard(r.Logger)
}
