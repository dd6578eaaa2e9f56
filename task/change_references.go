// Package task holds the driving tasks that walk the reference graph and
// mutate modules.
package task

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/model"
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// Change is one rewritten reference.
type Change struct {
	// Module is the module version whose descriptor was rewritten.
	Module version.ModuleVersion
	// Target is the reference target before the change.
	Target version.ModuleVersion
	// Version is the version the reference designates now.
	Version   version.Version
	Reference reference.Reference
}

func (c Change) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.Module, c.Target, c.Version)
}

// Skip records a module version the task did not process.
type Skip struct {
	Module version.ModuleVersion
	Reason string
}

// Failure records a module version whose processing failed.
type Failure struct {
	Module version.ModuleVersion
	Err    error
}

// Report summarizes a ChangeReferences run.
type Report struct {
	Visited  []version.ModuleVersion
	Changes  []Change
	Skipped  []Skip
	Failures []Failure
}

// String returns a multi-line human summary.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "visited %d module version(s), changed %d reference(s)\n", len(r.Visited), len(r.Changes))
	for _, c := range r.Changes {
		fmt.Fprintf(&b, "  changed  %s\n", c)
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  skipped  %s: %s\n", s.Module, s.Reason)
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  failed   %s: %v\n", f.Module, f.Err)
	}
	return b.String()
}

// ChangeOption configures ChangeReferences.
type ChangeOption func(*changeConfig)

type changeConfig struct {
	logger          *slog.Logger
	continueOnError bool
	message         func(Change) string
}

// WithLogger sets the logger. If not set, logging is disabled.
func WithLogger(l *slog.Logger) ChangeOption {
	return func(c *changeConfig) {
		c.logger = l
	}
}

// WithContinueOnError records module failures in the report and carries on
// with the remaining module versions instead of stopping.
func WithContinueOnError() ChangeOption {
	return func(c *changeConfig) {
		c.continueOnError = true
	}
}

// WithMessage overrides the commit message of each rewrite.
func WithMessage(fn func(Change) string) ChangeOption {
	return func(c *changeConfig) {
		c.message = fn
	}
}

func defaultMessage(c Change) string {
	return fmt.Sprintf("Change reference to %s from %s to %s", c.Target.NodePath, c.Target.Version, c.Version)
}

// ChangeReferences makes every reference to a module in versions designate
// the mapped version.
//
// The traversal starts at roots and visits parents before the module
// versions they reference. Only dynamic versions are modified or descended
// into; a reference that gets rewritten is not descended into. Each rewrite
// is committed on its own with the reference-version-change attribute and
// pushed.
func ChangeReferences(ctx context.Context, m *model.Model, roots []version.ModuleVersion, versions map[version.NodePath]version.Version, opts ...ChangeOption) (*Report, error) {
	cfg := changeConfig{message: defaultMessage}
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := logutil.OrDiscard(cfg.logger)

	report := &Report{}
	visited := make(map[version.ModuleVersion]bool)
	queue := append([]version.ModuleVersion(nil), roots...)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		mv := queue[0]
		queue = queue[1:]
		if visited[mv] {
			continue
		}
		visited[mv] = true

		if !mv.Version.IsDynamic() {
			report.Skipped = append(report.Skipped, Skip{Module: mv, Reason: "static versions are immutable"})
			continue
		}
		report.Visited = append(report.Visited, mv)

		next, err := changeModule(ctx, m, mv, versions, cfg, logger, report)
		if err != nil {
			if !cfg.continueOnError {
				return report, fmt.Errorf("%s: %w", mv, err)
			}
			logger.Error("changing references failed", "module", mv.String(), "error", err)
			report.Failures = append(report.Failures, Failure{Module: mv, Err: err})
			continue
		}
		queue = append(queue, next...)
	}
	return report, nil
}

// changeModule rewrites the references of one module version and returns
// the referenced module versions to descend into.
func changeModule(ctx context.Context, m *model.Model, mv version.ModuleVersion, versions map[version.NodePath]version.Version, cfg changeConfig, logger *slog.Logger, report *Report) ([]version.ModuleVersion, error) {
	mod, err := m.Module(mv.NodePath)
	if err != nil {
		return nil, err
	}
	adapter, err := mod.SCM()
	if err != nil {
		return nil, err
	}
	refMgr, err := mod.References()
	if err != nil {
		return nil, err
	}

	dir, err := adapter.CheckoutSystem(ctx, mv.Version)
	if err != nil {
		return nil, err
	}
	defer adapter.Release(dir)

	refs, err := refMgr.References(dir)
	if err != nil {
		return nil, err
	}

	var next []version.ModuleVersion
	for _, ref := range refs {
		if ref.Target == nil {
			continue
		}
		target := *ref.Target
		v, mapped := versions[target.NodePath]
		if !mapped {
			if target.Version.IsDynamic() {
				next = append(next, target)
			}
			continue
		}
		if target.Version == v {
			logger.Debug("reference already at version", "module", mv.String(), "target", target.String())
			continue
		}

		sync, err := adapter.IsSync(ctx, dir, scm.AllChanges)
		if err != nil {
			return nil, err
		}
		if !sync {
			return nil, fmt.Errorf("%s: %w", dir, scm.ErrNotSync)
		}

		changed, err := refMgr.UpdateReferenceVersion(dir, ref, v)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		change := Change{Module: mv, Target: target, Version: v, Reference: ref}
		attrs := scm.Attributes{scm.AttrReferenceVersionChange: "true"}
		if err := adapter.Commit(ctx, dir, cfg.message(change), attrs); err != nil {
			return nil, err
		}
		logger.Info("changed reference", "module", mv.String(), "target", target.String(), "version", v.String())
		report.Changes = append(report.Changes, change)
	}
	sortModuleVersions(next)
	return next, nil
}

func sortModuleVersions(mvs []version.ModuleVersion) {
	sort.SliceStable(mvs, func(i, j int) bool { return mvs[i].String() < mvs[j].String() })
}
