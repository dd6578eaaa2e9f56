package policy

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/reference"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// DefaultSearchDepth bounds the history walk of ExistingEquivalentStaticVersion.
const DefaultSearchDepth = 5

// ReferenceSource lists the references declared by a version of a module.
type ReferenceSource func(ctx context.Context, v version.Version) ([]reference.Reference, error)

// EquivalenceDeps are the collaborators of ExistingEquivalentStaticVersion.
type EquivalenceDeps struct {
	SCM        scm.Adapter
	References ReferenceSource
	// SearchDepth is the number of recent commits inspected. Zero means
	// DefaultSearchDepth.
	SearchDepth int
	Logger      *slog.Logger
}

// ExistingEquivalentStaticVersion returns a static version whose content is
// equivalent to the tip of dynamic, or nil when there is none.
//
// The tip commit may name the equivalent version in its attributes. Otherwise
// static versions pointing at the recent history are candidates, walking back
// through commits that only change versions. A candidate is equivalent when
// it declares the same references as dynamic.
func ExistingEquivalentStaticVersion(ctx context.Context, deps EquivalenceDeps, dynamic version.Version) (*version.Version, error) {
	if !dynamic.IsDynamic() {
		return nil, fmt.Errorf("%s is not a dynamic version", dynamic)
	}
	logger := logutil.OrDiscard(deps.Logger)
	depth := deps.SearchDepth
	if depth <= 0 {
		depth = DefaultSearchDepth
	}

	page, err := deps.SCM.ListCommit(ctx, dynamic, scm.CommitOptions{
		MaxCount:       depth,
		Attributes:     true,
		StaticVersions: true,
	})
	if err != nil {
		return nil, err
	}
	if len(page.Commits) == 0 {
		return nil, nil
	}

	if raw, ok := page.Commits[0].Attributes[scm.AttrEquivalentStaticVersion]; ok {
		v, err := version.Parse(raw)
		if err != nil || !v.IsStatic() {
			return nil, fmt.Errorf("commit %s: invalid %s %q", page.Commits[0].ID, scm.AttrEquivalentStaticVersion, raw)
		}
		logger.Debug("equivalent static version recorded on tip", "module", deps.SCM.Module(), "version", v)
		return &v, nil
	}

	var candidates []version.Version
	for _, c := range page.Commits {
		candidates = append(candidates, c.StaticVersions...)
		if !c.Attributes.IsTrue(scm.AttrVersionChange) {
			break
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	current, err := deps.References(ctx, dynamic)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		refs, err := deps.References(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if d := reference.Diff(refs, current); !d.IsEmpty() {
			logger.Debug("static version is not equivalent",
				"module", deps.SCM.Module(), "candidate", candidate, "differences", d.TotalChanges())
			continue
		}
		logger.Info("found equivalent static version", "module", deps.SCM.Module(), "dynamic", dynamic, "static", candidate)
		return &candidate, nil
	}
	return nil, nil
}
