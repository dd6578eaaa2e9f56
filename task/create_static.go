package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/albertocavalcante/go-bzlrel/internal/logutil"
	"github.com/albertocavalcante/go-bzlrel/model"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// StaticVersion is the outcome of CreateStaticVersion.
type StaticVersion struct {
	// Module is the dynamic module version the static version was created from.
	Module version.ModuleVersion
	Static version.Version
	// VersionChanged is true when the artifact version had to be rewritten
	// around the creation.
	VersionChanged bool
}

// StaticOptions configure CreateStaticVersion.
type StaticOptions struct {
	// Version is the static version to create. When zero, the module's
	// static version namer picks the next revision named Prefix<n>.
	Version version.Version
	Prefix  string
}

// CreateStaticVersion tags the tip of a dynamic module version.
//
// The artifact version declared by the descriptors is set to the mapping of
// the new static version before the tag is created, then reverted to the
// mapping of the dynamic version. Both commits carry the version-change
// attribute and the revert names the static version as equivalent, so a
// later search for an existing equivalent static version finds it without
// comparing references.
func CreateStaticVersion(ctx context.Context, m *model.Model, mv version.ModuleVersion, opts StaticOptions, chOpts ...ChangeOption) (*StaticVersion, error) {
	cfg := changeConfig{}
	for _, opt := range chOpts {
		opt(&cfg)
	}
	logger := logutil.OrDiscard(cfg.logger)

	if !mv.Version.IsDynamic() {
		return nil, fmt.Errorf("%s: %w", mv, scm.ErrVersionKind)
	}
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

	static := opts.Version
	if static.IsZero() {
		if opts.Prefix == "" {
			return nil, errors.New("either a static version or a prefix is required")
		}
		namer, err := mod.StaticVersionNamer()
		if err != nil {
			return nil, err
		}
		if static, err = namer.NewStaticVersion(ctx, opts.Prefix); err != nil {
			return nil, err
		}
	}
	if !static.IsStatic() {
		return nil, fmt.Errorf("%s: %w", static, scm.ErrVersionKind)
	}

	dir, err := adapter.CheckoutSystem(ctx, mv.Version)
	if err != nil {
		return nil, err
	}
	defer adapter.Release(dir)

	sync, err := adapter.IsSync(ctx, dir, scm.AllChanges)
	if err != nil {
		return nil, err
	}
	if !sync {
		return nil, fmt.Errorf("%s: %s: %w", mv, dir, scm.ErrNotSync)
	}

	result := &StaticVersion{Module: mv, Static: static}
	changed, err := refMgr.SetArtifactVersion(dir, mv.NodePath, static)
	if err != nil {
		return nil, err
	}
	if changed {
		result.VersionChanged = true
		msg := fmt.Sprintf("Set version of %s to %s", mv.NodePath, static)
		if err := adapter.Commit(ctx, dir, msg, scm.Attributes{scm.AttrVersionChange: "true"}); err != nil {
			return nil, err
		}
	}

	if err := adapter.CreateVersion(ctx, dir, static, nil, false); err != nil {
		return nil, err
	}
	logger.Info("static version created", "module", mv.String(), "version", static.String())

	if changed {
		if _, err := refMgr.SetArtifactVersion(dir, mv.NodePath, mv.Version); err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Restore version of %s to %s", mv.NodePath, mv.Version)
		attrs := scm.Attributes{
			scm.AttrVersionChange:           "true",
			scm.AttrEquivalentStaticVersion: static.String(),
		}
		if err := adapter.Commit(ctx, dir, msg, attrs); err != nil {
			return nil, err
		}
	}
	return result, nil
}
