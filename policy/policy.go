// Package policy holds stateless strategies consulted when release jobs need
// to pick a version: a version pinned by configuration, an existing static
// version equivalent to a dynamic one, and the next free revision number.
package policy

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/config"
	"github.com/albertocavalcante/go-bzlrel/scm"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// ErrRevisionOverflow is returned when the next revision does not fit the
// configured width.
var ErrRevisionOverflow = errors.New("revision number overflows the configured width")

// Properties is a hierarchical property source.
type Properties interface {
	Property(path version.NodePath, key string) (string, bool)
}

// SpecificVersion returns the version pinned for module by the property
// "specific-version.<key>". ok is false when nothing is pinned.
func SpecificVersion(props Properties, module version.NodePath, key string) (v version.Version, ok bool, err error) {
	raw, found := props.Property(module, config.PropSpecificVersionPrefix+key)
	if !found || strings.TrimSpace(raw) == "" {
		return version.Version{}, false, nil
	}
	v, err = version.Parse(strings.TrimSpace(raw))
	if err != nil {
		return version.Version{}, false, fmt.Errorf("%s: %s%s: %w", module, config.PropSpecificVersionPrefix, key, err)
	}
	return v, true, nil
}

// RevisionOptions format revision numbers.
type RevisionOptions struct {
	// Width zero pads the number. Zero means no padding and no limit.
	Width int
	// Floor is the smallest number handed out. Values below 1 mean 1.
	Floor int
}

// NextRevision returns prefix followed by the revision number following
// the highest numeric suffix among existing names sharing prefix.
func NextRevision(prefix string, existing []string, opts RevisionOptions) (string, error) {
	floor := max(opts.Floor, 1)
	next := floor
	for _, name := range existing {
		suffix, ok := strings.CutPrefix(name, prefix)
		if !ok || suffix == "" || strings.TrimLeft(suffix, "0123456789") != "" {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		next = max(next, n+1)
	}

	digits := strconv.Itoa(next)
	if opts.Width > 0 {
		if len(digits) > opts.Width {
			return "", fmt.Errorf("%s%s: %w (width %d)", prefix, digits, ErrRevisionOverflow, opts.Width)
		}
		digits = strings.Repeat("0", opts.Width-len(digits)) + digits
	}
	return prefix + digits, nil
}

// RevisionOptionsFor reads the revision options of module from props.
func RevisionOptionsFor(props Properties, module version.NodePath) (RevisionOptions, error) {
	var opts RevisionOptions
	for key, dst := range map[string]*int{
		config.PropRevisionWidth: &opts.Width,
		config.PropRevisionFloor: &opts.Floor,
	} {
		raw, ok := props.Property(module, key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return RevisionOptions{}, fmt.Errorf("%s: %s: invalid number %q", module, key, raw)
		}
		*dst = n
	}
	return opts, nil
}

// NewVersion returns the next version of type t named prefix<revision>,
// given the versions that already exist in the module.
func NewVersion(ctx context.Context, adapter scm.Adapter, t version.Type, prefix string, opts RevisionOptions) (version.Version, error) {
	existing, err := adapter.Versions(ctx, t)
	if err != nil {
		return version.Version{}, err
	}
	names := make([]string, 0, len(existing))
	for _, v := range existing {
		names = append(names, v.Name)
	}
	name, err := NextRevision(prefix, names, opts)
	if err != nil {
		return version.Version{}, fmt.Errorf("%s: %w", adapter.Module(), err)
	}
	return version.Version{Type: t, Name: name}, nil
}

// NewStaticVersion returns the next static version named prefix<revision>.
func NewStaticVersion(ctx context.Context, adapter scm.Adapter, prefix string, opts RevisionOptions) (version.Version, error) {
	return NewVersion(ctx, adapter, version.Static, prefix, opts)
}

// Namer names static versions of one module.
type Namer struct {
	SCM     scm.Adapter
	Options RevisionOptions
}

// NewStaticVersion returns the next static version named prefix<revision>.
func (n *Namer) NewStaticVersion(ctx context.Context, prefix string) (version.Version, error) {
	return NewStaticVersion(ctx, n.SCM, prefix, n.Options)
}
