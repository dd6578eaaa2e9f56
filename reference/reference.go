// Package reference lists and rewrites the references a module's build
// descriptor declares on other modules.
package reference

import (
	"errors"
	"fmt"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/version"
)

var (
	// ErrForeignLocator is returned when a reference produced by one manager
	// is handed to another.
	ErrForeignLocator = errors.New("reference was produced by another reference manager")

	// ErrExternalReference is returned when rewriting a reference to a module
	// that is not tracked.
	ErrExternalReference = errors.New("reference targets an untracked module")

	// ErrModuleNotFound is returned under ActionAbort when a reference names a
	// Bazel module no tracked module publishes.
	ErrModuleNotFound = errors.New("referenced module is not tracked")

	// ErrUnresolvedProperty is returned under ActionAbort when a reference's
	// version is bound to an undefined placeholder.
	ErrUnresolvedProperty = errors.New("reference version placeholder is undefined")
)

// Locator identifies a declaration inside a descriptor tree. It is only
// meaningful to the manager named by AdapterID.
type Locator struct {
	AdapterID string
	// File is relative to the module directory, slash separated.
	File  string
	Index int
	Name  string
}

// Reference is one declared dependency of a module.
type Reference struct {
	// Target is nil when the referenced Bazel module is not tracked.
	Target          *version.ModuleVersion
	ArtifactName    string
	ArtifactVersion string
	DevDependency   bool
	Locator         Locator
}

func (r Reference) String() string {
	if r.Target == nil {
		return fmt.Sprintf("%s@%s (external)", r.ArtifactName, r.ArtifactVersion)
	}
	return fmt.Sprintf("%s@%s -> %s", r.ArtifactName, r.ArtifactVersion, r.Target)
}

// Condition is a reference resolution problem whose handling is configurable.
type Condition int

const (
	ModuleNotFound Condition = iota
	UnresolvedProperty
)

func (c Condition) String() string {
	switch c {
	case ModuleNotFound:
		return "module-not-found"
	case UnresolvedProperty:
		return "unresolved-property"
	default:
		return fmt.Sprintf("Condition(%d)", int(c))
	}
}

// Action is how a Condition is handled.
type Action int

const (
	// ActionWarn logs the condition and carries on.
	ActionWarn Action = iota
	// ActionIgnore carries on silently.
	ActionIgnore
	// ActionAbort fails the listing.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionWarn:
		return "warn"
	case ActionAbort:
		return "abort"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// ParseAction parses "ignore", "warn" or "abort". Empty means warn.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn":
		return ActionWarn, nil
	case "ignore":
		return ActionIgnore, nil
	case "abort":
		return ActionAbort, nil
	default:
		return 0, fmt.Errorf("invalid reference action %q: must be ignore, warn or abort", s)
	}
}

// AggregateVersionError reports an aggregated sub-module whose declared
// version differs from the aggregating module's.
type AggregateVersionError struct {
	Module     string
	Version    string
	SubModule  string
	SubVersion string
}

func (e *AggregateVersionError) Error() string {
	return fmt.Sprintf("aggregated module %s has version %q but %s has %q",
		e.SubModule, e.SubVersion, e.Module, e.Version)
}
