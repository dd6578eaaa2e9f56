// Package workspace manages the on-disk directories in which modules are
// checked out, and elects per module the main directory through which
// remote traffic is relayed.
//
// Directories are either system directories (one per module, anonymous,
// tool-managed) or user directories (pinned to a ModuleVersion). Every access
// is acquired with an explicit Access mode and must be released by the
// operation that acquired it.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/version"
)

// Sentinel errors.
var (
	// ErrNotFound indicates the requested directory does not exist.
	ErrNotFound = errors.New("workspace directory not found")

	// ErrExists indicates a directory already exists where one was to be created.
	ErrExists = errors.New("workspace directory already exists")

	// ErrConflict indicates another user directory of the same module
	// prevents creating the requested one.
	ErrConflict = errors.New("conflicting workspace directory")

	// ErrLocked indicates the directory is held with an incompatible access mode.
	ErrLocked = errors.New("workspace directory is locked")
)

// Kind distinguishes system and user directories.
type Kind int

const (
	// System is an anonymous directory managed by the tool.
	System Kind = iota + 1
	// User is a directory pinned to a ModuleVersion.
	User
)

// String returns "system" or "user".
func (k Kind) String() string {
	switch k {
	case System:
		return "system"
	case User:
		return "user"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Descriptor identifies a workspace directory.
type Descriptor struct {
	Kind    Kind
	Module  version.NodePath
	Version version.Version
}

// SystemDir returns the descriptor of the system directory of module.
func SystemDir(module version.NodePath) Descriptor {
	return Descriptor{Kind: System, Module: module}
}

// UserDir returns the descriptor of the user directory pinned to mv.
func UserDir(mv version.ModuleVersion) Descriptor {
	return Descriptor{Kind: User, Module: mv.NodePath, Version: mv.Version}
}

// ModuleVersion returns the module and pinned version of d.
func (d Descriptor) ModuleVersion() version.ModuleVersion {
	return version.NewModuleVersion(d.Module, d.Version)
}

// String returns "system:<path>" or "user:<path>:<version>".
func (d Descriptor) String() string {
	if d.Kind == User {
		return "user:" + d.ModuleVersion().String()
	}
	return d.Kind.String() + ":" + d.Module.String()
}

// ParseDescriptor parses the String form of a Descriptor.
func ParseDescriptor(s string) (Descriptor, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Descriptor{}, fmt.Errorf("invalid workspace descriptor %q", s)
	}
	switch kind {
	case "system":
		p, err := version.ParseNodePath(rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("invalid workspace descriptor %q: %w", s, err)
		}
		return SystemDir(p), nil
	case "user":
		mv, err := version.ParseModuleVersion(rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("invalid workspace descriptor %q: %w", s, err)
		}
		return UserDir(mv), nil
	default:
		return Descriptor{}, fmt.Errorf("invalid workspace descriptor %q: unknown kind %q", s, kind)
	}
}

// GetMode controls whether Get may create the directory.
type GetMode int

const (
	// GetExisting fails with ErrNotFound when the directory does not exist.
	GetExisting GetMode = iota + 1
	// Create fails with ErrExists when the directory already exists.
	Create
	// GetExistingOrCreate creates the directory when needed.
	GetExistingOrCreate
)

// Access is the mode a directory is acquired with.
type Access int

const (
	// Read is shared access. Concurrent readers are allowed.
	Read Access = iota + 1
	// ReadWrite is exclusive access.
	ReadWrite
	// Peek takes no lock; the caller promises not to mutate the directory.
	// Peek access must not be released.
	Peek
)

// String returns the access mode name.
func (a Access) String() string {
	switch a {
	case Read:
		return "READ"
	case ReadWrite:
		return "READ_WRITE"
	case Peek:
		return "PEEK"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// Provider allocates and locks workspace directories.
type Provider interface {
	// Root returns the workspace root directory.
	Root() string

	// Get returns the path of the directory described by desc, creating it
	// according to mode, and acquires it with access.
	Get(ctx context.Context, desc Descriptor, mode GetMode, access Access) (string, error)

	// Release releases a directory acquired with Read or ReadWrite access.
	Release(path string)

	// Exists reports whether the directory described by desc exists.
	Exists(ctx context.Context, desc Descriptor) (bool, error)

	// Conflict returns the existing directory that would conflict with
	// creating desc, if any.
	Conflict(ctx context.Context, desc Descriptor) (Descriptor, bool, error)

	// Delete removes the directory described by desc. The directory must not
	// be held.
	Delete(ctx context.Context, desc Descriptor) error

	// List returns the existing directories accepted by filter (all when nil),
	// sorted by path.
	List(ctx context.Context, filter func(Descriptor) bool) ([]Descriptor, error)

	// Lookup returns the descriptor of the directory at path.
	Lookup(ctx context.Context, path string) (Descriptor, bool, error)

	// Path returns the path of an existing directory.
	Path(ctx context.Context, desc Descriptor) (string, bool, error)

	// Relabel changes the version a user directory is pinned to, e.g. after
	// the checked out version was switched.
	Relabel(ctx context.Context, path string, v version.Version) error
}

// ForModule returns a List filter accepting the directories of module,
// optionally restricted to kind (0 accepts both).
func ForModule(module version.NodePath, kind Kind) func(Descriptor) bool {
	return func(d Descriptor) bool {
		return d.Module == module && (kind == 0 || d.Kind == kind)
	}
}
