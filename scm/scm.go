// Package scm is the source control layer of the engine.
//
// An Adapter serves one module. It materializes workspace directories,
// guards every mutating operation with a synchronization check, and
// implements version creation (with base-version provenance embedded in
// commit and tag messages), history enumeration, merges and the exclusion
// merge that replays all but a chosen set of commits.
//
// Git is the implementation backed by the git command line client.
package scm

import (
	"context"
	"errors"
	"fmt"

	"github.com/albertocavalcante/go-bzlrel/version"
)

// Sentinel errors.
var (
	// ErrNotSync indicates the workspace directory is not synchronized with
	// the remote, which a mutating operation requires.
	ErrNotSync = errors.New("workspace directory not synchronized")

	// ErrVersionKind indicates the version exists with the other type
	// (a branch requested as static or a tag requested as dynamic), or an
	// operation requires a dynamic version to be checked out.
	ErrVersionKind = errors.New("version type mismatch")

	// ErrVersionExists indicates the version to create already exists.
	ErrVersionExists = errors.New("version already exists")

	// ErrVersionNotFound indicates the version does not exist.
	ErrVersionNotFound = errors.New("version not found")

	// ErrMergeInProgress indicates an exclusion merge left patch files that
	// the operator has not cleaned up yet.
	ErrMergeInProgress = errors.New("exclusion merge in progress")
)

// FetchPushBehavior gates network operations for a module.
type FetchPushBehavior int

const (
	// FetchPush fetches and pushes. This is the default.
	FetchPush FetchPushBehavior = iota
	// FetchNoPush fetches but never pushes.
	FetchNoPush
	// NoFetchNoPush neither fetches nor pushes.
	NoFetchNoPush
)

// String returns the configuration name of b.
func (b FetchPushBehavior) String() string {
	switch b {
	case FetchPush:
		return "FETCH_PUSH"
	case FetchNoPush:
		return "FETCH_NO_PUSH"
	case NoFetchNoPush:
		return "NO_FETCH_NO_PUSH"
	default:
		return fmt.Sprintf("FetchPushBehavior(%d)", int(b))
	}
}

// ParseFetchPushBehavior parses the configuration name of a behavior.
func ParseFetchPushBehavior(s string) (FetchPushBehavior, error) {
	switch s {
	case "FETCH_PUSH":
		return FetchPush, nil
	case "FETCH_NO_PUSH":
		return FetchNoPush, nil
	case "NO_FETCH_NO_PUSH":
		return NoFetchNoPush, nil
	default:
		return 0, fmt.Errorf("invalid fetch/push behavior %q", s)
	}
}

// CanFetch reports whether fetching is enabled.
func (b FetchPushBehavior) CanFetch() bool {
	return b != NoFetchNoPush
}

// CanPush reports whether pushing is enabled.
func (b FetchPushBehavior) CanPush() bool {
	return b == FetchPush
}

// SyncFlags selects what IsSync checks.
type SyncFlags int

const (
	// RemoteChanges checks that the remote has no commits missing locally.
	RemoteChanges SyncFlags = 1 << iota
	// LocalChanges checks for uncommitted changes and unpushed commits.
	LocalChanges

	// AllChanges checks both.
	AllChanges = RemoteChanges | LocalChanges
)

// MergeResult is the outcome of a merge. Conflicts are a result, not an error.
type MergeResult int

const (
	// Merged means the merge was committed (and pushed when enabled).
	Merged MergeResult = iota + 1
	// Conflicts means the merge stopped with conflicts the operator must resolve.
	Conflicts
	// NothingToMerge means the destination already contains the source.
	NothingToMerge
)

// String returns the result name.
func (r MergeResult) String() string {
	switch r {
	case Merged:
		return "MERGED"
	case Conflicts:
		return "CONFLICTS"
	case NothingToMerge:
		return "NOTHING_TO_MERGE"
	default:
		return fmt.Sprintf("MergeResult(%d)", int(r))
	}
}

// Commit is a projection of one commit. Only the fields requested through
// CommitOptions are populated.
type Commit struct {
	ID string

	// Message is the human text, without the attribute block.
	Message string

	Attributes Attributes

	// StaticVersions are the static versions pointing at this commit.
	StaticVersions []version.Version
}

// CommitOptions control history enumeration.
type CommitOptions struct {
	// Skip is the number of commits to skip from the tip.
	Skip int

	// MaxCount limits the number of commits returned. Zero means no limit.
	MaxCount int

	// Message populates Commit.Message.
	Message bool

	// Attributes populates Commit.Attributes.
	Attributes bool

	// StaticVersions populates Commit.StaticVersions.
	StaticVersions bool
}

// CommitPage is one page of history.
type CommitPage struct {
	Commits []Commit

	// Done is true when no further commits follow, either because the
	// history is exhausted or because the version's creation commit was
	// reached.
	Done bool
}

// Event is raised after a version was created.
type Event interface {
	// ModuleVersion returns the created version.
	ModuleVersion() version.ModuleVersion
}

// DynamicVersionCreated is raised after a branch was created.
type DynamicVersionCreated struct {
	Module version.NodePath
	Base   version.BaseVersion
}

// ModuleVersion returns the created version.
func (e DynamicVersionCreated) ModuleVersion() version.ModuleVersion {
	return version.NewModuleVersion(e.Module, e.Base.Version)
}

// StaticVersionCreated is raised after a tag was created.
type StaticVersionCreated struct {
	Module version.NodePath
	Base   version.BaseVersion
}

// ModuleVersion returns the created version.
func (e StaticVersionCreated) ModuleVersion() version.ModuleVersion {
	return version.NewModuleVersion(e.Module, e.Base.Version)
}

// Adapter is the source control interface of one module.
type Adapter interface {
	// Module returns the module this adapter serves.
	Module() version.NodePath

	// Exists reports whether the remote repository is reachable.
	Exists(ctx context.Context) (bool, error)

	// DefaultVersion returns the remote default branch.
	DefaultVersion(ctx context.Context) (version.Version, error)

	// Versions lists the existing versions of type t, sorted by name.
	Versions(ctx context.Context, t version.Type) ([]version.Version, error)

	// VersionExists reports whether v exists.
	VersionExists(ctx context.Context, v version.Version) (bool, error)

	// CheckoutSystem returns a directory held for read-write access with v
	// checked out. The zero version selects any existing user directory, or
	// the default version. The caller must Release the directory.
	CheckoutSystem(ctx context.Context, v version.Version) (string, error)

	// Checkout materializes v into the caller-owned user directory at path.
	Checkout(ctx context.Context, path string, v version.Version) error

	// Release releases a directory returned by CheckoutSystem.
	Release(path string)

	// CurrentVersion returns the version checked out at path.
	CurrentVersion(ctx context.Context, path string) (version.Version, error)

	// IsSync reports whether path is synchronized according to flags.
	// Static versions are always synchronized. When pushing is enabled,
	// unpushed commits are pushed instead of being reported.
	IsSync(ctx context.Context, path string, flags SyncFlags) (bool, error)

	// Update integrates remote changes into path and reports conflicts.
	Update(ctx context.Context, path string) (conflicts bool, err error)

	// Commit stages every change in path and commits it with attrs
	// embedded in the message, then pushes. Nothing to commit is a no-op.
	Commit(ctx context.Context, path, message string, attrs Attributes) error

	// CreateVersion creates target from the version checked out at path.
	CreateVersion(ctx context.Context, path string, target version.Version, attrs Attributes, switchAfter bool) error

	// SwitchVersion checks v out at path.
	SwitchVersion(ctx context.Context, path string, v version.Version) error

	// BaseVersion returns the base version recorded when v was created, or
	// nil when v was not created with base-version metadata.
	BaseVersion(ctx context.Context, v version.Version) (*version.BaseVersion, error)

	// ListCommit enumerates the commits of v, newest first.
	ListCommit(ctx context.Context, v version.Version, opts CommitOptions) (CommitPage, error)

	// ListCommitDiverge enumerates the commits of src missing from dest,
	// newest first.
	ListCommitDiverge(ctx context.Context, src, dest version.Version, opts CommitOptions) (CommitPage, error)

	// Merge merges src into the dynamic version checked out at path.
	Merge(ctx context.Context, path string, src version.Version, message string) (MergeResult, error)

	// MergeExcludeCommits merges src into path except the excluded commits.
	MergeExcludeCommits(ctx context.Context, path string, src version.Version, excluded []string, message string) (MergeResult, error)

	// Replace makes the tree at path identical to src while recording a
	// merge of src.
	Replace(ctx context.Context, path string, src version.Version, message string) (MergeResult, error)

	// PendingPatches returns the patch files an interrupted exclusion merge
	// left in path, in application order.
	PendingPatches(ctx context.Context, path string) ([]string, error)

	// FetchPushBehavior returns the module's fetch/push behavior for the run.
	FetchPushBehavior() FetchPushBehavior

	// SetFetchPushBehavior changes the module's fetch/push behavior for the run.
	SetFetchPushBehavior(b FetchPushBehavior)
}
