// Package version provides the immutable identity types shared by every
// component of the orchestrator.
//
// All types in this package are comparable values and can be used as map keys.
// Zero values are valid and represent "unspecified".
//
// # Types
//
//   - [Version]: a dynamic (branch-like) or static (tag-like) version, "D/main" or "S/1.0.0"
//   - [NodePath]: a hierarchical module identity, "Domain/app-a"
//   - [ModuleVersion]: a NodePath paired with a Version, "Domain/app-a:D/main"
//   - [BaseVersion]: the version a version was created from
package version

import (
	"fmt"
	"strings"
)

// Type distinguishes mutable dynamic versions from immutable static versions.
type Type int

const (
	// Dynamic versions are mutable and map to branches. Their content evolves
	// through commits and they are ordered only by history.
	Dynamic Type = iota + 1

	// Static versions are immutable and map to tags. Once created a static
	// version must never be reassigned to different content.
	Static
)

// String returns "D" or "S".
func (t Type) String() string {
	switch t {
	case Dynamic:
		return "D"
	case Static:
		return "S"
	default:
		return "?"
	}
}

// ParseType parses "D" or "S".
func ParseType(s string) (Type, error) {
	switch s {
	case "D":
		return Dynamic, nil
	case "S":
		return Static, nil
	default:
		return 0, fmt.Errorf("invalid version type %q: must be D or S", s)
	}
}

// Version is a typed version identifier.
type Version struct {
	Type Type
	Name string
}

// NewDynamic returns the dynamic version with the given name.
func NewDynamic(name string) Version {
	return Version{Type: Dynamic, Name: name}
}

// NewStatic returns the static version with the given name.
func NewStatic(name string) Version {
	return Version{Type: Static, Name: name}
}

// Parse parses the "D/<name>" or "S/<name>" form produced by String.
func Parse(s string) (Version, error) {
	prefix, name, ok := strings.Cut(s, "/")
	if !ok {
		return Version{}, fmt.Errorf("invalid version %q: expected D/<name> or S/<name>", s)
	}
	t, err := ParseType(prefix)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	if err := validateName(name); err != nil {
		return Version{}, fmt.Errorf("invalid version %q: %w", s, err)
	}
	return Version{Type: t, Name: name}, nil
}

// MustParse parses a version or panics. Use only for constants/tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func validateName(name string) error {
	if name == "" {
		return fmt.Errorf("version name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("version name %q has leading or trailing whitespace", name)
	}
	if strings.ContainsAny(name, " \t\n~^:?*[\\") || strings.Contains(name, "..") {
		return fmt.Errorf("version name %q contains characters not allowed in a ref name", name)
	}
	return nil
}

// Validate reports whether v is a complete, well-formed version.
func (v Version) Validate() error {
	if v.Type != Dynamic && v.Type != Static {
		return fmt.Errorf("invalid version type %d", v.Type)
	}
	return validateName(v.Name)
}

// String returns "D/<name>" or "S/<name>". The zero Version renders as "".
func (v Version) String() string {
	if v.IsZero() {
		return ""
	}
	return v.Type.String() + "/" + v.Name
}

// IsZero returns true for the unspecified version.
func (v Version) IsZero() bool {
	return v.Type == 0 && v.Name == ""
}

// IsDynamic returns true for branch-like versions.
func (v Version) IsDynamic() bool {
	return v.Type == Dynamic
}

// IsStatic returns true for tag-like versions.
func (v Version) IsStatic() bool {
	return v.Type == Static
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*v = Version{}
		return nil
	}
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// BaseVersion records the version a version was created from and the commit
// at which it was created. It is written once when the version is created and
// never mutated.
type BaseVersion struct {
	Version     Version
	VersionBase Version
	CommitID    string
}

// String returns "<version> <- <base>@<commit>".
func (b BaseVersion) String() string {
	s := b.Version.String() + " <- " + b.VersionBase.String()
	if b.CommitID != "" {
		s += "@" + b.CommitID
	}
	return s
}
