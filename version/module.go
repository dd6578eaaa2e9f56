package version

import (
	"fmt"
	"strings"
)

// NodePath identifies a module within the module hierarchy.
// Segments are separated by "/". The zero value is the root.
type NodePath struct {
	path string
}

// NewNodePath creates a NodePath from segments.
func NewNodePath(segments ...string) (NodePath, error) {
	for _, s := range segments {
		if s == "" {
			return NodePath{}, fmt.Errorf("node path segment cannot be empty")
		}
		if strings.ContainsAny(s, "/:") {
			return NodePath{}, fmt.Errorf("invalid node path segment %q: must not contain '/' or ':'", s)
		}
	}
	return NodePath{path: strings.Join(segments, "/")}, nil
}

// ParseNodePath parses a "/"-separated node path. A leading or trailing "/"
// is ignored.
func ParseNodePath(s string) (NodePath, error) {
	s = strings.Trim(s, "/")
	if s == "" {
		return NodePath{}, nil
	}
	return NewNodePath(strings.Split(s, "/")...)
}

// MustNodePath parses a node path or panics. Use only for constants/tests.
func MustNodePath(s string) NodePath {
	p, err := ParseNodePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the "/"-separated path.
func (p NodePath) String() string {
	return p.path
}

// IsRoot returns true for the empty path.
func (p NodePath) IsRoot() bool {
	return p.path == ""
}

// Segments returns the path segments.
func (p NodePath) Segments() []string {
	if p.path == "" {
		return nil
	}
	return strings.Split(p.path, "/")
}

// Name returns the last segment.
func (p NodePath) Name() string {
	if i := strings.LastIndexByte(p.path, '/'); i >= 0 {
		return p.path[i+1:]
	}
	return p.path
}

// Parent returns the parent path. The parent of the root is the root.
func (p NodePath) Parent() NodePath {
	if i := strings.LastIndexByte(p.path, '/'); i >= 0 {
		return NodePath{path: p.path[:i]}
	}
	return NodePath{}
}

// Child returns the path of a direct child.
func (p NodePath) Child(segment string) NodePath {
	if p.path == "" {
		return NodePath{path: segment}
	}
	return NodePath{path: p.path + "/" + segment}
}

// Normalized returns the path with segments joined by ".", suitable for use
// in property keys.
func (p NodePath) Normalized() string {
	return strings.ReplaceAll(p.path, "/", ".")
}

// MarshalText implements encoding.TextMarshaler.
func (p NodePath) MarshalText() ([]byte, error) {
	return []byte(p.path), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *NodePath) UnmarshalText(text []byte) error {
	parsed, err := ParseNodePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ModuleVersion pairs a module with one of its versions.
type ModuleVersion struct {
	NodePath NodePath
	Version  Version
}

// NewModuleVersion returns a ModuleVersion.
func NewModuleVersion(path NodePath, v Version) ModuleVersion {
	return ModuleVersion{NodePath: path, Version: v}
}

// ParseModuleVersion parses "<node-path>:<version>" or "<node-path>".
func ParseModuleVersion(s string) (ModuleVersion, error) {
	pathPart, versionPart, hasVersion := strings.Cut(s, ":")
	path, err := ParseNodePath(pathPart)
	if err != nil {
		return ModuleVersion{}, fmt.Errorf("invalid module version %q: %w", s, err)
	}
	if path.IsRoot() {
		return ModuleVersion{}, fmt.Errorf("invalid module version %q: missing node path", s)
	}
	mv := ModuleVersion{NodePath: path}
	if hasVersion {
		v, err := Parse(versionPart)
		if err != nil {
			return ModuleVersion{}, fmt.Errorf("invalid module version %q: %w", s, err)
		}
		mv.Version = v
	}
	return mv, nil
}

// MustModuleVersion parses a module version or panics. Use only for constants/tests.
func MustModuleVersion(s string) ModuleVersion {
	mv, err := ParseModuleVersion(s)
	if err != nil {
		panic(err)
	}
	return mv
}

// String returns "<node-path>:<version>", or just the path when the version
// is unspecified.
func (m ModuleVersion) String() string {
	if m.Version.IsZero() {
		return m.NodePath.String()
	}
	return m.NodePath.String() + ":" + m.Version.String()
}
