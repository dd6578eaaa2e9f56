// Package label validates the Bazel coordinates written into MODULE.bazel
// descriptors: module names, artifact versions and the labels passed to
// include().
//
// Values are validated at construction. The zero value of each type is the
// empty value.
package label

import (
	"fmt"
	"regexp"
	"strings"
)

// Module is a validated Bazel module name, e.g. "rules_go".
type Module struct {
	name string
}

var moduleNameRegex = regexp.MustCompile(`^[a-z]([a-z0-9._-]*[a-z0-9])?$`)

// NewModule validates a module name.
func NewModule(name string) (Module, error) {
	if name == "" {
		return Module{}, fmt.Errorf("module name cannot be empty")
	}
	if !moduleNameRegex.MatchString(name) {
		return Module{}, fmt.Errorf("invalid module name %q: must match [a-z]([a-z0-9._-]*[a-z0-9])?", name)
	}
	return Module{name: name}, nil
}

func (m Module) String() string { return m.name }

// Repo is a repository name as written after "@" in a label. Empty means
// the main repository.
type Repo struct {
	name string
}

var repoNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9._-]*$`)

// IsMain reports whether the label designates the main repository.
func (r Repo) IsMain() bool { return r.name == "" }

func (r Repo) String() string { return r.name }

// Label is a parsed "@repo//pkg:target", "//pkg:target" or ":target" label.
type Label struct {
	repo   Repo
	pkg    string
	target string
	raw    string
}

// Parse parses a label. "//pkg" is shorthand for "//pkg:<last segment>".
func Parse(s string) (Label, error) {
	l := Label{raw: s}
	rest := s
	if after, ok := strings.CutPrefix(rest, "@"); ok {
		name, tail, found := strings.Cut(after, "//")
		if !found {
			return Label{}, fmt.Errorf("invalid label %q: missing //", s)
		}
		// "@@" is the canonical spelling of the main repository.
		name = strings.TrimPrefix(name, "@")
		if name != "" && !repoNameRegex.MatchString(name) {
			return Label{}, fmt.Errorf("invalid label %q: bad repository name %q", s, name)
		}
		l.repo = Repo{name: name}
		rest = "//" + tail
	}

	switch {
	case strings.HasPrefix(rest, "//"):
		pkg, target, found := strings.Cut(rest[2:], ":")
		if !found {
			target = pkg[strings.LastIndex(pkg, "/")+1:]
		}
		l.pkg, l.target = pkg, target
	case strings.HasPrefix(rest, ":"):
		l.target = rest[1:]
	default:
		return Label{}, fmt.Errorf("invalid label %q", s)
	}
	if l.target == "" {
		return Label{}, fmt.Errorf("invalid label %q: empty target", s)
	}
	return l, nil
}

func (l Label) String() string { return l.raw }

// Repo returns the repository of the label.
func (l Label) Repo() Repo { return l.repo }

// Package returns the package path, empty for the root package.
func (l Label) Package() string { return l.pkg }

// Target returns the target name.
func (l Label) Target() string { return l.target }

// Path returns the slash-separated path of the file the label designates,
// relative to its repository root.
func (l Label) Path() string {
	if l.pkg == "" {
		return l.target
	}
	return l.pkg + "/" + l.target
}
