// Package mapper converts between source-control versions and Bazel module
// (artifact) versions.
package mapper

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/albertocavalcante/go-bzlrel/config"
	"github.com/albertocavalcante/go-bzlrel/label"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// ErrNoRule is returned when no rule matches the input.
var ErrNoRule = errors.New("no mapping rule matches")

// Mapper maps versions to artifact versions and back.
type Mapper interface {
	ToVersion(artifactVersion string) (version.Version, error)
	ToArtifactVersion(v version.Version) (string, error)
}

// Rule rewrites an input fully matched by Pattern into Replacement, which
// may reference capture groups as $1 or ${name}.
type Rule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// Compile builds a rule. The pattern is anchored at both ends.
func Compile(pattern, replacement string) (Rule, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid mapping pattern %q: %w", pattern, err)
	}
	return Rule{Pattern: re, Replacement: replacement}, nil
}

// MustCompile is like Compile but panics on error. Use only for constants/tests.
func MustCompile(pattern, replacement string) Rule {
	r, err := Compile(pattern, replacement)
	if err != nil {
		panic(err)
	}
	return r
}

// Apply returns the rewritten input and whether the rule matched.
func (r Rule) Apply(s string) (string, bool) {
	m := r.Pattern.FindStringSubmatchIndex(s)
	if m == nil {
		return "", false
	}
	return string(r.Pattern.ExpandString(nil, r.Replacement, s, m)), true
}

// Rules is a Mapper driven by ordered rule lists. The first matching rule wins.
type Rules struct {
	toVersion  []Rule
	toArtifact []Rule
}

var _ Mapper = (*Rules)(nil)

// New returns a rule mapper.
func New(toVersion, toArtifact []Rule) *Rules {
	return &Rules{toVersion: toVersion, toArtifact: toArtifact}
}

// Default maps dynamic versions to 0.0.0-<branch> pre-releases and static
// versions to their tag name:
//
//	D/main  <-> 0.0.0-main
//	S/1.2.0 <-> 1.2.0
func Default() *Rules {
	return New(
		[]Rule{
			MustCompile(`0\.0\.0-(.+)`, "D/$1"),
			MustCompile(`(.+)`, "S/$1"),
		},
		[]Rule{
			MustCompile(`D/(.+)`, "0.0.0-$1"),
			MustCompile(`S/(.+)`, "$1"),
		},
	)
}

// FromConfig builds a mapper from a module's configured rules. Rule lists
// left empty fall back to the defaults.
func FromConfig(m *config.Mapper) (*Rules, error) {
	def := Default()
	if m == nil {
		return def, nil
	}
	toVersion, err := compileAll(m.ToVersion)
	if err != nil {
		return nil, err
	}
	toArtifact, err := compileAll(m.ToArtifact)
	if err != nil {
		return nil, err
	}
	if len(toVersion) == 0 {
		toVersion = def.toVersion
	}
	if len(toArtifact) == 0 {
		toArtifact = def.toArtifact
	}
	return New(toVersion, toArtifact), nil
}

func compileAll(rules []config.Rule) ([]Rule, error) {
	out := make([]Rule, 0, len(rules))
	for _, r := range rules {
		c, err := Compile(r.Pattern, r.Replacement)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ToVersion maps an artifact version to a version.
func (m *Rules) ToVersion(artifactVersion string) (version.Version, error) {
	for _, r := range m.toVersion {
		out, ok := r.Apply(artifactVersion)
		if !ok {
			continue
		}
		v, err := version.Parse(out)
		if err != nil {
			return version.Version{}, fmt.Errorf("artifact version %q: %w", artifactVersion, err)
		}
		return v, nil
	}
	return version.Version{}, fmt.Errorf("artifact version %q: %w", artifactVersion, ErrNoRule)
}

// ToArtifactVersion maps a version to a valid Bazel module version.
func (m *Rules) ToArtifactVersion(v version.Version) (string, error) {
	for _, r := range m.toArtifact {
		out, ok := r.Apply(v.String())
		if !ok {
			continue
		}
		if out == "" {
			return "", fmt.Errorf("version %s maps to an empty artifact version", v)
		}
		if _, err := label.NewVersion(out); err != nil {
			return "", fmt.Errorf("version %s: %w", v, err)
		}
		return out, nil
	}
	return "", fmt.Errorf("version %s: %w", v, ErrNoRule)
}
