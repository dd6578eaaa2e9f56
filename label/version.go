package label

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Version is a validated Bazel module version as declared in module() and
// bazel_dep(): MAJOR[.MINOR[.PATCH[.EXTRA...]]][-PRERELEASE][+BUILD], with an
// optional leading "v". Dynamic versions are conventionally written as a
// 0.0.0 prerelease, e.g. "0.0.0-main".
type Version struct {
	raw        string
	release    []int
	prerelease string
}

var versionRegex = regexp.MustCompile(`^v?(\d+(?:\.\d+)*)((?:\.[a-zA-Z][a-zA-Z0-9]*(?:\.\d+)*)*)(?:-([a-zA-Z0-9.-]+))?(?:\+[a-zA-Z0-9.-]+)?$`)

// NewVersion validates an artifact version. The empty string is the empty
// version, which Bazel accepts for modules that are always overridden.
func NewVersion(s string) (Version, error) {
	if s == "" {
		return Version{}, nil
	}
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("invalid artifact version %q", s)
	}
	v := Version{raw: s, prerelease: m[3]}
	for _, part := range strings.Split(m[1], ".") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return Version{}, fmt.Errorf("invalid artifact version %q: %w", s, err)
		}
		v.release = append(v.release, n)
	}
	return v, nil
}

func (v Version) String() string { return v.raw }

// IsEmpty reports whether v is the empty version.
func (v Version) IsEmpty() bool { return v.raw == "" }

// IsPrerelease reports whether v carries a prerelease part.
func (v Version) IsPrerelease() bool { return v.prerelease != "" }

// Compare orders versions by numeric release parts, then places a
// prerelease before its release. Prereleases compare lexically. The empty
// version sorts after every other version, as Bazel treats it as the
// highest.
func (v Version) Compare(other Version) int {
	switch {
	case v.IsEmpty() && other.IsEmpty():
		return 0
	case v.IsEmpty():
		return 1
	case other.IsEmpty():
		return -1
	}
	for i := 0; i < max(len(v.release), len(other.release)); i++ {
		a, b := part(v.release, i), part(other.release, i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	switch {
	case v.prerelease == other.prerelease:
		return 0
	case v.prerelease == "":
		return 1
	case other.prerelease == "":
		return -1
	}
	return strings.Compare(v.prerelease, other.prerelease)
}

func part(parts []int, i int) int {
	if i < len(parts) {
		return parts[i]
	}
	return 0
}
