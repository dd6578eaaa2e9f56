package reference

import (
	"sort"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/label"
)

// Change is a reference present on one side of a Diff only.
type Change struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// VersionChange is a reference present on both sides with different versions.
type VersionChange struct {
	Name       string `json:"name"`
	OldVersion string `json:"old_version"`
	NewVersion string `json:"new_version"`
}

// ReferenceDiff describes how two reference sets differ. References are
// keyed by Bazel module name; a name declared more than once compares by
// the set of its versions in artifact version order.
type ReferenceDiff struct {
	Added   []Change        `json:"added,omitempty"`
	Removed []Change        `json:"removed,omitempty"`
	Changed []VersionChange `json:"changed,omitempty"`
}

// IsEmpty reports whether both sets declare the same references.
func (d *ReferenceDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// TotalChanges returns the number of differences.
func (d *ReferenceDiff) TotalChanges() int {
	return len(d.Added) + len(d.Removed) + len(d.Changed)
}

// Diff compares two reference sets by artifact coordinates.
// Results are sorted by module name.
func Diff(old, new []Reference) *ReferenceDiff {
	d := &ReferenceDiff{}
	oldRefs := index(old)
	newRefs := index(new)

	for name, nv := range newRefs {
		ov, ok := oldRefs[name]
		switch {
		case !ok:
			d.Added = append(d.Added, Change{Name: name, Version: nv})
		case ov != nv:
			d.Changed = append(d.Changed, VersionChange{Name: name, OldVersion: ov, NewVersion: nv})
		}
	}
	for name, ov := range oldRefs {
		if _, ok := newRefs[name]; !ok {
			d.Removed = append(d.Removed, Change{Name: name, Version: ov})
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].Name < d.Added[j].Name })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].Name < d.Removed[j].Name })
	sort.Slice(d.Changed, func(i, j int) bool { return d.Changed[i].Name < d.Changed[j].Name })
	return d
}

func index(refs []Reference) map[string]string {
	versions := make(map[string][]string)
	for _, r := range refs {
		versions[r.ArtifactName] = append(versions[r.ArtifactName], r.ArtifactVersion)
	}
	out := make(map[string]string, len(versions))
	for name, vs := range versions {
		sort.Slice(vs, func(i, j int) bool { return compareArtifact(vs[i], vs[j]) < 0 })
		out[name] = strings.Join(vs, ",")
	}
	return out
}

// compareArtifact orders artifact versions, falling back to string order
// for values Bazel would reject.
func compareArtifact(a, b string) int {
	va, errA := label.NewVersion(a)
	vb, errB := label.NewVersion(b)
	if errA == nil && errB == nil {
		if c := va.Compare(vb); c != 0 {
			return c
		}
	}
	return strings.Compare(a, b)
}
