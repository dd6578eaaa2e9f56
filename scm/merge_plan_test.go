package scm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlanRanges(t *testing.T) {
	commits := []string{"c1", "c2", "c3", "c4", "c5"}
	tests := []struct {
		name     string
		excluded []string
		want     []patchRange
	}{
		{
			name:     "first and last excluded",
			excluded: []string{"c1", "c5"},
			want: []patchRange{
				{Base: "c1", End: "c4", Commits: []string{"c2", "c3", "c4"}},
			},
		},
		{
			name:     "interior excluded",
			excluded: []string{"c3"},
			want: []patchRange{
				{Base: "mb", End: "c2", Commits: []string{"c1", "c2"}},
				{Base: "c3", End: "c5", Commits: []string{"c4", "c5"}},
			},
		},
		{
			name:     "alternating",
			excluded: []string{"c2", "c4"},
			want: []patchRange{
				{Base: "mb", End: "c1", Commits: []string{"c1"}},
				{Base: "c2", End: "c3", Commits: []string{"c3"}},
				{Base: "c4", End: "c5", Commits: []string{"c5"}},
			},
		},
		{
			name:     "consecutive exclusions",
			excluded: []string{"c2", "c3"},
			want: []patchRange{
				{Base: "mb", End: "c1", Commits: []string{"c1"}},
				{Base: "c3", End: "c5", Commits: []string{"c4", "c5"}},
			},
		},
		{
			name:     "nothing excluded",
			excluded: nil,
			want: []patchRange{
				{Base: "mb", End: "c5", Commits: commits},
			},
		},
		{
			name:     "everything excluded",
			excluded: commits,
			want:     nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			excluded := make(map[string]bool)
			for _, c := range tt.excluded {
				excluded[c] = true
			}
			assert.Equal(t, tt.want, planRanges(commits, excluded, "mb"))
		})
	}
}
