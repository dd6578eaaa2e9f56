package label

import (
	"slices"
	"testing"
)

func TestNewVersion(t *testing.T) {
	tests := []struct {
		input          string
		wantErr        bool
		wantPrerelease bool
	}{
		{"1.0.0", false, false},
		{"1.0", false, false},
		{"1", false, false},
		{"8.2.1.1", false, false},
		{"1.3.1.bcr.7", false, false},
		{"v1.0.0", false, false},
		{"1.0.0+build.123", false, false},
		{"0.0.0-main", false, true},
		{"0.0.0-feature-x", false, true},
		{"0.0.0-feature_x", true, false},
		{"0.0.0-20241220-5e258e33", false, true},
		{"", false, false},
		{"main", true, false},
		{"1.0.0-", true, false},
		{"1..0", true, false},
		{"S/1.0", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := NewVersion(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewVersion(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if v.String() != tt.input {
				t.Errorf("String() = %q", v.String())
			}
			if v.IsPrerelease() != tt.wantPrerelease {
				t.Errorf("IsPrerelease() = %v, want %v", v.IsPrerelease(), tt.wantPrerelease)
			}
			if v.IsEmpty() != (tt.input == "") {
				t.Errorf("IsEmpty() = %v", v.IsEmpty())
			}
		})
	}
}

func TestVersionCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0", "1.0.0", 0},
		{"1.0", "1.1", -1},
		{"1.10", "1.9", 1},
		{"2", "1.99.99", 1},
		{"0.0.0-main", "0.0.1", -1},
		{"1.0.0-rc1", "1.0.0", -1},
		{"1.0.0-rc1", "1.0.0-rc2", -1},
		{"1.0.0", "", -1},
		{"", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			a, b := mustVersion(t, tt.a), mustVersion(t, tt.b)
			if got := a.Compare(b); got != tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := b.Compare(a); got != -tt.want {
				t.Errorf("Compare(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func TestVersionSort(t *testing.T) {
	var vs []Version
	for _, s := range []string{"1.10", "", "0.0.0-main", "1.2", "1.2-rc1"} {
		vs = append(vs, mustVersion(t, s))
	}
	slices.SortFunc(vs, Version.Compare)

	var got []string
	for _, v := range vs {
		got = append(got, v.String())
	}
	want := []string{"0.0.0-main", "1.2-rc1", "1.2", "1.10", ""}
	if !slices.Equal(got, want) {
		t.Errorf("sorted = %v, want %v", got, want)
	}
}

func mustVersion(t *testing.T, s string) Version {
	t.Helper()
	v, err := NewVersion(s)
	if err != nil {
		t.Fatal(err)
	}
	return v
}
