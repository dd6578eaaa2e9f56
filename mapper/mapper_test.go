package mapper

import (
	"errors"
	"testing"

	"github.com/albertocavalcante/go-bzlrel/config"
	"github.com/albertocavalcante/go-bzlrel/version"
)

func TestDefault(t *testing.T) {
	m := Default()

	tests := []struct {
		artifact string
		version  version.Version
	}{
		{"0.0.0-main", version.NewDynamic("main")},
		{"0.0.0-release-1.x", version.NewDynamic("release-1.x")},
		{"1.0", version.NewStatic("1.0")},
		{"1.2.3-rc.1", version.NewStatic("1.2.3-rc.1")},
	}
	for _, tt := range tests {
		t.Run(tt.artifact, func(t *testing.T) {
			got, err := m.ToVersion(tt.artifact)
			if err != nil {
				t.Fatalf("ToVersion() error = %v", err)
			}
			if got != tt.version {
				t.Errorf("ToVersion() = %v, want %v", got, tt.version)
			}
			back, err := m.ToArtifactVersion(tt.version)
			if err != nil {
				t.Fatalf("ToArtifactVersion() error = %v", err)
			}
			if back != tt.artifact {
				t.Errorf("ToArtifactVersion() = %q, want %q", back, tt.artifact)
			}
		})
	}
}

func TestToArtifactVersionInvalid(t *testing.T) {
	m := Default()
	if _, err := m.ToArtifactVersion(version.NewDynamic("feature/x")); err == nil {
		t.Error("branch names with slashes are not valid module versions")
	}
	if _, err := m.ToArtifactVersion(version.NewStatic("not a version")); err == nil {
		t.Error("expected invalid version error")
	}
}

func TestNoRule(t *testing.T) {
	m := New(
		[]Rule{MustCompile(`(\d+)\.(\d+)`, "S/$1.$2")},
		[]Rule{MustCompile(`S/(.+)`, "$1")},
	)
	if _, err := m.ToVersion("0.0.0-main"); !errors.Is(err, ErrNoRule) {
		t.Errorf("ToVersion() error = %v, want ErrNoRule", err)
	}
	if _, err := m.ToArtifactVersion(version.NewDynamic("main")); !errors.Is(err, ErrNoRule) {
		t.Errorf("ToArtifactVersion() error = %v, want ErrNoRule", err)
	}
	v, err := m.ToVersion("2.5")
	if err != nil || v != version.NewStatic("2.5") {
		t.Errorf("ToVersion(2.5) = %v, %v", v, err)
	}
}

func TestRuleAnchored(t *testing.T) {
	r := MustCompile(`D/(.+)`, "0.0.0-$1")
	if _, ok := r.Apply("xD/main"); ok {
		t.Error("pattern must match the whole input")
	}
	out, ok := r.Apply("D/main")
	if !ok || out != "0.0.0-main" {
		t.Errorf("Apply() = %q, %v", out, ok)
	}
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(&config.Mapper{
		ToArtifact: []config.Rule{{Pattern: `D/(.+)`, Replacement: "0.0.0-dev-$1"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.ToArtifactVersion(version.NewDynamic("main"))
	if err != nil || got != "0.0.0-dev-main" {
		t.Errorf("ToArtifactVersion() = %q, %v", got, err)
	}
	// to-version falls back to the defaults.
	v, err := m.ToVersion("1.0")
	if err != nil || v != version.NewStatic("1.0") {
		t.Errorf("ToVersion() = %v, %v", v, err)
	}

	if _, err := FromConfig(&config.Mapper{ToVersion: []config.Rule{{Pattern: "(", Replacement: "x"}}}); err == nil {
		t.Error("expected compile error")
	}

	def, err := FromConfig(nil)
	if err != nil || def == nil {
		t.Fatalf("FromConfig(nil) = %v, %v", def, err)
	}
}
