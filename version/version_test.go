package version

import (
	"encoding/json"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		input    string
		wantType Type
		wantName string
	}{
		{"D/main", Dynamic, "main"},
		{"S/1.0.0", Static, "1.0.0"},
		{"D/feature/login", Dynamic, "feature/login"},
		{"S/v2.3-rc1", Static, "v2.3-rc1"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if v.Type != tt.wantType {
				t.Errorf("Parse(%q).Type = %v, want %v", tt.input, v.Type, tt.wantType)
			}
			if v.Name != tt.wantName {
				t.Errorf("Parse(%q).Name = %q, want %q", tt.input, v.Name, tt.wantName)
			}
			again, err := Parse(v.String())
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", v.String(), err)
			}
			if again != v {
				t.Errorf("Parse(String()) = %v, want %v", again, v)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "main", "X/main", "D/", "S/ 1.0", "D/a..b", "D/a b"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); err == nil {
				t.Errorf("Parse(%q) expected error", input)
			}
		})
	}
}

func TestVersionPredicates(t *testing.T) {
	var zero Version
	if !zero.IsZero() || zero.String() != "" {
		t.Errorf("zero Version: IsZero=%v String=%q", zero.IsZero(), zero.String())
	}
	if !NewDynamic("main").IsDynamic() || NewDynamic("main").IsStatic() {
		t.Error("NewDynamic should be dynamic only")
	}
	if !NewStatic("1.0").IsStatic() || NewStatic("1.0").IsDynamic() {
		t.Error("NewStatic should be static only")
	}
	if err := (Version{Type: 7, Name: "x"}).Validate(); err == nil {
		t.Error("Validate() expected error for unknown type")
	}
}

func TestVersionJSON(t *testing.T) {
	type payload struct {
		V Version `json:"v"`
	}
	data, err := json.Marshal(payload{V: MustParse("S/1.2")})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"v":"S/1.2"}` {
		t.Errorf("Marshal = %s", data)
	}
	var got payload
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.V != MustParse("S/1.2") {
		t.Errorf("Unmarshal = %v", got.V)
	}
}

func TestNodePath(t *testing.T) {
	p := MustNodePath("Domain/app/core")
	if p.Name() != "core" {
		t.Errorf("Name() = %q", p.Name())
	}
	if p.Parent() != MustNodePath("Domain/app") {
		t.Errorf("Parent() = %q", p.Parent())
	}
	if p.Parent().Parent().Parent() != (NodePath{}) {
		t.Errorf("root parent = %q", p.Parent().Parent().Parent())
	}
	if p.Parent().Child("core") != p {
		t.Errorf("Child() = %q", p.Parent().Child("core"))
	}
	if got := len(p.Segments()); got != 3 {
		t.Errorf("Segments() len = %d", got)
	}
	if p.Normalized() != "Domain.app.core" {
		t.Errorf("Normalized() = %q", p.Normalized())
	}
	if _, err := NewNodePath("a", "b:c"); err == nil {
		t.Error("NewNodePath expected error for ':'")
	}
}

func TestModuleVersion(t *testing.T) {
	mv := MustModuleVersion("Domain/app:D/feature/x")
	if mv.NodePath.String() != "Domain/app" {
		t.Errorf("NodePath = %q", mv.NodePath)
	}
	if mv.Version != NewDynamic("feature/x") {
		t.Errorf("Version = %v", mv.Version)
	}
	if mv.String() != "Domain/app:D/feature/x" {
		t.Errorf("String() = %q", mv.String())
	}

	bare := MustModuleVersion("Domain/app")
	if !bare.Version.IsZero() || bare.String() != "Domain/app" {
		t.Errorf("bare = %v", bare)
	}

	seen := map[ModuleVersion]bool{mv: true}
	if !seen[NewModuleVersion(MustNodePath("Domain/app"), NewDynamic("feature/x"))] {
		t.Error("ModuleVersion should be usable as a map key")
	}

	if _, err := ParseModuleVersion(":D/main"); err == nil {
		t.Error("expected error for missing node path")
	}
}
