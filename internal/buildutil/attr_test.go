package buildutil

import (
	"strings"
	"testing"

	"github.com/bazelbuild/buildtools/build"
)

func parseFile(t *testing.T, content string) *build.File {
	t.Helper()
	f, err := build.ParseModule("MODULE.bazel", []byte(content))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	return f
}

func parseCall(t *testing.T, content string) *build.CallExpr {
	t.Helper()
	f := parseFile(t, content)
	if len(f.Stmt) == 0 {
		t.Fatal("no statements parsed")
	}
	call, ok := f.Stmt[0].(*build.CallExpr)
	if !ok {
		t.Fatalf("expected CallExpr, got %T", f.Stmt[0])
	}
	return call
}

func TestString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		attrName string
		want     string
	}{
		{
			name:     "named string attribute",
			input:    `bazel_dep(name = "rules_go")`,
			attrName: "name",
			want:     "rules_go",
		},
		{
			name:     "missing attribute",
			input:    `bazel_dep(name = "rules_go")`,
			attrName: "version",
			want:     "",
		},
		{
			name:     "placeholder is not a literal",
			input:    `bazel_dep(name = "rules_go", version = GO_VERSION)`,
			attrName: "version",
			want:     "",
		},
		{
			name:     "first positional when name empty",
			input:    `include("//:deps.MODULE.bazel")`,
			attrName: "",
			want:     "//:deps.MODULE.bazel",
		},
		{
			name:     "empty call with empty name",
			input:    `include()`,
			attrName: "",
			want:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := parseCall(t, tt.input)
			got := String(call, tt.attrName)
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdent(t *testing.T) {
	call := parseCall(t, `bazel_dep(name = "b", version = B_VERSION, dev_dependency = True)`)

	if got := Ident(call, "version"); got != "B_VERSION" {
		t.Errorf("Ident(version) = %q, want B_VERSION", got)
	}
	if got := Ident(call, "name"); got != "" {
		t.Errorf("Ident(name) = %q, want empty", got)
	}
	if got := Ident(call, "repo_name"); got != "" {
		t.Errorf("Ident(repo_name) = %q, want empty", got)
	}
}

func TestBool(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`bazel_dep(name = "x", dev_dependency = True)`, true},
		{`bazel_dep(name = "x", dev_dependency = False)`, false},
		{`bazel_dep(name = "x")`, false},
		{`bazel_dep(name = "x", dev_dependency = "True")`, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := Bool(parseCall(t, tt.input), "dev_dependency"); got != tt.want {
				t.Errorf("Bool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSetString(t *testing.T) {
	t.Run("replace literal", func(t *testing.T) {
		call := parseCall(t, `bazel_dep(name = "b", version = "1.0")`)
		if !SetString(call, "version", "2.0") {
			t.Fatal("SetString() = false, want true")
		}
		if got := String(call, "version"); got != "2.0" {
			t.Errorf("version = %q, want 2.0", got)
		}
	})

	t.Run("same value is unchanged", func(t *testing.T) {
		call := parseCall(t, `bazel_dep(name = "b", version = "1.0")`)
		if SetString(call, "version", "1.0") {
			t.Error("SetString() = true, want false")
		}
	})

	t.Run("replace placeholder", func(t *testing.T) {
		call := parseCall(t, `bazel_dep(name = "b", version = B_VERSION)`)
		if !SetString(call, "version", "1.0") {
			t.Fatal("SetString() = false, want true")
		}
		if Ident(call, "version") != "" || String(call, "version") != "1.0" {
			t.Errorf("placeholder was not replaced: %s", build.FormatString(call))
		}
	})

	t.Run("append missing", func(t *testing.T) {
		call := parseCall(t, `module(name = "a")`)
		if !SetString(call, "version", "0.1.0") {
			t.Fatal("SetString() = false, want true")
		}
		out := build.FormatString(call)
		if !strings.Contains(out, `version = "0.1.0"`) {
			t.Errorf("formatted call = %s", out)
		}
	})
}

func TestStringAssignments(t *testing.T) {
	f := parseFile(t, `
B_VERSION = "1.0"
C_VERSION = "2.0"
NOT_A_STRING = 3
C_VERSION = "2.1"

bazel_dep(name = "b", version = B_VERSION)
`)
	got := StringAssignments(f)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got["B_VERSION"].Value != "1.0" {
		t.Errorf("B_VERSION = %q", got["B_VERSION"].Value)
	}
	if got["C_VERSION"].Value != "2.1" {
		t.Errorf("C_VERSION = %q, want the last assignment", got["C_VERSION"].Value)
	}
}

func TestCalls(t *testing.T) {
	f := parseFile(t, `
module(name = "a", version = "1.0")
bazel_dep(name = "b", version = "1.0")
go = use_extension("@rules_go//go:extensions.bzl", "go_sdk")
bazel_dep(name = "c", version = "2.0")
`)
	deps := Calls(f, "bazel_dep")
	if len(deps) != 2 {
		t.Fatalf("len = %d, want 2", len(deps))
	}
	if String(deps[0], "name") != "b" || String(deps[1], "name") != "c" {
		t.Errorf("calls out of order")
	}
	if len(Calls(f, "use_extension")) != 0 {
		t.Error("assigned calls must not be returned")
	}
}

func TestFuncName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "simple function",
			input: `foo()`,
			want:  "foo",
		},
		{
			name:  "function with args",
			input: `bazel_dep(name = "test")`,
			want:  "bazel_dep",
		},
		{
			name:  "method call",
			input: `go_sdk.download(version = "1.22")`,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FuncName(parseCall(t, tt.input))
			if got != tt.want {
				t.Errorf("FuncName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsFuncCall(t *testing.T) {
	call := parseCall(t, `module(name = "test")`)

	if !IsFuncCall(call, "module") {
		t.Error("IsFuncCall(call, \"module\") = false, want true")
	}
	if IsFuncCall(call, "bazel_dep") {
		t.Error("IsFuncCall(call, \"bazel_dep\") = true, want false")
	}
}
