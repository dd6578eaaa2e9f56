// Package descriptor loads, edits and saves MODULE.bazel build descriptors.
//
// Edits go through the buildtools AST so comments and formatting of the
// untouched parts of a file survive a Save.
package descriptor

import (
	"errors"
	"fmt"
	"os"

	"github.com/albertocavalcante/go-bzlrel/internal/buildutil"
	"github.com/bazelbuild/buildtools/build"
)

// FileName is the descriptor file at the root of every module.
const FileName = "MODULE.bazel"

var (
	// ErrDepNotFound is returned when an edit addresses a bazel_dep that is
	// not (or no longer) declared at the given position.
	ErrDepNotFound = errors.New("bazel_dep not found")

	// ErrUnresolvedPlaceholder is returned when a version is bound to an
	// identifier that has no top-level string assignment in the same file.
	ErrUnresolvedPlaceholder = errors.New("unresolved version placeholder")

	// ErrNoModule is returned when a file has no module() declaration.
	ErrNoModule = errors.New("module() declaration not found")
)

// ParseError reports a syntax error in a descriptor.
type ParseError struct {
	Filename string
	Message  string
	Wrapped  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Wrapped
}

// Dep is one bazel_dep() declaration.
type Dep struct {
	// Index is the position of the declaration among the file's bazel_dep calls.
	Index int
	Name  string
	// Version is the literal version, or the value of the placeholder it is
	// bound to. Empty when absent or unresolved.
	Version string
	// Placeholder names the identifier the version is bound to, if any.
	Placeholder   string
	Resolved      bool
	RepoName      string
	DevDependency bool
	Line          int
}

// LocalPathOverride is a local_path_override() declaration.
type LocalPathOverride struct {
	Module string
	Path   string
}

// File is a parsed descriptor. It is not safe for concurrent use.
type File struct {
	path     string
	raw      *build.File
	modified bool
}

// Load reads and parses the descriptor at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(path, data)
}

// Parse parses descriptor content. path is used for diagnostics and Save.
func Parse(path string, data []byte) (*File, error) {
	raw, err := build.ParseModule(path, data)
	if err != nil {
		return nil, &ParseError{
			Filename: path,
			Message:  fmt.Sprintf("syntax error: %v", err),
			Wrapped:  err,
		}
	}
	return &File{path: path, raw: raw}, nil
}

// Path returns the file path the descriptor was loaded from.
func (f *File) Path() string { return f.path }

// Modified reports whether the descriptor has unsaved edits.
func (f *File) Modified() bool { return f.modified }

func (f *File) module() *build.CallExpr {
	calls := buildutil.Calls(f.raw, "module")
	if len(calls) == 0 {
		return nil
	}
	return calls[0]
}

// ModuleName returns the name declared by module(), or "" without one.
func (f *File) ModuleName() string {
	if call := f.module(); call != nil {
		return buildutil.String(call, "name")
	}
	return ""
}

// Version returns the version declared by module(), resolving a placeholder.
func (f *File) Version() string {
	call := f.module()
	if call == nil {
		return ""
	}
	v, _, _ := f.value(call, "version")
	return v
}

// SetVersion sets the module() version. Reports whether the file changed.
func (f *File) SetVersion(v string) (bool, error) {
	call := f.module()
	if call == nil {
		return false, fmt.Errorf("%s: %w", f.path, ErrNoModule)
	}
	return f.set(call, "version", v)
}

// Placeholders returns the top-level string assignments of the file.
func (f *File) Placeholders() map[string]string {
	out := make(map[string]string)
	for name, str := range buildutil.StringAssignments(f.raw) {
		out[name] = str.Value
	}
	return out
}

// Deps returns the bazel_dep declarations in source order.
func (f *File) Deps() []Dep {
	calls := buildutil.Calls(f.raw, "bazel_dep")
	deps := make([]Dep, 0, len(calls))
	for i, call := range calls {
		v, placeholder, resolved := f.value(call, "version")
		start, _ := call.Span()
		deps = append(deps, Dep{
			Index:         i,
			Name:          buildutil.String(call, "name"),
			Version:       v,
			Placeholder:   placeholder,
			Resolved:      resolved,
			RepoName:      buildutil.String(call, "repo_name"),
			DevDependency: buildutil.Bool(call, "dev_dependency"),
			Line:          start.Line,
		})
	}
	return deps
}

// SetDepVersion sets the version of the bazel_dep at index, which must
// declare name. A version bound to a placeholder is edited at the
// placeholder's assignment. Reports whether the file changed.
func (f *File) SetDepVersion(index int, name, version string) (bool, error) {
	calls := buildutil.Calls(f.raw, "bazel_dep")
	if index < 0 || index >= len(calls) || buildutil.String(calls[index], "name") != name {
		return false, fmt.Errorf("%s: bazel_dep #%d %q: %w", f.path, index, name, ErrDepNotFound)
	}
	return f.set(calls[index], "version", version)
}

// Includes returns the labels of include() statements in source order.
func (f *File) Includes() []string {
	var out []string
	for _, call := range buildutil.Calls(f.raw, "include") {
		l := buildutil.String(call, "")
		if l == "" {
			l = buildutil.String(call, "label")
		}
		if l != "" {
			out = append(out, l)
		}
	}
	return out
}

// LocalPathOverrides returns the local_path_override declarations.
func (f *File) LocalPathOverrides() []LocalPathOverride {
	var out []LocalPathOverride
	for _, call := range buildutil.Calls(f.raw, "local_path_override") {
		o := LocalPathOverride{
			Module: buildutil.String(call, "module_name"),
			Path:   buildutil.String(call, "path"),
		}
		if o.Module != "" && o.Path != "" {
			out = append(out, o)
		}
	}
	return out
}

// Format returns the canonical formatting of the descriptor.
func (f *File) Format() []byte {
	return build.Format(f.raw)
}

// Save writes the descriptor back to its path when it has edits.
func (f *File) Save() error {
	if !f.modified {
		return nil
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(f.path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(f.path, f.Format(), mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	f.modified = false
	return nil
}

// value resolves an attribute to a string, following a placeholder binding.
func (f *File) value(call *build.CallExpr, attr string) (value, placeholder string, resolved bool) {
	if placeholder = buildutil.Ident(call, attr); placeholder != "" {
		if str, ok := buildutil.StringAssignments(f.raw)[placeholder]; ok {
			return str.Value, placeholder, true
		}
		return "", placeholder, false
	}
	value = buildutil.String(call, attr)
	return value, "", value != ""
}

func (f *File) set(call *build.CallExpr, attr, v string) (bool, error) {
	var changed bool
	if placeholder := buildutil.Ident(call, attr); placeholder != "" {
		str, ok := buildutil.StringAssignments(f.raw)[placeholder]
		if !ok {
			return false, fmt.Errorf("%s: %s: %w", f.path, placeholder, ErrUnresolvedPlaceholder)
		}
		changed = str.Value != v
		str.Value = v
		str.Token = ""
	} else {
		changed = buildutil.SetString(call, attr, v)
	}
	if changed {
		f.modified = true
	}
	return changed, nil
}
