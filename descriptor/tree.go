package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/albertocavalcante/go-bzlrel/label"
)

// ErrOutsideTree is returned for include labels that do not resolve to a
// file inside the module's directory.
var ErrOutsideTree = errors.New("label resolves outside the module directory")

// SubModule is an aggregated module: a local_path_override pointing at a
// directory inside the repository that holds its own descriptor.
type SubModule struct {
	Name string
	// Dir is relative to the tree root, slash separated.
	Dir  string
	File *File
}

// Tree is the set of descriptors making up one module checkout: the root
// descriptor, its include() segments and its aggregated sub-modules.
type Tree struct {
	Dir        string
	Root       *File
	Files      []*File
	SubModules []SubModule
}

// LoadTree loads the descriptor at the root of dir with everything it pulls in.
func LoadTree(dir string) (*Tree, error) {
	root, err := Load(filepath.Join(dir, FileName))
	if err != nil {
		return nil, err
	}
	t := &Tree{Dir: dir, Root: root}
	seen := map[string]bool{}
	if err := t.add(root, seen); err != nil {
		return nil, err
	}

	for _, o := range root.LocalPathOverrides() {
		if filepath.IsAbs(o.Path) {
			continue
		}
		rel := filepath.Clean(o.Path)
		if rel == "." || strings.HasPrefix(rel, "..") {
			continue
		}
		path := filepath.Join(dir, rel, FileName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		f, err := Load(path)
		if err != nil {
			return nil, err
		}
		if err := t.add(f, seen); err != nil {
			return nil, err
		}
		t.SubModules = append(t.SubModules, SubModule{
			Name: o.Module,
			Dir:  filepath.ToSlash(rel),
			File: f,
		})
	}
	return t, nil
}

func (t *Tree) add(f *File, seen map[string]bool) error {
	if seen[f.Path()] {
		return nil
	}
	seen[f.Path()] = true
	t.Files = append(t.Files, f)

	for _, l := range f.Includes() {
		path, err := ResolveInclude(t.Dir, l)
		if err != nil {
			return fmt.Errorf("%s: include(%q): %w", f.Path(), l, err)
		}
		inc, err := Load(path)
		if err != nil {
			return err
		}
		if err := t.add(inc, seen); err != nil {
			return err
		}
	}
	return nil
}

// Rel returns the path of f relative to the tree root, slash separated.
func (t *Tree) Rel(f *File) string {
	rel, err := filepath.Rel(t.Dir, f.Path())
	if err != nil {
		return f.Path()
	}
	return filepath.ToSlash(rel)
}

// ModuleNames returns the names declared by the root and every sub-module.
func (t *Tree) ModuleNames() map[string]bool {
	names := map[string]bool{}
	if n := t.Root.ModuleName(); n != "" {
		names[n] = true
	}
	for _, s := range t.SubModules {
		names[s.Name] = true
		if n := s.File.ModuleName(); n != "" {
			names[n] = true
		}
	}
	return names
}

// Save writes every modified descriptor of the tree.
func (t *Tree) Save() error {
	for _, f := range t.Files {
		if err := f.Save(); err != nil {
			return err
		}
	}
	return nil
}

// ResolveInclude maps an include() label of the main repository to a path
// under root. Labels naming another repository are rejected.
func ResolveInclude(root, l string) (string, error) {
	parsed, err := label.Parse(l)
	if err != nil {
		return "", err
	}
	if !parsed.Repo().IsMain() {
		return "", fmt.Errorf("%s: %w", l, ErrOutsideTree)
	}
	rel := filepath.Clean(filepath.FromSlash(parsed.Path()))
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", l, ErrOutsideTree)
	}
	return filepath.Join(root, rel), nil
}
