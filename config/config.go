// Package config loads the orchestrator configuration: the tracked modules,
// the workspace location and the hierarchical properties consulted by the
// engine (fetch/push behavior, pull mode, revision formatting, ...).
//
// Properties are looked up on the module's node path first, then on each
// parent node, then in the top-level defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/albertocavalcante/go-bzlrel/label"
	"github.com/albertocavalcante/go-bzlrel/version"
)

// MaxFileSize is the maximum accepted configuration file size (1MB).
const MaxFileSize = 1024 * 1024

// Property keys understood by the engine.
const (
	// PropFetchPush selects the fetch/push behavior:
	// NO_FETCH_NO_PUSH, FETCH_NO_PUSH or FETCH_PUSH.
	PropFetchPush = "fetch-push"

	// PropPullRebase makes Update rebase instead of merge.
	PropPullRebase = "pull-rebase"

	// PropPushAllOnSync makes the sync check push every unpushed branch.
	PropPushAllOnSync = "push-all-on-sync"

	// PropRevisionWidth is the zero padding width of revision numbers.
	PropRevisionWidth = "revision-width"

	// PropRevisionFloor is the smallest revision number handed out.
	PropRevisionFloor = "revision-floor"

	// PropModuleNotFound is the action for references to untracked modules:
	// IGNORE, WARN or ABORT.
	PropModuleNotFound = "reference.module-not-found"

	// PropUnresolvedProperty is the action for version placeholders that
	// cannot be resolved: IGNORE, WARN or ABORT.
	PropUnresolvedProperty = "reference.unresolved-property"

	// PropSpecificVersionPrefix prefixes keys pinning a version per job,
	// e.g. "specific-version.release".
	PropSpecificVersionPrefix = "specific-version."

	// PropEquivalentSearchDepth bounds the history walk looking for an
	// equivalent static version.
	PropEquivalentSearchDepth = "equivalent-static-version.search-depth"
)

// Config is the root configuration document.
type Config struct {
	// Workspace is the root of all workspace directories.
	// Relative paths are resolved against the configuration file.
	Workspace string `yaml:"workspace" validate:"required"`

	// Store is the directory of the persistent property store.
	// Empty keeps properties in memory for the duration of the run.
	Store string `yaml:"store,omitempty"`

	// Properties are the defaults for every module.
	Properties map[string]string `yaml:"properties,omitempty"`

	// Nodes carry properties for intermediate node paths.
	Nodes []Node `yaml:"nodes,omitempty" validate:"unique=Path,dive"`

	// Modules are the tracked modules.
	Modules []Module `yaml:"modules" validate:"required,min=1,unique=Path,unique=Name,dive"`

	byPath map[string]int
	byName map[string]int
	nodes  map[string]int
}

// Node holds properties for a node path that is not itself a module.
type Node struct {
	Path       string            `yaml:"path" validate:"required,nodepath"`
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Module describes a tracked module.
type Module struct {
	// Path is the module's node path, e.g. "Domain/app-a".
	Path string `yaml:"path" validate:"required,nodepath"`

	// Name is the Bazel module name declared in MODULE.bazel.
	Name string `yaml:"name" validate:"required,bzlmodule"`

	// Remote is the git remote URL or path.
	Remote string `yaml:"remote" validate:"required"`

	// Mapper overrides the default version mapping rules.
	Mapper *Mapper `yaml:"mapper,omitempty"`

	Properties map[string]string `yaml:"properties,omitempty"`
}

// Mapper holds regex rules mapping between versions and artifact versions.
// The first matching rule wins.
type Mapper struct {
	ToVersion  []Rule `yaml:"to-version" validate:"dive"`
	ToArtifact []Rule `yaml:"to-artifact" validate:"dive"`
}

// Rule is one regex rewrite rule. Replacement may use $1-style group
// references.
type Rule struct {
	Pattern     string `yaml:"pattern" validate:"required"`
	Replacement string `yaml:"replacement" validate:"required"`
}

// NodePath returns the parsed node path of m.
func (m *Module) NodePath() version.NodePath {
	return version.MustNodePath(m.Path)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("nodepath", func(fl validator.FieldLevel) bool {
		p, err := version.ParseNodePath(fl.Field().String())
		return err == nil && !p.IsRoot()
	})
	_ = v.RegisterValidation("bzlmodule", func(fl validator.FieldLevel) bool {
		_, err := label.NewModule(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if info.Size() > MaxFileSize {
		return nil, fmt.Errorf("config file %s too large (%d bytes, max %d)", path, info.Size(), MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	cfg.Workspace = resolvePath(base, cfg.Workspace)
	if cfg.Store != "" {
		cfg.Store = resolvePath(base, cfg.Store)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration document.
// Relative paths are left untouched.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and builds the lookup indexes.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	c.byPath = make(map[string]int, len(c.Modules))
	c.byName = make(map[string]int, len(c.Modules))
	for i, m := range c.Modules {
		c.byPath[version.MustNodePath(m.Path).String()] = i
		c.byName[m.Name] = i
	}
	c.nodes = make(map[string]int, len(c.Nodes))
	for i, n := range c.Nodes {
		c.nodes[version.MustNodePath(n.Path).String()] = i
	}
	return nil
}

// Module returns the module at path.
func (c *Config) Module(path version.NodePath) (*Module, bool) {
	i, ok := c.byPath[path.String()]
	if !ok {
		return nil, false
	}
	return &c.Modules[i], true
}

// ModuleByName returns the module declaring the Bazel module name.
func (c *Config) ModuleByName(name string) (*Module, bool) {
	i, ok := c.byName[name]
	if !ok {
		return nil, false
	}
	return &c.Modules[i], true
}

// Property returns the value of key for the node at path, inheriting from
// parent nodes and finally from the defaults.
func (c *Config) Property(path version.NodePath, key string) (string, bool) {
	for p := path; !p.IsRoot(); p = p.Parent() {
		if i, ok := c.byPath[p.String()]; ok {
			if v, ok := c.Modules[i].Properties[key]; ok {
				return v, true
			}
		}
		if i, ok := c.nodes[p.String()]; ok {
			if v, ok := c.Nodes[i].Properties[key]; ok {
				return v, true
			}
		}
	}
	v, ok := c.Properties[key]
	return v, ok
}

// PropertyOr returns the property value or def when it is not set.
func (c *Config) PropertyOr(path version.NodePath, key, def string) string {
	if v, ok := c.Property(path, key); ok {
		return v
	}
	return def
}

// BoolProperty returns the property parsed as a boolean.
func (c *Config) BoolProperty(path version.NodePath, key string, def bool) (bool, error) {
	v, ok := c.Property(path, key)
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("property %s of %s: %w", key, path, err)
	}
	return b, nil
}

// IntProperty returns the property parsed as an integer.
func (c *Config) IntProperty(path version.NodePath, key string, def int) (int, error) {
	v, ok := c.Property(path, key)
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("property %s of %s: %w", key, path, err)
	}
	return n, nil
}

func resolvePath(base, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
