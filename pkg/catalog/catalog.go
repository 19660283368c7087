// Package catalog holds the registry of migration rules, loaded from YAML
// and validated at registration.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/David-Botos/lexicon-migrate/pkg/model"
)

//go:embed defaults.yaml
var defaultRules []byte

// File is the on-disk shape of a catalog file
type File struct {
	Rules []model.Rule `yaml:"rules"`
}

// Catalog is a registry of rules keyed by id, preserving registration order
type Catalog struct {
	mu    sync.RWMutex
	rules map[string]model.Rule
	order []string
}

// New creates a catalog from rules, validating each one
func New(rules ...model.Rule) (*Catalog, error) {
	c := &Catalog{rules: make(map[string]model.Rule)}
	for _, r := range rules {
		if err := c.Register(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Default returns the catalog of built-in rules
func Default() (*Catalog, error) {
	c, err := New()
	if err != nil {
		return nil, err
	}
	if err := c.LoadBytes(defaultRules); err != nil {
		return nil, fmt.Errorf("loading default rules: %w", err)
	}
	return c, nil
}

// Load builds a catalog from a YAML file or a directory of YAML files.
// An empty path yields the built-in rules.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog path %s: %w", path, err)
	}

	c, err := New()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		err = c.LoadDir(path)
	} else {
		err = c.LoadFile(path)
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LoadDir loads all YAML rule files from a directory in name order
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading catalog dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		if err := c.LoadFile(path); err != nil {
			return fmt.Errorf("loading rules %s: %w", path, err)
		}
	}
	return nil
}

// LoadFile loads a single YAML rule file
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}
	return c.LoadBytes(data)
}

// LoadBytes parses a YAML document and registers every rule in it
func (c *Catalog) LoadBytes(data []byte) error {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}
	for _, r := range f.Rules {
		if err := c.Register(r); err != nil {
			return err
		}
	}
	return nil
}

// Register validates a rule and adds it to the catalog
func (c *Catalog) Register(r model.Rule) error {
	if err := Validate(r); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.rules[r.ID]; exists {
		return &model.ConfigurationError{RuleID: r.ID, Field: "id", Message: "duplicate rule id"}
	}
	c.rules[r.ID] = r
	c.order = append(c.order, r.ID)
	return nil
}

// Get returns a rule by id
func (c *Catalog) Get(id string) (model.Rule, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	r, ok := c.rules[id]
	if !ok {
		return model.Rule{}, fmt.Errorf("%w: %q", model.ErrRuleNotFound, id)
	}
	return r, nil
}

// Len returns the number of registered rules
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// List returns all rules in registration order
func (c *Catalog) List() []model.Rule {
	return c.filter(func(model.Rule) bool { return true })
}

// ByCategory returns the rules of one category
func (c *Catalog) ByCategory(cat model.Category) []model.Rule {
	return c.filter(func(r model.Rule) bool { return r.Category == cat })
}

// ByPriority returns the rules of one priority
func (c *Catalog) ByPriority(p model.Priority) []model.Rule {
	return c.filter(func(r model.Rule) bool { return r.Priority == p })
}

// AutoExecutable returns the rules flagged safe to run unattended
func (c *Catalog) AutoExecutable() []model.Rule {
	return c.filter(func(r model.Rule) bool { return r.AutoExecutable })
}

// RequiringManualInput returns the rules that need caller input before execution
func (c *Catalog) RequiringManualInput() []model.Rule {
	return c.filter(func(r model.Rule) bool { return r.RequiresManualInput })
}

// Categories returns the distinct categories in the catalog, sorted
func (c *Catalog) Categories() []model.Category {
	seen := make(map[model.Category]struct{})
	for _, r := range c.List() {
		seen[r.Category] = struct{}{}
	}
	out := make([]model.Category, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c *Catalog) filter(keep func(model.Rule) bool) []model.Rule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Rule, 0, len(c.order))
	for _, id := range c.order {
		if r := c.rules[id]; keep(r) {
			out = append(out, r)
		}
	}
	return out
}
