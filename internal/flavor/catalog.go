// Package flavor loads the flavor detection catalog and classifies hosts by
// running its probe commands.
package flavor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnknownKey is the reserved flavor key returned when nothing matches.
const UnknownKey = "unknown"

// DefaultTimeout is the probe timeout, in seconds, for rules that set none.
const DefaultTimeout = 15

// MatchType selects how required patterns are compared with output.
type MatchType string

const (
	Contains MatchType = "contains"
	Regex    MatchType = "regex"
	Exact    MatchType = "exact"
)

// Rule is one probe: a command and the patterns its output must contain.
type Rule struct {
	Command          string    `yaml:"command" json:"command"`
	UseSudo          bool      `yaml:"use_sudo" json:"use_sudo"`
	RequiredPatterns []string  `yaml:"required_patterns" json:"required_patterns"`
	MatchType        MatchType `yaml:"pattern_match_type" json:"pattern_match_type"`
	CaseSensitive    bool      `yaml:"case_sensitive" json:"case_sensitive"`
	Timeout          int       `yaml:"timeout" json:"timeout"`
	Priority         int       `yaml:"priority" json:"priority"`
	Description      string    `yaml:"description,omitempty" json:"description,omitempty"`

	// Set while flattening.
	FlavorKey  string `yaml:"-" json:"flavor_key"`
	FlavorName string `yaml:"-" json:"flavor_name"`
	Fallback   bool   `yaml:"-" json:"fallback"`
}

// Flavor is one entry of the catalog source.
type Flavor struct {
	Name             string `yaml:"name"`
	Icon             string `yaml:"icon"`
	Description      string `yaml:"description"`
	DetectionRules   []Rule `yaml:"detection_rules"`
	FallbackCommands []Rule `yaml:"fallback_commands"`
}

// Catalog is the immutable, priority-ordered rule set.
type Catalog struct {
	Path    string
	rules   []Rule
	flavors map[string]Flavor
	keys    []string
}

// ConfigError reports a catalog that could not be read or parsed.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("flavor catalog: %v", e.Err)
	}
	return fmt.Sprintf("flavor catalog %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Empty returns a catalog without rules. Classifying with it always
// yields Unknown.
func Empty() *Catalog {
	return &Catalog{flavors: map[string]Flavor{}}
}

// LoadFile reads a catalog from a JSON or YAML file.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Path: path, Err: err}
	}

	c, err := Parse(data)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
			return nil, ce
		}
		return nil, &ConfigError{Path: path, Err: err}
	}

	c.Path = path
	return c, nil
}

// Parse builds a catalog from JSON or YAML. The document is either
// {server_flavors: {key: flavor}} or the bare key-to-flavor mapping.
// Flavors are flattened in document order, detection rules before
// fallback commands, then stably sorted by descending priority.
func Parse(data []byte) (*Catalog, error) {
	data = reindentJSON(data)

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("invalid catalog format: %w", err)}
	}
	if doc.Kind == 0 {
		return Empty(), nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, &ConfigError{Err: errors.New("catalog must be a mapping")}
	}

	root := doc.Content[0]
	if v := mappingValue(root, "server_flavors"); v != nil {
		root = v
	}
	if root.Kind != yaml.MappingNode {
		return nil, &ConfigError{Err: errors.New("server_flavors must be a mapping")}
	}

	c := Empty()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var f Flavor
		if err := root.Content[i+1].Decode(&f); err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("flavor %q: %w", key, err)}
		}
		if f.Name == "" {
			f.Name = key
		}
		if _, dup := c.flavors[key]; !dup {
			c.keys = append(c.keys, key)
		}
		c.flavors[key] = f

		if key == UnknownKey {
			continue
		}

		add := func(rules []Rule, fallback bool) error {
			for j, r := range rules {
				r, err := normalize(r)
				if err != nil {
					return &ConfigError{Err: fmt.Errorf("flavor %q rule %d: %w", key, j+1, err)}
				}
				r.FlavorKey = key
				r.FlavorName = f.Name
				r.Fallback = fallback
				c.rules = append(c.rules, r)
			}
			return nil
		}
		if err := add(f.DetectionRules, false); err != nil {
			return nil, err
		}
		if err := add(f.FallbackCommands, true); err != nil {
			return nil, err
		}
	}

	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})

	return c, nil
}

// NewCatalog builds a catalog directly from rules, keeping the given order
// for equal priorities.
func NewCatalog(rules []Rule) (*Catalog, error) {
	c := Empty()
	for i, r := range rules {
		if r.FlavorKey == UnknownKey {
			continue
		}
		r, err := normalize(r)
		if err != nil {
			return nil, &ConfigError{Err: fmt.Errorf("rule %d: %w", i+1, err)}
		}
		if r.FlavorName == "" {
			r.FlavorName = r.FlavorKey
		}
		if _, ok := c.flavors[r.FlavorKey]; !ok {
			c.flavors[r.FlavorKey] = Flavor{Name: r.FlavorName}
			c.keys = append(c.keys, r.FlavorKey)
		}
		c.rules = append(c.rules, r)
	}
	sort.SliceStable(c.rules, func(i, j int) bool {
		return c.rules[i].Priority > c.rules[j].Priority
	})
	return c, nil
}

func normalize(r Rule) (Rule, error) {
	r.Command = strings.TrimSpace(r.Command)
	if r.Command == "" {
		return r, errors.New("command is required")
	}
	if r.MatchType == "" {
		r.MatchType = Contains
	}
	r.MatchType = MatchType(strings.ToLower(string(r.MatchType)))
	switch r.MatchType {
	case Contains, Regex, Exact:
	default:
		return r, fmt.Errorf("unknown pattern_match_type %q", r.MatchType)
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultTimeout
	}
	return r, nil
}

// reindentJSON rewrites JSON input with space indentation, since YAML
// rejects tab-indented documents. Anything else is returned unchanged.
func reindentJSON(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return data
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return data
	}
	return buf.Bytes()
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// Rules returns the rules in evaluation order.
func (c *Catalog) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Len returns the number of rules.
func (c *Catalog) Len() int {
	return len(c.rules)
}

// Flavor returns the flavor defined under key.
func (c *Catalog) Flavor(key string) (Flavor, bool) {
	f, ok := c.flavors[key]
	return f, ok
}

// Keys returns flavor keys in document order, including "unknown" if defined.
func (c *Catalog) Keys() []string {
	return append([]string(nil), c.keys...)
}

// UnknownName is the display name for unclassified hosts.
func (c *Catalog) UnknownName() string {
	if f, ok := c.flavors[UnknownKey]; ok && f.Name != "" {
		return f.Name
	}
	return "Unknown"
}
