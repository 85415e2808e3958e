// Package inventory loads the list of hosts checked by bulk connectivity
// runs.
package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Host is one inventory entry.
type Host struct {
	Name     string `yaml:"name" json:"name"`
	Hostname string `yaml:"hostname" json:"hostname"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	// AdminPassword answers sudo when it differs from Password.
	AdminPassword string `yaml:"admin_password" json:"-"`
	// Flavor is the flavor the operator expects the host to be.
	Flavor string `yaml:"flavor" json:"flavor"`
	// Flavour is the spelling older inventories use.
	Flavour string `yaml:"flavour" json:"-"`
}

// ExpectedFlavor returns the configured flavor, "Unknown" when none is set.
func (h Host) ExpectedFlavor() string {
	switch {
	case h.Flavor != "":
		return h.Flavor
	case h.Flavour != "":
		return h.Flavour
	default:
		return "Unknown"
	}
}

// DisplayName returns Name, falling back to Hostname.
func (h Host) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	return h.Hostname
}

// Validate checks that the host can be dialled.
func (h Host) Validate() error {
	if strings.TrimSpace(h.Hostname) == "" {
		return errors.New("hostname is required")
	}
	if strings.TrimSpace(h.User) == "" {
		return errors.New("user is required")
	}
	return nil
}

// Inventory is an ordered list of hosts.
type Inventory struct {
	Hosts []Host `yaml:"hosts"`

	// Path is the file the inventory was loaded from.
	Path string `yaml:"-"`
}

// Len returns the number of hosts.
func (inv *Inventory) Len() int {
	if inv == nil {
		return 0
	}
	return len(inv.Hosts)
}

// LoadFile reads an inventory from a JSON or YAML file.
func LoadFile(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}

	inv, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory %s: %w", path, err)
	}

	inv.Path = path
	return inv, nil
}

// Parse reads {hosts: [...]} or a bare list of hosts. An inventory without
// hosts is an error.
func Parse(data []byte) (*Inventory, error) {
	data = reindentJSON(data)

	// Try a bare list first
	var hosts []Host
	if err := yaml.Unmarshal(data, &hosts); err == nil && len(hosts) > 0 {
		inv := &Inventory{Hosts: hosts}
		return inv, inv.Validate()
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("invalid inventory format: %w", err)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Validate checks every host.
func (inv *Inventory) Validate() error {
	if len(inv.Hosts) == 0 {
		return errors.New("no hosts found in inventory")
	}
	for i, h := range inv.Hosts {
		if err := h.Validate(); err != nil {
			return fmt.Errorf("host %d (%s): %w", i+1, h.DisplayName(), err)
		}
	}
	return nil
}

// reindentJSON rewrites tab-indented JSON, which YAML rejects, with spaces.
func reindentJSON(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return data
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return data
	}
	return buf.Bytes()
}
