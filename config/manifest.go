package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/CoderFake/aichatbot/core"
)

// DomainSpec declares one specialist domain in the manifest.
type DomainSpec struct {
	Domain             string   `yaml:"domain"`
	Description        string   `yaml:"description"`
	Expertise          []string `yaml:"expertise"`
	Capabilities       []string `yaml:"capabilities"`
	AllowedDepartments []string `yaml:"allowed_departments"`
}

// Manifest is the YAML-declared catalog of domains and capability schemas.
// Executable handles are bound in code by name; the manifest only carries
// the contracts. Reloading a manifest re-registers schemas without touching
// in-flight requests.
type Manifest struct {
	Domains      []DomainSpec      `yaml:"domains"`
	Capabilities []core.ToolSchema `yaml:"capabilities"`
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML and validates its internal references.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) validate() error {
	declared := make(map[string]struct{}, len(m.Capabilities))
	for _, c := range m.Capabilities {
		if c.Name == "" {
			return fmt.Errorf("manifest capability with empty name")
		}
		if _, dup := declared[c.Name]; dup {
			return fmt.Errorf("duplicate capability %q in manifest", c.Name)
		}
		declared[c.Name] = struct{}{}
		for _, req := range c.Required {
			if _, ok := c.Properties[req]; !ok {
				return fmt.Errorf("capability %q requires undeclared property %q", c.Name, req)
			}
		}
	}
	for _, d := range m.Domains {
		if d.Domain == "" {
			return fmt.Errorf("manifest domain with empty name")
		}
		for _, capName := range d.Capabilities {
			if _, ok := declared[capName]; !ok {
				return fmt.Errorf("domain %q references undeclared capability %q", d.Domain, capName)
			}
		}
	}
	return nil
}

// Schema returns the declared schema for a capability name.
func (m *Manifest) Schema(name string) (core.ToolSchema, bool) {
	for _, c := range m.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return core.ToolSchema{}, false
}
