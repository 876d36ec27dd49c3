package config

import (
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Setting is a single override key/value pair.
type Setting struct {
	Key   string
	Value string
}

// OverrideBlock is a set of settings applied only on machines whose host type is listed in Roles.
// Roles is a "|"-separated list, e.g. "laptop|bootserver".
type OverrideBlock struct {
	Roles    string
	Settings []Setting
}

// Matches reports whether hostType appears in the block's role list.
func (b OverrideBlock) Matches(hostType string) bool {
	for _, role := range strings.Split(b.Roles, "|") {
		if strings.TrimSpace(role) == hostType {
			return true
		}
	}
	return false
}

// LoadOverrides reads and parses the override document at path.
func LoadOverrides(fs afero.Fs, path string) ([]OverrideBlock, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("config: read overrides: %w", err)
	}
	return ParseOverrides(data)
}

// ParseOverrides parses a YAML document of the form
//
//	devices:
//	  - roles: "laptop|bootserver"
//	    settings:
//	      max_records: "50"
//
// Blocks and the settings inside each block keep their document order.
func ParseOverrides(data []byte) ([]OverrideBlock, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse overrides: %w", err)
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("config: overrides line %d: expected a mapping", root.Line)
	}

	var blocks []OverrideBlock
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, val := root.Content[i], root.Content[i+1]
		if key.Value != "devices" {
			return nil, fmt.Errorf("config: overrides line %d: unknown section %q", key.Line, key.Value)
		}
		if val.Kind != yaml.SequenceNode {
			return nil, fmt.Errorf("config: overrides line %d: devices must be a list", val.Line)
		}
		for _, item := range val.Content {
			b, err := parseBlock(item)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, b)
		}
	}
	return blocks, nil
}

func parseBlock(n *yaml.Node) (OverrideBlock, error) {
	var b OverrideBlock
	if n.Kind != yaml.MappingNode {
		return b, fmt.Errorf("config: overrides line %d: device block must be a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "roles":
			if val.Kind != yaml.ScalarNode {
				return b, fmt.Errorf("config: overrides line %d: roles must be a string", val.Line)
			}
			b.Roles = val.Value
		case "settings":
			if val.Kind != yaml.MappingNode {
				return b, fmt.Errorf("config: overrides line %d: settings must be a mapping", val.Line)
			}
			for j := 0; j+1 < len(val.Content); j += 2 {
				k, v := val.Content[j], val.Content[j+1]
				if v.Kind != yaml.ScalarNode {
					return b, fmt.Errorf("config: overrides line %d: value of %q must be a scalar", v.Line, k.Value)
				}
				b.Settings = append(b.Settings, Setting{Key: k.Value, Value: v.Value})
			}
		default:
			return b, fmt.Errorf("config: overrides line %d: unknown device key %q", key.Line, key.Value)
		}
	}
	if strings.TrimSpace(b.Roles) == "" {
		return b, fmt.Errorf("config: overrides line %d: device block has no roles", n.Line)
	}
	return b, nil
}
