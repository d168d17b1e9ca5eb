package model

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// CommitYAML is the effective per-commit configuration snapshot carried on a
// task. Only the pieces the pipeline consumes are modeled; the full
// validation layer lives upstream.
type CommitYAML struct {
	Flags map[string]FlagConfig `yaml:"flags"`
}

// FlagConfig is the per-flag configuration relevant to merging.
type FlagConfig struct {
	Carryforward bool `yaml:"carryforward"`
}

// ParseCommitYAML decodes a commit YAML snapshot. An empty snapshot is valid
// and yields a zero config.
func ParseCommitYAML(s string) (*CommitYAML, error) {
	var cy CommitYAML
	if err := yaml.Unmarshal([]byte(s), &cy); err != nil {
		return nil, fmt.Errorf("parse commit yaml: %w", err)
	}
	return &cy, nil
}

// CarryforwardFlags returns the sorted names of flags marked carryforward.
func (c *CommitYAML) CarryforwardFlags() []string {
	var flags []string
	for name, fc := range c.Flags {
		if fc.Carryforward {
			flags = append(flags, name)
		}
	}
	sort.Strings(flags)
	return flags
}
