package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// rulesFile is the YAML layout of a routing table.
type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a YAML routing table:
//
//	rules:
//	  - pattern: "*.kg-a.example.com"
//	    tenant_id: kg-a
//	    data_store_ref: postgres://kg-a
//	    provider: primary
func LoadRules(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routing rules: %w", err)
	}
	return ParseRules(raw)
}

// ParseRules decodes a YAML routing table.
func ParseRules(raw []byte) ([]Rule, error) {
	var f rulesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse routing rules: %w", err)
	}
	return f.Rules, nil
}
