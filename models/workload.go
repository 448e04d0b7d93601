package models

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"
)

// ListOptions narrows what the list records endpoint returns
type ListOptions struct {
	View            string   `json:"view,omitempty" yaml:"view"`
	Fields          []string `json:"fields,omitempty" yaml:"fields"`
	FilterByFormula string   `json:"filter_by_formula,omitempty" yaml:"filter_by_formula"`
}

// Export pairs a table with the directory its CSV files land in
type Export struct {
	Name        string `json:"name" yaml:"name"`
	TableID     string `json:"table_id" yaml:"table_id" validate:"required"`
	OutputPath  string `json:"output_path" yaml:"output_path" validate:"required"`
	ListOptions `yaml:",inline"`
}

// Label returns the export name, falling back to the table ID
func (e Export) Label() string {
	if e.Name != "" {
		return e.Name
	}
	return e.TableID
}

// Workload represents the configuration loaded from a workload file
type Workload struct {
	Workers int      `json:"workers" yaml:"workers"`
	Exports []Export `json:"exports" yaml:"exports"`
}

// LoadWorkloadConfig reads and parses a workload file.
// Files ending in .yaml or .yml are parsed as YAML, everything else as JSON.
func LoadWorkloadConfig(filePath string) (*Workload, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var workload Workload
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &workload); err != nil {
			return nil, fmt.Errorf("error parsing workload %s: %w", filePath, err)
		}
	default:
		if err := json.Unmarshal(data, &workload); err != nil {
			return nil, fmt.Errorf("error parsing workload %s: %w", filePath, err)
		}
	}

	return &workload, nil
}
