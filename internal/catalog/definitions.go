package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// noExample is the placeholder some catalog files use for a missing example input.
const noExample = "None"

// Category is one group of canned responses as stored in the catalog file.
type Category struct {
	Responses    []string `yaml:"responses" json:"responses"`
	ExampleInput string   `yaml:"example_input,omitempty" json:"example_input,omitempty"`
}

// HasExample reports whether the category carries a usable example input.
func (c Category) HasExample() bool {
	return c.ExampleInput != "" && c.ExampleInput != noExample
}

// Definitions maps category name to its responses.
type Definitions map[string]Category

// Names returns the category names in sorted order.
func (d Definitions) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of d.
func (d Definitions) Clone() Definitions {
	out := make(Definitions, len(d))
	for name, c := range d {
		out[name] = Category{
			Responses:    append([]string(nil), c.Responses...),
			ExampleInput: c.ExampleInput,
		}
	}
	return out
}

func isJSON(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

// LoadDefinitions reads a catalog file. Files ending in .json are parsed as
// JSON; anything else as YAML.
func LoadDefinitions(path string) (Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	defs := Definitions{}
	if isJSON(path) {
		err = json.Unmarshal(data, &defs)
	} else {
		err = yaml.Unmarshal(data, &defs)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}
	return defs, nil
}

// SaveDefinitions writes defs to path, replacing it atomically.
func SaveDefinitions(path string, defs Definitions) error {
	var (
		data []byte
		err  error
	)
	if isJSON(path) {
		data, err = json.MarshalIndent(defs, "", "  ")
	} else {
		data, err = yaml.Marshal(defs)
	}
	if err != nil {
		return fmt.Errorf("encoding catalog: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating catalog dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing catalog: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming catalog: %w", err)
	}
	return nil
}
