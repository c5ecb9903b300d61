package scenario

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the on-disk shape of a scenario file. A file holds either a list of
// scenarios with optional shared setup fixtures, or a single bare scenario.
type File struct {
	Fixtures  map[string][]Step `yaml:"fixtures,omitempty"`
	Scenarios []Scenario        `yaml:"scenarios,omitempty"`
}

// Parse decodes scenario YAML, resolves setup fixtures (file-local first, then
// fixtures) and validates every scenario.
func Parse(data []byte, fixtures map[string][]Step) ([]Scenario, error) {
	var shape map[string]any
	if err := yaml.Unmarshal(data, &shape); err != nil {
		return nil, fmt.Errorf("parse scenario file: %w", err)
	}
	var file File
	_, hasList := shape["scenarios"]
	_, hasFixtures := shape["fixtures"]
	if hasList || hasFixtures {
		if err := decodeStrict(data, &file); err != nil {
			return nil, fmt.Errorf("parse scenario file: %w", err)
		}
	} else {
		var single Scenario
		if err := decodeStrict(data, &single); err != nil {
			return nil, fmt.Errorf("parse scenario file: %w", err)
		}
		file = File{Scenarios: []Scenario{single}}
	}
	if len(file.Scenarios) == 0 {
		return nil, errors.New("scenario file declares no scenarios")
	}

	merged := make(map[string][]Step, len(fixtures)+len(file.Fixtures))
	for name, steps := range fixtures {
		merged[name] = steps
	}
	for name, steps := range file.Fixtures {
		for i, step := range steps {
			if err := step.Validate(); err != nil {
				return nil, fmt.Errorf("fixture %q step %d: %w", name, i, err)
			}
		}
		merged[name] = steps
	}

	seen := make(map[string]bool, len(file.Scenarios))
	out := make([]Scenario, 0, len(file.Scenarios))
	for _, sc := range file.Scenarios {
		if seen[sc.Name] {
			return nil, fmt.Errorf("duplicate scenario name %q", sc.Name)
		}
		seen[sc.Name] = true
		resolved, err := sc.Resolve(merged)
		if err != nil {
			return nil, err
		}
		if err := resolved.Validate(); err != nil {
			return nil, err
		}
		out = append(out, resolved)
	}
	return out, nil
}

func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty document")
		}
		return err
	}
	return nil
}

// LoadFile reads and parses one scenario file.
func LoadFile(path string, fixtures map[string][]Step) ([]Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}
	scenarios, err := Parse(data, fixtures)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return scenarios, nil
}

// LoadDir parses every *.yaml and *.yml file in dir, sorted by file name.
func LoadDir(dir string, fixtures map[string][]Step) ([]Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	var all []Scenario
	seen := make(map[string]string)
	for _, name := range names {
		path := filepath.Join(dir, name)
		scenarios, err := LoadFile(path, fixtures)
		if err != nil {
			return nil, err
		}
		for _, sc := range scenarios {
			if prev, ok := seen[sc.Name]; ok {
				return nil, fmt.Errorf("scenario %q defined in both %s and %s", sc.Name, prev, path)
			}
			seen[sc.Name] = path
		}
		all = append(all, scenarios...)
	}
	return all, nil
}

// Marshal renders scenarios in the file format accepted by Parse.
func Marshal(scenarios []Scenario) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(File{Scenarios: scenarios}); err != nil {
		return nil, fmt.Errorf("encode scenarios: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode scenarios: %w", err)
	}
	return buf.Bytes(), nil
}
