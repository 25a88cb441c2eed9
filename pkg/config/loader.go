// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} references in suite files.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references. An unset
// variable with no default expands to the empty string.
func ExpandEnv(text string) string {
	return envPattern.ReplaceAllStringFunc(text, func(match string) string {
		groups := envPattern.FindStringSubmatch(match)
		if value, ok := os.LookupEnv(groups[1]); ok {
			return value
		}
		return groups[2]
	})
}

// LoadSuite reads and parses a suite, expanding environment references
// before YAML decoding so defaults may carry secrets by reference. The path
// may be a single suite file or a directory (see LoadSuiteDir).
func LoadSuite(path string) (*SuiteConfig, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite: %w", err)
	}
	if info.IsDir() {
		return LoadSuiteDir(path)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite file: %w", err)
	}
	return ParseSuite(raw)
}

// LoadSuiteDir loads a directory-form suite: a suite.yaml (or suite.yml)
// envelope holding name, strategy, defaults and pack, plus one YAML file per
// cycle. Cycle files are appended in filename order; a file's cycle name
// defaults to its base name.
func LoadSuiteDir(dir string) (*SuiteConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read suite directory: %w", err)
	}

	var envelope []byte
	var cycleFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		if name == "suite.yaml" || name == "suite.yml" {
			envelope, err = os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return nil, fmt.Errorf("failed to read suite envelope: %w", err)
			}
			continue
		}
		cycleFiles = append(cycleFiles, name)
	}
	if envelope == nil {
		return nil, fmt.Errorf("suite directory %q has no suite.yaml", dir)
	}
	sort.Strings(cycleFiles)

	var suite SuiteConfig
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(envelope))), &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite envelope: %w", err)
	}

	for _, name := range cycleFiles {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read cycle file %q: %w", name, err)
		}
		var spec CycleSpec
		if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), &spec); err != nil {
			return nil, fmt.Errorf("failed to parse cycle file %q: %w", name, err)
		}
		if spec.Name == "" {
			spec.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		suite.Cycles = append(suite.Cycles, spec)
	}

	if err := validateSuite(&suite); err != nil {
		return nil, err
	}
	return &suite, nil
}

// ParseSuite parses suite YAML already held in memory.
func ParseSuite(raw []byte) (*SuiteConfig, error) {
	expanded := ExpandEnv(string(raw))

	var suite SuiteConfig
	if err := yaml.Unmarshal([]byte(expanded), &suite); err != nil {
		return nil, fmt.Errorf("failed to parse suite file: %w", err)
	}
	if err := validateSuite(&suite); err != nil {
		return nil, err
	}
	return &suite, nil
}

// validateSuite normalizes the strategy, drops disabled cycles and enforces
// suite-level invariants.
func validateSuite(suite *SuiteConfig) error {
	if suite.Name == "" {
		return fmt.Errorf("suite has no name")
	}
	if len(suite.Cycles) == 0 {
		return fmt.Errorf("suite %q declares no cycles", suite.Name)
	}
	if suite.Strategy == "" {
		suite.Strategy = "standard"
	}
	switch suite.Strategy {
	case "standard", "experimental":
	default:
		return fmt.Errorf("suite %q: unknown strategy %q", suite.Name, suite.Strategy)
	}

	// A cycle declaring enabled: false is dropped before name checks so a
	// disabled duplicate never blocks the run.
	enabled := suite.Cycles[:0]
	for _, cycle := range suite.Cycles {
		if flag, ok := cycle.Data["enabled"].(bool); ok && !flag {
			continue
		}
		enabled = append(enabled, cycle)
	}
	suite.Cycles = enabled
	if len(suite.Cycles) == 0 {
		return fmt.Errorf("suite %q has no enabled cycles", suite.Name)
	}

	seen := make(map[string]bool, len(suite.Cycles))
	for i, cycle := range suite.Cycles {
		if cycle.Name == "" {
			return fmt.Errorf("suite %q: cycle %d has no name", suite.Name, i)
		}
		if seen[cycle.Name] {
			return fmt.Errorf("suite %q: duplicate cycle %q", suite.Name, cycle.Name)
		}
		seen[cycle.Name] = true
	}
	return nil
}

// LoadProfile reads a user-level profile overlay: a YAML mapping merged
// between the prompt pack and the suite defaults.
func LoadProfile(path string) (map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile: %w", err)
	}
	var profile map[string]interface{}
	if err := yaml.Unmarshal([]byte(ExpandEnv(string(raw))), &profile); err != nil {
		return nil, fmt.Errorf("failed to parse profile %q: %w", path, err)
	}
	return profile, nil
}

// EffectiveCycle merges the layered sources for one cycle and materializes
// its CycleConfig. Layer order, lowest precedence first: system defaults,
// prompt pack, profile, suite defaults, cycle body.
func EffectiveCycle(suite *SuiteConfig, spec CycleSpec, systemDefaults, profile map[string]interface{}) (*CycleConfig, *Merger, error) {
	merger := NewMerger()
	merged := merger.Merge(
		Source{Name: "system", Precedence: 1, Data: systemDefaults},
		Source{Name: "pack", Precedence: 2, Data: suite.Pack},
		Source{Name: "profile", Precedence: 3, Data: profile},
		Source{Name: "defaults", Precedence: 4, Data: suite.Defaults},
		Source{Name: "cycle", Precedence: 5, Data: spec.Data},
	)

	cfg, err := CycleFromMap(spec.Name, merged)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, merger, nil
}
