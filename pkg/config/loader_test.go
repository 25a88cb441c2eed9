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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSuite = `
name: sentiment-suite
strategy: experimental
defaults:
  llm:
    model: haiku
  retry:
    max_attempts: 3
    initial_delay: 500ms
    backoff: 2.0
  sink_defs:
    - csv
pack:
  prompts:
    system: "You label rows."
cycles:
  - name: baseline
    metadata:
      is_baseline: true
    prompts:
      user: "Label: {{ .text }}"
  - name: variant
    prompts:
      user: "Label carefully: {{ .text }}"
    sink_defs:
      - name: jsonl
        options:
          path: out.jsonl
`

func writeSuite(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadSuite(t *testing.T) {
	suite, err := LoadSuite(writeSuite(t, sampleSuite))
	require.NoError(t, err)

	assert.Equal(t, "sentiment-suite", suite.Name)
	assert.Equal(t, "experimental", suite.Strategy)
	require.Len(t, suite.Cycles, 2)
	assert.Equal(t, "baseline", suite.Cycles[0].Name)
}

func TestLoadSuiteErrors(t *testing.T) {
	_, err := ParseSuite([]byte("name: x\ncycles: []\n"))
	assert.Error(t, err)

	_, err = ParseSuite([]byte("cycles:\n  - name: a\n"))
	assert.Error(t, err)

	_, err = ParseSuite([]byte("name: x\nstrategy: bogus\ncycles:\n  - name: a\n"))
	assert.Error(t, err)

	_, err = ParseSuite([]byte("name: x\ncycles:\n  - name: a\n  - name: a\n"))
	assert.Error(t, err)
}

func TestLoadSuiteDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "suite.yaml"), []byte(`
name: dir-suite
strategy: standard
defaults:
  retry:
    max_attempts: 2
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10-baseline.yaml"), []byte(`
prompts:
  system: "s"
  user: "u"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20-variant.yaml"), []byte(`
name: variant
prompts:
  system: "s"
  user: "u2"
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	suite, err := LoadSuite(dir)
	require.NoError(t, err)
	assert.Equal(t, "dir-suite", suite.Name)
	require.Len(t, suite.Cycles, 2)
	assert.Equal(t, "10-baseline", suite.Cycles[0].Name, "name defaults to the file base name")
	assert.Equal(t, "variant", suite.Cycles[1].Name)
}

func TestLoadSuiteDirectoryRequiresEnvelope(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("name: a\n"), 0o644))

	_, err := LoadSuite(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suite.yaml")
}

func TestDisabledCyclesAreDropped(t *testing.T) {
	suite, err := ParseSuite([]byte(`
name: x
cycles:
  - name: on
    prompts: {system: s, user: u}
  - name: off
    enabled: false
    prompts: {system: s, user: u}
`))
	require.NoError(t, err)
	require.Len(t, suite.Cycles, 1)
	assert.Equal(t, "on", suite.Cycles[0].Name)

	_, err = ParseSuite([]byte("name: x\ncycles:\n  - name: a\n    enabled: false\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no enabled cycles")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("WEFT_MODEL", "sonnet")

	assert.Equal(t, "model: sonnet", ExpandEnv("model: ${WEFT_MODEL}"))
	assert.Equal(t, "key: fallback", ExpandEnv("key: ${WEFT_UNSET_VAR:-fallback}"))
	assert.Equal(t, "key: ", ExpandEnv("key: ${WEFT_UNSET_VAR}"))
	assert.Equal(t, "model: sonnet", ExpandEnv("model: ${WEFT_MODEL:-ignored}"))
}

func TestEffectiveCycle(t *testing.T) {
	suite, err := ParseSuite([]byte(sampleSuite))
	require.NoError(t, err)

	cfg, merger, err := EffectiveCycle(suite, suite.Cycles[1], nil, nil)
	require.NoError(t, err)

	// Pack prompt survives, cycle user prompt overlays via deep merge.
	assert.Equal(t, "You label rows.", cfg.Prompts.System)
	assert.Equal(t, "Label carefully: {{ .text }}", cfg.Prompts.User)

	// Sink defs accumulate: defaults contribute csv, cycle appends jsonl.
	require.Len(t, cfg.SinkDefs, 2)
	assert.Equal(t, "csv", cfg.SinkDefs[0].Name)
	assert.Equal(t, "jsonl", cfg.SinkDefs[1].Name)
	assert.Equal(t, "out.jsonl", cfg.SinkDefs[1].Options["path"])

	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.Backoff)

	exp, ok := merger.Explain("sink_defs")
	require.True(t, ok)
	assert.Equal(t, StrategyAppend, exp.Strategy)
}

func TestEffectiveCycleProfileLayer(t *testing.T) {
	suite, err := ParseSuite([]byte(sampleSuite))
	require.NoError(t, err)

	profile := map[string]interface{}{
		"llm":     map[string]interface{}{"model": "opus"},
		"prompts": map[string]interface{}{"system": "Profile system."},
	}
	cfg, _, err := EffectiveCycle(suite, suite.Cycles[0], nil, profile)
	require.NoError(t, err)

	// Suite defaults outrank the profile; the profile outranks the pack.
	assert.Equal(t, "haiku", cfg.LLM["model"])
	assert.Equal(t, "Profile system.", cfg.Prompts.System)
}

func TestEffectiveCycleMetadata(t *testing.T) {
	suite, err := ParseSuite([]byte(sampleSuite))
	require.NoError(t, err)

	cfg, _, err := EffectiveCycle(suite, suite.Cycles[0], nil, nil)
	require.NoError(t, err)
	assert.Equal(t, true, cfg.Metadata["is_baseline"])
}

func TestFlatPromptKeysWin(t *testing.T) {
	cfg, err := CycleFromMap("x", map[string]interface{}{
		"prompt_system":   "flat system",
		"prompt_template": "flat user",
		"prompts": map[string]interface{}{
			"system": "nested system",
			"user":   "nested user",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "flat system", cfg.Prompts.System)
	assert.Equal(t, "flat user", cfg.Prompts.User)
}

func TestCycleFromMapRejectsBadDefs(t *testing.T) {
	_, err := CycleFromMap("x", map[string]interface{}{
		"prompts": map[string]interface{}{
			"system": "s",
			"user":   "u",
		},
		"sink_defs": []interface{}{
			map[string]interface{}{"options": map[string]interface{}{}},
		},
	})
	assert.Error(t, err)
}

func TestValidateRejectsDuplicateCriteria(t *testing.T) {
	cfg, err := CycleFromMap("x", map[string]interface{}{
		"prompts": map[string]interface{}{
			"system": "s",
			"criteria": []interface{}{
				map[string]interface{}{"name": "tone", "template": "a"},
				map[string]interface{}{"name": "tone", "template": "b"},
			},
		},
	})
	require.NoError(t, err)

	verr := cfg.Validate()
	require.Error(t, verr)
	var typed *ValidationError
	require.ErrorAs(t, verr, &typed)
	assert.Equal(t, "x", typed.Cycle)
	assert.Contains(t, typed.Reason, "duplicate criterion")
}
