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
	"time"

	"github.com/teradata-labs/weft/pkg/security"
)

// PluginDef names a plugin and carries its option block. Shorthand string
// entries in configuration normalize to a def with empty options.
type PluginDef struct {
	Name    string                 `yaml:"name"`
	Options map[string]interface{} `yaml:"options"`
}

// CriterionDef is one named prompt variant evaluated per row.
type CriterionDef struct {
	Name     string `yaml:"name"`
	Template string `yaml:"template"`
}

// RetryConfig controls the executor retry loop.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	Backoff      float64       `yaml:"backoff"`
}

// DefaultRetryConfig returns single-attempt execution (no retries).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

// ConcurrencyConfig controls the cycle runner's execution mode.
type ConcurrencyConfig struct {
	Mode             string        `yaml:"mode"`
	MaxWorkers       int           `yaml:"max_workers"`
	BacklogThreshold int           `yaml:"backlog_threshold"`
	UtilizationPause float64       `yaml:"utilization_pause"`
	PauseInterval    time.Duration `yaml:"pause_interval"`
}

// DefaultConcurrencyConfig returns sequential execution with the standard
// backpressure knobs for when parallel mode is enabled.
func DefaultConcurrencyConfig() ConcurrencyConfig {
	return ConcurrencyConfig{
		Mode:             "sequential",
		MaxWorkers:       4,
		BacklogThreshold: 50,
		UtilizationPause: 0.8,
		PauseInterval:    500 * time.Millisecond,
	}
}

// CheckpointConfig enables resumable runs. Path is the plain-text marker
// file; Field names the row field used as the stable row identifier.
type CheckpointConfig struct {
	Path  string `yaml:"path"`
	Field string `yaml:"field"`
}

// Enabled reports whether checkpointing is configured.
func (c CheckpointConfig) Enabled() bool {
	return c.Path != "" && c.Field != ""
}

// PromptsConfig holds the cycle's template set.
type PromptsConfig struct {
	System   string                 `yaml:"system"`
	User     string                 `yaml:"user"`
	Fields   []string               `yaml:"fields"`
	Criteria []CriterionDef         `yaml:"criteria"`
	Defaults map[string]interface{} `yaml:"defaults"`
	// Aliases is parsed and preserved but not consumed by rendering.
	Aliases map[string]string `yaml:"aliases"`
}

// CycleConfig is the effective configuration of one cycle after merging.
type CycleConfig struct {
	Name     string
	Metadata map[string]interface{}

	Prompts PromptsConfig

	LLM        map[string]interface{}
	Datasource *PluginDef

	TransformDefs   []PluginDef
	AggregationDefs []PluginDef
	SinkDefs        []PluginDef
	MiddlewareDefs  []PluginDef
	HaltDefs        []PluginDef
	ComparisonDefs  []PluginDef

	RateLimiter *PluginDef
	CostTracker *PluginDef

	Retry       RetryConfig
	Concurrency ConcurrencyConfig
	Checkpoint  CheckpointConfig

	// EarlyStop is the shorthand threshold block used when no explicit halt
	// plugin list is declared.
	EarlyStop map[string]interface{}

	SecurityLevel string
}

// CycleSpec is a raw, pre-merge cycle entry from a suite file.
type CycleSpec struct {
	Name string                 `yaml:"name"`
	Data map[string]interface{} `yaml:",inline"`
}

// SuiteConfig is a parsed suite file before per-cycle merging.
type SuiteConfig struct {
	Name     string                 `yaml:"name"`
	Strategy string                 `yaml:"strategy"`
	Defaults map[string]interface{} `yaml:"defaults"`
	Pack     map[string]interface{} `yaml:"pack"`
	Cycles   []CycleSpec            `yaml:"cycles"`
}

// CycleFromMap materializes an effective CycleConfig from a merged map.
// Configuration errors are fatal and surfaced before any row is processed.
func CycleFromMap(name string, merged map[string]interface{}) (*CycleConfig, error) {
	cfg := &CycleConfig{
		Name:        name,
		Retry:       DefaultRetryConfig(),
		Concurrency: DefaultConcurrencyConfig(),
	}

	if meta, ok := merged["metadata"].(map[string]interface{}); ok {
		cfg.Metadata = meta
	}
	if llm, ok := merged["llm"].(map[string]interface{}); ok {
		cfg.LLM = llm
	}

	if err := parsePrompts(merged, &cfg.Prompts); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	// Flat prompt_system / prompt_template keys beat the prompts block.
	if v := stringOpt(merged, "prompt_system"); v != "" {
		cfg.Prompts.System = v
	}
	if v := stringOpt(merged, "prompt_template"); v != "" {
		cfg.Prompts.User = v
	}

	var err error
	if cfg.TransformDefs, err = pluginDefs(merged, "transform_plugin_defs", "row_plugins"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.AggregationDefs, err = pluginDefs(merged, "aggregation_transform_defs", "aggregator_plugins"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.SinkDefs, err = pluginDefs(merged, "sink_defs", "sinks"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.MiddlewareDefs, err = pluginDefs(merged, "llm_middleware_defs", "llm_middlewares"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.HaltDefs, err = pluginDefs(merged, "halt_condition_plugin_defs", "early_stop_plugins"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.ComparisonDefs, err = pluginDefs(merged, "baseline_plugin_defs", "baseline_plugins"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}

	if cfg.RateLimiter, err = singleDef(merged, "rate_limiter"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.CostTracker, err = singleDef(merged, "cost_tracker"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cfg.Datasource, err = singleDef(merged, "datasource"); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}

	if err := parseRetry(merged, &cfg.Retry); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if err := parseConcurrency(merged, &cfg.Concurrency); err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	if cp, ok := merged["checkpoint"].(map[string]interface{}); ok {
		cfg.Checkpoint.Path = stringOpt(cp, "path")
		cfg.Checkpoint.Field = stringOpt(cp, "field")
	}
	if es, ok := merged["early_stop"].(map[string]interface{}); ok {
		cfg.EarlyStop = es
	}

	level, err := security.Normalize(stringOpt(merged, "security_level"))
	if err != nil {
		return nil, fmt.Errorf("cycle %q: %w", name, err)
	}
	cfg.SecurityLevel = level

	return cfg, nil
}

// ValidationError reports an effective cycle configuration that violates an
// invariant the runner relies on.
type ValidationError struct {
	Cycle  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cycle %q: %s", e.Cycle, e.Reason)
}

func (c *CycleConfig) invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Cycle: c.Name, Reason: fmt.Sprintf(format, args...)}
}

// Validate enforces the invariants a runner relies on. It is called once per
// cycle before any collaborators are built.
func (c *CycleConfig) Validate() error {
	if c.Prompts.System == "" {
		return c.invalid("missing required system prompt")
	}
	if c.Prompts.User == "" && len(c.Prompts.Criteria) == 0 {
		return c.invalid("missing required user prompt")
	}
	seen := make(map[string]bool, len(c.Prompts.Criteria))
	for _, crit := range c.Prompts.Criteria {
		if crit.Name == "" {
			return c.invalid("criterion with empty name")
		}
		if crit.Template == "" {
			return c.invalid("criterion %q has no template", crit.Name)
		}
		if seen[crit.Name] {
			return c.invalid("duplicate criterion %q", crit.Name)
		}
		seen[crit.Name] = true
	}
	if c.Retry.MaxAttempts < 1 {
		return c.invalid("retry max_attempts must be >= 1")
	}
	switch c.Concurrency.Mode {
	case "sequential", "parallel":
	default:
		return c.invalid("unknown concurrency mode %q", c.Concurrency.Mode)
	}
	if c.Concurrency.Mode == "parallel" && c.Concurrency.MaxWorkers < 1 {
		return c.invalid("parallel mode requires max_workers >= 1")
	}
	return nil
}

func parsePrompts(merged map[string]interface{}, out *PromptsConfig) error {
	block, ok := merged["prompts"].(map[string]interface{})
	if !ok {
		if _, present := merged["prompts"]; present {
			return fmt.Errorf("prompts block must be a mapping")
		}
		return nil
	}
	out.System = stringOpt(block, "system")
	out.User = stringOpt(block, "user")
	out.Fields = stringList(block["fields"])
	if defaults, ok := block["defaults"].(map[string]interface{}); ok {
		out.Defaults = defaults
	}
	if aliases, ok := block["aliases"].(map[string]interface{}); ok {
		out.Aliases = make(map[string]string, len(aliases))
		for k, v := range aliases {
			if s, ok := v.(string); ok {
				out.Aliases[k] = s
			}
		}
	}
	raw, present := block["criteria"]
	if !present {
		return nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("prompts.criteria must be a list")
	}
	for i, item := range items {
		entry, ok := item.(map[string]interface{})
		if !ok {
			return fmt.Errorf("prompts.criteria[%d] must be a mapping", i)
		}
		out.Criteria = append(out.Criteria, CriterionDef{
			Name:     stringOpt(entry, "name"),
			Template: stringOpt(entry, "template"),
		})
	}
	return nil
}

// ParsePluginDefs gathers plugin defs from one raw configuration layer. The
// orchestrator uses it where layer identity matters (sink and comparison
// resolution), bypassing the merged view.
func ParsePluginDefs(data map[string]interface{}, keys ...string) ([]PluginDef, error) {
	if data == nil {
		return nil, nil
	}
	return pluginDefs(data, keys...)
}

// pluginDefs gathers defs from the normalized key and the shorthand key, in
// that order. Entries may be plain names or {name, options} mappings.
func pluginDefs(merged map[string]interface{}, keys ...string) ([]PluginDef, error) {
	var defs []PluginDef
	for _, key := range keys {
		raw, present := merged[key]
		if !present {
			continue
		}
		items, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%s must be a list", key)
		}
		for i, item := range items {
			def, err := toPluginDef(item)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", key, i, err)
			}
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func singleDef(merged map[string]interface{}, key string) (*PluginDef, error) {
	raw, present := merged[key]
	if !present || raw == nil {
		return nil, nil
	}
	def, err := toPluginDef(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &def, nil
}

func toPluginDef(item interface{}) (PluginDef, error) {
	switch v := item.(type) {
	case string:
		return PluginDef{Name: v}, nil
	case map[string]interface{}:
		name := stringOpt(v, "name")
		if name == "" {
			name = stringOpt(v, "plugin")
		}
		if name == "" {
			return PluginDef{}, fmt.Errorf("plugin def has no name")
		}
		opts, present := v["options"]
		if !present {
			return PluginDef{Name: name}, nil
		}
		options, ok := opts.(map[string]interface{})
		if !ok {
			return PluginDef{}, fmt.Errorf("plugin %q options must be a mapping", name)
		}
		return PluginDef{Name: name, Options: options}, nil
	default:
		return PluginDef{}, fmt.Errorf("plugin def must be a string or mapping, got %T", item)
	}
}

func parseRetry(merged map[string]interface{}, out *RetryConfig) error {
	block, ok := merged["retry"].(map[string]interface{})
	if !ok {
		return nil
	}
	if v, present := block["max_attempts"]; present {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("retry.max_attempts: %w", err)
		}
		out.MaxAttempts = n
	}
	if v, present := block["initial_delay"]; present {
		d, err := asDuration(v)
		if err != nil {
			return fmt.Errorf("retry.initial_delay: %w", err)
		}
		out.InitialDelay = d
	}
	if v, present := block["backoff"]; present {
		f, err := asFloat(v)
		if err != nil {
			return fmt.Errorf("retry.backoff: %w", err)
		}
		out.Backoff = f
	}
	return nil
}

func parseConcurrency(merged map[string]interface{}, out *ConcurrencyConfig) error {
	block, ok := merged["concurrency"].(map[string]interface{})
	if !ok {
		return nil
	}
	if v := stringOpt(block, "mode"); v != "" {
		out.Mode = v
	}
	if v, present := block["max_workers"]; present {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("concurrency.max_workers: %w", err)
		}
		out.MaxWorkers = n
	}
	if v, present := block["backlog_threshold"]; present {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("concurrency.backlog_threshold: %w", err)
		}
		out.BacklogThreshold = n
	}
	if v, present := block["utilization_pause"]; present {
		f, err := asFloat(v)
		if err != nil {
			return fmt.Errorf("concurrency.utilization_pause: %w", err)
		}
		out.UtilizationPause = f
	}
	if v, present := block["pause_interval"]; present {
		d, err := asDuration(v)
		if err != nil {
			return fmt.Errorf("concurrency.pause_interval: %w", err)
		}
		out.PauseInterval = d
	}
	return nil
}

func stringOpt(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func stringList(raw interface{}) []string {
	items, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func asFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected number, got %T", v)
	}
}

// asDuration accepts Go duration strings ("500ms") or bare numbers of
// seconds, matching how delays appear in suite files.
func asDuration(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, err
		}
		return parsed, nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("expected duration string or seconds, got %T", v)
	}
}
