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
	"sort"
)

// MergeStrategy selects how a key is combined across configuration sources.
type MergeStrategy string

const (
	// StrategyOverride replaces the lower-precedence value wholesale.
	StrategyOverride MergeStrategy = "override"
	// StrategyAppend concatenates list values in precedence order.
	StrategyAppend MergeStrategy = "append"
	// StrategyDeepMerge recursively unions nested maps; on collision the
	// higher-precedence value wins unless both sides are maps.
	StrategyDeepMerge MergeStrategy = "deep_merge"
)

// Source is one named configuration layer. Lower precedence is applied first.
//
// Precedence levels (lowest to highest): system defaults (1), prompt pack (2),
// profile (3), suite defaults (4), cycle (5).
type Source struct {
	Name       string
	Data       map[string]interface{}
	Precedence int
}

// Explanation reports how a key reached its final value.
type Explanation struct {
	Key      string
	Value    interface{}
	Strategy MergeStrategy
	// Source is the name of the source that last set (or last appended to)
	// the key.
	Source string
	// Appended holds the items each source contributed for APPEND keys.
	Appended map[string][]interface{}
}

// Merger combines configuration sources under documented per-key strategies.
// Merging is total: it never fails. Validation of the merged result is the
// caller's responsibility.
type Merger struct {
	strategies map[string]MergeStrategy
	trace      map[string]*Explanation
}

// NewMerger returns a merger preloaded with the default key strategies.
func NewMerger() *Merger {
	strategies := map[string]MergeStrategy{
		// Plugin list keys accumulate across sources. Both the base names
		// and the normalized *_defs variants append.
		"row_plugins":                StrategyAppend,
		"transform_plugin_defs":      StrategyAppend,
		"aggregator_plugins":         StrategyAppend,
		"aggregation_transform_defs": StrategyAppend,
		"baseline_plugins":           StrategyAppend,
		"baseline_plugin_defs":       StrategyAppend,
		"llm_middlewares":            StrategyAppend,
		"llm_middleware_defs":        StrategyAppend,
		"sinks":                      StrategyAppend,
		"sink_defs":                  StrategyAppend,
		"early_stop_plugins":         StrategyAppend,
		"halt_condition_plugin_defs": StrategyAppend,

		// Nested option blocks merge recursively.
		"llm":          StrategyDeepMerge,
		"datasource":   StrategyDeepMerge,
		"orchestrator": StrategyDeepMerge,
		"prompts":      StrategyDeepMerge,
		"retry":        StrategyDeepMerge,
		"checkpoint":   StrategyDeepMerge,
		"concurrency":  StrategyDeepMerge,
		"early_stop":   StrategyDeepMerge,
	}
	return &Merger{strategies: strategies, trace: make(map[string]*Explanation)}
}

// SetStrategy overrides the strategy for a key. Unknown keys default to
// OVERRIDE without registration.
func (m *Merger) SetStrategy(key string, strategy MergeStrategy) {
	m.strategies[key] = strategy
}

// Merge combines sources, lowest precedence first. Input sources are never
// mutated.
func (m *Merger) Merge(sources ...Source) map[string]interface{} {
	ordered := make([]Source, len(sources))
	copy(ordered, sources)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Precedence < ordered[j].Precedence
	})

	m.trace = make(map[string]*Explanation)
	merged := make(map[string]interface{})
	for _, source := range ordered {
		m.mergeSource(merged, source)
	}
	return merged
}

// Explain returns the final value of a key and the name of the source that
// last set it. The second return is false when no source defined the key in
// the most recent Merge.
func (m *Merger) Explain(key string) (Explanation, bool) {
	exp, ok := m.trace[key]
	if !ok {
		return Explanation{}, false
	}
	return *exp, true
}

func (m *Merger) mergeSource(base map[string]interface{}, source Source) {
	for key, value := range source.Data {
		strategy, ok := m.strategies[key]
		if !ok {
			strategy = StrategyOverride
		}

		switch strategy {
		case StrategyAppend:
			existing, _ := base[key].([]interface{})
			items := asList(value)
			combined := make([]interface{}, 0, len(existing)+len(items))
			combined = append(combined, existing...)
			combined = append(combined, items...)
			base[key] = combined

			exp := m.traceFor(key, StrategyAppend)
			exp.Source = source.Name
			exp.Value = combined
			if exp.Appended == nil {
				exp.Appended = make(map[string][]interface{})
			}
			exp.Appended[source.Name] = append(exp.Appended[source.Name], items...)

		case StrategyDeepMerge:
			incoming, incomingIsMap := value.(map[string]interface{})
			existing, existingIsMap := base[key].(map[string]interface{})
			if incomingIsMap && existingIsMap {
				base[key] = deepMerge(existing, incoming)
			} else {
				base[key] = value
			}
			exp := m.traceFor(key, StrategyDeepMerge)
			exp.Source = source.Name
			exp.Value = base[key]

		default:
			base[key] = value
			exp := m.traceFor(key, StrategyOverride)
			exp.Source = source.Name
			exp.Value = value
		}
	}
}

func (m *Merger) traceFor(key string, strategy MergeStrategy) *Explanation {
	exp, ok := m.trace[key]
	if !ok {
		exp = &Explanation{Key: key}
		m.trace[key] = exp
	}
	exp.Strategy = strategy
	return exp
}

// deepMerge returns a new map; neither input is mutated.
func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		existing, existingIsMap := out[k].(map[string]interface{})
		incoming, incomingIsMap := v.(map[string]interface{})
		if existingIsMap && incomingIsMap {
			out[k] = deepMerge(existing, incoming)
			continue
		}
		out[k] = v
	}
	return out
}

// asList normalizes an APPEND contribution: a list contributes its elements,
// any other non-nil value contributes itself.
func asList(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	case []map[string]interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out
	default:
		return []interface{}{value}
	}
}
