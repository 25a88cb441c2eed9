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

// Package plugins holds the explicit extension-point registries. Registries
// are constructed at startup rather than via process-wide side effects;
// plugin names are case-sensitive. Each factory may attach a JSON schema
// that its option block is validated against before construction.
package plugins

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/datasource"
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/llm"
)

// BuildFunc constructs a plugin instance from its validated option block.
type BuildFunc[T any] func(options map[string]interface{}) (T, error)

type factory[T any] struct {
	schema *gojsonschema.Schema
	build  BuildFunc[T]
}

// Section is the registry for one extension point.
type Section[T any] struct {
	kind      string
	factories map[string]*factory[T]
}

func newSection[T any](kind string) *Section[T] {
	return &Section[T]{kind: kind, factories: make(map[string]*factory[T])}
}

// Register adds a factory. schemaJSON may be empty to skip option
// validation. Registering a duplicate name panics; registration happens at
// startup where a collision is a programming error.
func (s *Section[T]) Register(name, schemaJSON string, build BuildFunc[T]) {
	if _, exists := s.factories[name]; exists {
		panic(fmt.Sprintf("%s plugin %q registered twice", s.kind, name))
	}
	f := &factory[T]{build: build}
	if schemaJSON != "" {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
		if err != nil {
			panic(fmt.Sprintf("%s plugin %q has invalid option schema: %v", s.kind, name, err))
		}
		f.schema = schema
	}
	s.factories[name] = f
}

// Names lists registered plugin names, unordered.
func (s *Section[T]) Names() []string {
	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	return names
}

// Build constructs the plugin named by a def, validating its options.
func (s *Section[T]) Build(def config.PluginDef) (T, error) {
	var zero T
	f, ok := s.factories[def.Name]
	if !ok {
		return zero, fmt.Errorf("unknown %s plugin %q", s.kind, def.Name)
	}
	options := def.Options
	if options == nil {
		options = map[string]interface{}{}
	}
	if f.schema != nil {
		if err := validateOptions(f.schema, options); err != nil {
			return zero, fmt.Errorf("%s plugin %q: %w", s.kind, def.Name, err)
		}
	}
	instance, err := f.build(options)
	if err != nil {
		return zero, fmt.Errorf("failed to build %s plugin %q: %w", s.kind, def.Name, err)
	}
	return instance, nil
}

// BuildAll constructs every def in order.
func (s *Section[T]) BuildAll(defs []config.PluginDef) ([]T, error) {
	out := make([]T, 0, len(defs))
	for _, def := range defs {
		instance, err := s.Build(def)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, nil
}

func validateOptions(schema *gojsonschema.Schema, options map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(options))
	if err != nil {
		return fmt.Errorf("failed to validate options: %w", err)
	}
	if result.Valid() {
		return nil
	}
	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return fmt.Errorf("invalid options: %s", strings.Join(messages, "; "))
}

// Registry bundles every extension point.
type Registry struct {
	Transforms   *Section[engine.TransformPlugin]
	Aggregations *Section[engine.AggregationPlugin]
	Comparisons  *Section[engine.ComparisonPlugin]
	Halts        *Section[engine.HaltCondition]
	Middlewares  *Section[llm.Middleware]
	RateLimiters *Section[llm.RateLimiter]
	CostTrackers *Section[llm.CostTracker]
	Sinks        *Section[artifacts.ResultSink]
	DataSources  *Section[datasource.DataSource]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Transforms:   newSection[engine.TransformPlugin]("transform"),
		Aggregations: newSection[engine.AggregationPlugin]("aggregation"),
		Comparisons:  newSection[engine.ComparisonPlugin]("comparison"),
		Halts:        newSection[engine.HaltCondition]("halt"),
		Middlewares:  newSection[llm.Middleware]("middleware"),
		RateLimiters: newSection[llm.RateLimiter]("rate-limiter"),
		CostTrackers: newSection[llm.CostTracker]("cost-tracker"),
		Sinks:        newSection[artifacts.ResultSink]("sink"),
		DataSources:  newSection[datasource.DataSource]("datasource"),
	}
}

// NewDefaultRegistry returns a registry with every built-in plugin
// registered. Sink implementations register separately (pkg/sinks) to keep
// storage dependencies out of this package.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	registerTransforms(r)
	registerAggregations(r)
	registerComparisons(r)
	registerHalts(r)
	registerMiddlewares(r)
	registerControls(r)
	registerDataSources(r)
	return r
}

// StableOptionsKey renders a def as `<name>:<canonical-json-options>` for
// instance deduplication across cycles.
func StableOptionsKey(def config.PluginDef) string {
	if len(def.Options) == 0 {
		return def.Name + ":{}"
	}
	// json.Marshal sorts map keys, giving a canonical form.
	encoded, err := json.Marshal(def.Options)
	if err != nil {
		return def.Name + ":unencodable"
	}
	return def.Name + ":" + string(encoded)
}
