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

// Package orchestration drives a suite of cycles. The standard strategy runs
// cycles in declared order; the experimental strategy runs the baseline cycle
// first and diffs every variant against it with comparison plugins. Cycles
// never overlap; a cycle's artifact pipeline completes before the next cycle
// starts.
package orchestration

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/datasource"
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/plugins"
	"github.com/teradata-labs/weft/pkg/security"
	"github.com/teradata-labs/weft/pkg/types"
)

// Options configures an orchestrator. Registry and Client are required.
type Options struct {
	Registry *plugins.Registry
	Client   llm.Client

	// SystemDefaults is the lowest-precedence configuration layer.
	SystemDefaults map[string]interface{}

	// Profile is the user-level overlay merged between the prompt pack and
	// the suite defaults.
	Profile map[string]interface{}

	// DefaultSinkDefs is the caller's sink fallback, used when neither the
	// cycle, the pack nor the suite defaults declare sinks.
	DefaultSinkDefs []config.PluginDef

	// OutputDir anchors the orchestrator's last-resort CSV sink. Empty means
	// "results".
	OutputDir string

	// Estimator supplies estimated_tokens hints to rate limiters.
	Estimator *llm.TokenEstimator

	// Batch, when set, replaces every cycle's datasource. Used by dry runs.
	Batch *datasource.Batch

	// Preflight is handed to OnSuiteLoaded observers. When nil the
	// orchestrator synthesizes {experiment_count, baseline}.
	Preflight map[string]interface{}
}

// CycleResult is the outcome of one cycle.
type CycleResult struct {
	Config  *config.CycleConfig
	Payload *types.Payload

	// BaselineComparison is set on variants under the experimental strategy,
	// keyed by comparison plugin name. Empty diffs are omitted.
	BaselineComparison map[string]map[string]interface{}
}

// Orchestrator runs one suite. It is single-use.
type Orchestrator struct {
	suite *config.SuiteConfig
	opts  Options

	// middlewareCache shares middleware instances across cycles, keyed by
	// name plus canonical options.
	middlewareCache map[string]llm.Middleware
	observers       []llm.Middleware
}

// cycleRun is one fully built cycle awaiting execution.
type cycleRun struct {
	spec   config.CycleSpec
	cfg    *config.CycleConfig
	runner *engine.Runner
	source datasource.DataSource
}

// New validates the options and prepares an orchestrator.
func New(suite *config.SuiteConfig, opts Options) (*Orchestrator, error) {
	if suite == nil {
		return nil, fmt.Errorf("orchestrator requires a suite")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator requires a plugin registry")
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("orchestrator requires an llm client")
	}
	if len(suite.Cycles) == 0 {
		return nil, fmt.Errorf("orchestrator requires at least one cycle")
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "results"
	}
	return &Orchestrator{
		suite:           suite,
		opts:            opts,
		middlewareCache: make(map[string]llm.Middleware),
	}, nil
}

// Run builds every cycle, then executes them under the suite's strategy.
// Build errors surface before any cycle runs.
func (o *Orchestrator) Run(ctx context.Context) (map[string]*CycleResult, error) {
	runs := make([]*cycleRun, 0, len(o.suite.Cycles))
	for _, spec := range o.suite.Cycles {
		run, err := o.buildCycle(spec)
		if err != nil {
			return nil, fmt.Errorf("failed to build cycle %q: %w", spec.Name, err)
		}
		runs = append(runs, run)
	}

	ordered := runs
	var baseline *cycleRun
	if o.suite.Strategy == "experimental" {
		baseline = pickBaseline(runs)
		ordered = orderBaselineFirst(runs, baseline)
	}

	names := make([]string, len(runs))
	for i, run := range runs {
		names[i] = run.cfg.Name
	}
	o.notifySuiteLoaded(names, o.preflight(runs, baseline))

	results := make(map[string]*CycleResult, len(runs))
	for _, run := range ordered {
		o.notifyExperimentStart(run.cfg.Name, run.cfg.Metadata)

		payload, err := o.runCycle(ctx, run)
		if err != nil {
			return nil, fmt.Errorf("cycle %q: %w", run.cfg.Name, err)
		}
		result := &CycleResult{Config: run.cfg, Payload: payload}
		results[run.cfg.Name] = result

		o.notifyExperimentComplete(run.cfg.Name, payload)

		if baseline != nil && run != baseline {
			comparisons, err := o.compare(run, results[baseline.cfg.Name].Payload, payload)
			if err != nil {
				return nil, fmt.Errorf("cycle %q: %w", run.cfg.Name, err)
			}
			if len(comparisons) > 0 {
				result.BaselineComparison = comparisons
				payload.Metadata["baseline_comparison"] = comparisons
				o.notifyBaselineComparison(run.cfg.Name, comparisons)
			}
		}
	}

	o.notifySuiteComplete(results)
	return results, nil
}

// buildCycle merges the configuration layers and materializes every
// collaborator of the cycle runner.
func (o *Orchestrator) buildCycle(spec config.CycleSpec) (*cycleRun, error) {
	cfg, _, err := config.EffectiveCycle(o.suite, spec, o.opts.SystemDefaults, o.opts.Profile)
	if err != nil {
		return nil, err
	}

	// The cycle's level is the maximum across the contributing layers, not
	// just the highest-precedence override.
	level, err := security.Resolve(
		layerLevel(o.opts.SystemDefaults),
		layerLevel(o.suite.Pack),
		layerLevel(o.suite.Defaults),
		cfg.SecurityLevel,
	)
	if err != nil {
		return nil, err
	}
	cfg.SecurityLevel = level

	reg := o.opts.Registry

	middlewares, err := o.middlewares(cfg.MiddlewareDefs)
	if err != nil {
		return nil, err
	}

	var limiter llm.RateLimiter
	if cfg.RateLimiter != nil {
		if limiter, err = reg.RateLimiters.Build(*cfg.RateLimiter); err != nil {
			return nil, err
		}
	}
	var tracker llm.CostTracker
	if cfg.CostTracker != nil {
		if tracker, err = reg.CostTrackers.Build(*cfg.CostTracker); err != nil {
			return nil, err
		}
	}

	transforms, err := reg.Transforms.BuildAll(cfg.TransformDefs)
	if err != nil {
		return nil, err
	}
	aggregations, err := reg.Aggregations.BuildAll(cfg.AggregationDefs)
	if err != nil {
		return nil, err
	}
	halts, err := reg.Halts.BuildAll(cfg.HaltDefs)
	if err != nil {
		return nil, err
	}

	bindings, err := o.sinkBindings(spec, cfg)
	if err != nil {
		return nil, err
	}

	var source datasource.DataSource
	if o.opts.Batch == nil {
		if cfg.Datasource == nil {
			return nil, fmt.Errorf("no datasource configured")
		}
		if source, err = reg.DataSources.Build(*cfg.Datasource); err != nil {
			return nil, err
		}
	}

	executor := llm.NewExecutor(o.opts.Client, llm.ExecutorConfig{
		Cycle:       cfg.Name,
		Retry:       cfg.Retry,
		Middlewares: middlewares,
		RateLimiter: limiter,
		CostTracker: tracker,
		Estimator:   o.opts.Estimator,
	})

	runner, err := engine.NewRunner(cfg, engine.RunnerDeps{
		Executor:     executor,
		RateLimiter:  limiter,
		CostTracker:  tracker,
		Transforms:   transforms,
		Aggregations: aggregations,
		Halts:        halts,
		Bindings:     bindings,
	})
	if err != nil {
		return nil, err
	}

	return &cycleRun{spec: spec, cfg: cfg, runner: runner, source: source}, nil
}

// middlewares resolves defs through the per-orchestrator instance cache so a
// middleware configured identically in several cycles is one shared instance.
func (o *Orchestrator) middlewares(defs []config.PluginDef) ([]llm.Middleware, error) {
	out := make([]llm.Middleware, 0, len(defs))
	for _, def := range defs {
		key := plugins.StableOptionsKey(def)
		instance, ok := o.middlewareCache[key]
		if !ok {
			built, err := o.opts.Registry.Middlewares.Build(def)
			if err != nil {
				return nil, err
			}
			o.middlewareCache[key] = built
			o.observers = append(o.observers, built)
			instance = built
		}
		out = append(out, instance)
	}
	return out, nil
}

// sinkBindings resolves the cycle's sinks. Resolution stops at the first
// layer that declares any: cycle, then pack, then suite defaults, then the
// caller's fallback, then a plain CSV sink under the output directory.
func (o *Orchestrator) sinkBindings(spec config.CycleSpec, cfg *config.CycleConfig) ([]*artifacts.SinkBinding, error) {
	defs, err := o.resolveSinkDefs(spec)
	if err != nil {
		return nil, err
	}

	bindings := make([]*artifacts.SinkBinding, 0, len(defs))
	for i, def := range defs {
		sink, err := o.opts.Registry.Sinks.Build(def)
		if err != nil {
			return nil, err
		}
		level := cfg.SecurityLevel
		if declared, ok := def.Options["security_level"].(string); ok && declared != "" {
			level = declared
		}
		bindings = append(bindings, &artifacts.SinkBinding{
			ID:            fmt.Sprintf("%s_%d", def.Name, i),
			Plugin:        def.Name,
			Sink:          sink,
			OriginalIndex: i,
			SecurityLevel: level,
		})
	}
	return bindings, nil
}

func (o *Orchestrator) resolveSinkDefs(spec config.CycleSpec) ([]config.PluginDef, error) {
	layers := []struct {
		name string
		data map[string]interface{}
	}{
		{"cycle", spec.Data},
		{"pack", o.suite.Pack},
		{"defaults", o.suite.Defaults},
	}
	for _, layer := range layers {
		defs, err := config.ParsePluginDefs(layer.data, "sink_defs", "sinks")
		if err != nil {
			return nil, fmt.Errorf("%s sinks: %w", layer.name, err)
		}
		if len(defs) > 0 {
			return defs, nil
		}
	}
	if len(o.opts.DefaultSinkDefs) > 0 {
		return o.opts.DefaultSinkDefs, nil
	}
	return []config.PluginDef{{
		Name: "csv",
		Options: map[string]interface{}{
			"path": filepath.Join(o.opts.OutputDir, spec.Name+".csv"),
		},
	}}, nil
}

func (o *Orchestrator) runCycle(ctx context.Context, run *cycleRun) (*types.Payload, error) {
	batch := o.opts.Batch
	if batch == nil {
		loaded, err := run.source.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load datasource: %w", err)
		}
		batch = loaded
	}
	log.Info("running cycle",
		zap.String("suite", o.suite.Name),
		zap.String("cycle", run.cfg.Name),
		zap.Int("rows", len(batch.Rows)))
	return run.runner.Run(ctx, batch)
}

// compare gathers comparison defs lowest layer first (suite defaults, pack,
// cycle) and runs each against the baseline. Empty diffs are dropped. The
// cycle declares its plugins under metadata; top-level defs are honored too.
func (o *Orchestrator) compare(run *cycleRun, baseline, variant *types.Payload) (map[string]map[string]interface{}, error) {
	var defs []config.PluginDef
	for _, data := range []map[string]interface{}{o.suite.Defaults, o.suite.Pack, run.cfg.Metadata, run.spec.Data} {
		layerDefs, err := config.ParsePluginDefs(data, "baseline_plugin_defs", "baseline_plugins")
		if err != nil {
			return nil, err
		}
		defs = append(defs, layerDefs...)
	}

	comparisons := make(map[string]map[string]interface{})
	for _, def := range defs {
		plugin, err := o.opts.Registry.Comparisons.Build(def)
		if err != nil {
			return nil, err
		}
		if diff := plugin.Compare(baseline, variant); len(diff) > 0 {
			comparisons[plugin.Name()] = diff
		}
	}
	return comparisons, nil
}

// pickBaseline returns the first cycle whose metadata marks it as baseline,
// falling back to the first cycle.
func pickBaseline(runs []*cycleRun) *cycleRun {
	for _, run := range runs {
		if truthy(run.cfg.Metadata["is_baseline"]) {
			return run
		}
	}
	return runs[0]
}

func orderBaselineFirst(runs []*cycleRun, baseline *cycleRun) []*cycleRun {
	ordered := make([]*cycleRun, 0, len(runs))
	ordered = append(ordered, baseline)
	for _, run := range runs {
		if run != baseline {
			ordered = append(ordered, run)
		}
	}
	return ordered
}

func truthy(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t == "true" || t == "yes" || t == "1"
	case int:
		return t != 0
	case float64:
		return t != 0
	default:
		return false
	}
}

func layerLevel(data map[string]interface{}) string {
	if data == nil {
		return ""
	}
	level, _ := data["security_level"].(string)
	return level
}

// preflight returns the caller's map, else synthesizes one from the built
// cycles and the picked baseline.
func (o *Orchestrator) preflight(runs []*cycleRun, baseline *cycleRun) map[string]interface{} {
	if o.opts.Preflight != nil {
		return o.opts.Preflight
	}
	preflight := map[string]interface{}{"experiment_count": len(runs)}
	if baseline != nil {
		preflight["baseline"] = baseline.cfg.Name
	}
	return preflight
}

func (o *Orchestrator) notifySuiteLoaded(cycles []string, preflight map[string]interface{}) {
	for _, mw := range o.observers {
		if observer, ok := mw.(llm.SuiteObserver); ok {
			observer.OnSuiteLoaded(o.suite.Name, cycles, preflight)
		}
	}
}

func (o *Orchestrator) notifyExperimentStart(cycle string, metadata map[string]interface{}) {
	for _, mw := range o.observers {
		if observer, ok := mw.(llm.SuiteObserver); ok {
			observer.OnExperimentStart(cycle, metadata)
		}
	}
}

func (o *Orchestrator) notifyExperimentComplete(cycle string, payload *types.Payload) {
	for _, mw := range o.observers {
		if observer, ok := mw.(llm.SuiteObserver); ok {
			observer.OnExperimentComplete(cycle, payload)
		}
	}
}

func (o *Orchestrator) notifyBaselineComparison(cycle string, comparisons map[string]map[string]interface{}) {
	for _, mw := range o.observers {
		if observer, ok := mw.(llm.SuiteObserver); ok {
			observer.OnBaselineComparison(cycle, comparisons)
		}
	}
}

func (o *Orchestrator) notifySuiteComplete(results map[string]*CycleResult) {
	payloads := make(map[string]*types.Payload, len(results))
	for name, result := range results {
		payloads[name] = result.Payload
	}
	for _, mw := range o.observers {
		if observer, ok := mw.(llm.SuiteObserver); ok {
			observer.OnSuiteComplete(payloads)
		}
	}
}
