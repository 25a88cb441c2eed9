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

package orchestration

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/datasource"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/mock"
	"github.com/teradata-labs/weft/pkg/plugins"
	"github.com/teradata-labs/weft/pkg/sinks"
	"github.com/teradata-labs/weft/pkg/types"
)

// lifecycleRecorder is a middleware that records orchestrator callbacks.
type lifecycleRecorder struct {
	events    []string
	preflight map[string]interface{}
	startMeta map[string]map[string]interface{}
}

func (r *lifecycleRecorder) Name() string { return "lifecycle_recorder" }

func (r *lifecycleRecorder) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	return req, nil
}

func (r *lifecycleRecorder) OnSuiteLoaded(suite string, cycles []string, preflight map[string]interface{}) {
	r.preflight = preflight
	r.events = append(r.events, fmt.Sprintf("loaded:%s:%d", suite, len(cycles)))
}

func (r *lifecycleRecorder) OnExperimentStart(cycle string, metadata map[string]interface{}) {
	if r.startMeta == nil {
		r.startMeta = make(map[string]map[string]interface{})
	}
	r.startMeta[cycle] = metadata
	r.events = append(r.events, "start:"+cycle)
}

func (r *lifecycleRecorder) OnExperimentComplete(cycle string, _ *types.Payload) {
	r.events = append(r.events, "complete:"+cycle)
}

func (r *lifecycleRecorder) OnBaselineComparison(cycle string, _ map[string]map[string]interface{}) {
	r.events = append(r.events, "comparison:"+cycle)
}

func (r *lifecycleRecorder) OnSuiteComplete(results map[string]*types.Payload) {
	r.events = append(r.events, fmt.Sprintf("done:%d", len(results)))
}

var _ llm.SuiteObserver = (*lifecycleRecorder)(nil)

func testRegistry(t *testing.T) (*plugins.Registry, *lifecycleRecorder) {
	t.Helper()
	recorder := &lifecycleRecorder{}
	r := plugins.NewDefaultRegistry()
	sinks.Register(r)
	r.Middlewares.Register("lifecycle_recorder", "", func(map[string]interface{}) (llm.Middleware, error) {
		return recorder, nil
	})
	return r, recorder
}

func testBatch() *datasource.Batch {
	return &datasource.Batch{
		Rows: []types.Row{
			types.NewRow([]string{"text"}, map[string]interface{}{"text": "alpha"}),
			types.NewRow([]string{"text"}, map[string]interface{}{"text": "beta"}),
		},
	}
}

func cycleData(extra map[string]interface{}) map[string]interface{} {
	data := map[string]interface{}{
		"prompts": map[string]interface{}{
			"system": "You are a grader.",
			"user":   "Grade: {text}",
		},
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}

func TestStandardStrategyRunsDeclaredOrder(t *testing.T) {
	registry, recorder := testRegistry(t)
	suite := &config.SuiteConfig{
		Name:     "demo",
		Strategy: "standard",
		Defaults: map[string]interface{}{
			"llm_middleware_defs": []interface{}{"lifecycle_recorder"},
		},
		Cycles: []config.CycleSpec{
			{Name: "first", Data: cycleData(nil)},
			{Name: "second", Data: cycleData(nil)},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("score: 0.5"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	results, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, results["first"].Payload.Results, 2)
	assert.Nil(t, results["first"].BaselineComparison)

	assert.Equal(t, []string{
		"loaded:demo:2",
		"start:first", "complete:first",
		"start:second", "complete:second",
		"done:2",
	}, recorder.events)
	assert.Equal(t, map[string]interface{}{"experiment_count": 2}, recorder.preflight)
}

func TestExperimentalStrategyBaselineFirstAndCompared(t *testing.T) {
	registry, recorder := testRegistry(t)
	suite := &config.SuiteConfig{
		Name:     "exp",
		Strategy: "experimental",
		Defaults: map[string]interface{}{
			"llm_middleware_defs":  []interface{}{"lifecycle_recorder"},
			"baseline_plugin_defs": []interface{}{"row_count"},
		},
		Cycles: []config.CycleSpec{
			{Name: "variant", Data: cycleData(nil)},
			{Name: "base", Data: cycleData(map[string]interface{}{
				"metadata": map[string]interface{}{"is_baseline": true},
			})},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	results, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Contains(t, results, "variant")
	comparison := results["variant"].BaselineComparison
	require.Contains(t, comparison, "row_count")
	assert.Equal(t, map[string]interface{}{"row_delta": 0}, comparison["row_count"])
	assert.Equal(t, comparison, results["variant"].Payload.Metadata["baseline_comparison"])

	assert.Nil(t, results["base"].BaselineComparison)

	assert.Equal(t, []string{
		"loaded:exp:2",
		"start:base", "complete:base",
		"start:variant", "complete:variant", "comparison:variant",
		"done:2",
	}, recorder.events)
	assert.Equal(t, map[string]interface{}{
		"experiment_count": 2,
		"baseline":         "base",
	}, recorder.preflight)
	assert.Equal(t, true, recorder.startMeta["base"]["is_baseline"])
}

func TestComparisonPluginsDeclaredInCycleMetadata(t *testing.T) {
	registry, _ := testRegistry(t)
	suite := &config.SuiteConfig{
		Name:     "exp",
		Strategy: "experimental",
		Cycles: []config.CycleSpec{
			{Name: "base", Data: cycleData(map[string]interface{}{
				"metadata": map[string]interface{}{"is_baseline": true},
			})},
			{Name: "variant", Data: cycleData(map[string]interface{}{
				"metadata": map[string]interface{}{
					"baseline_plugins": []interface{}{"row_count"},
				},
			})},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	results, err := o.Run(context.Background())
	require.NoError(t, err)

	comparison := results["variant"].BaselineComparison
	require.Contains(t, comparison, "row_count")
	assert.Equal(t, map[string]interface{}{"row_delta": 0}, comparison["row_count"])
}

func TestNewRejectsSuiteWithoutCycles(t *testing.T) {
	registry, _ := testRegistry(t)
	_, err := New(&config.SuiteConfig{Name: "empty", Strategy: "experimental"}, Options{
		Registry: registry,
		Client:   mock.New("fine"),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one cycle")
}

func TestExperimentalDefaultsToFirstCycleAsBaseline(t *testing.T) {
	registry, _ := testRegistry(t)
	suite := &config.SuiteConfig{
		Name:     "exp",
		Strategy: "experimental",
		Defaults: map[string]interface{}{
			"baseline_plugin_defs": []interface{}{"row_count"},
		},
		Cycles: []config.CycleSpec{
			{Name: "a", Data: cycleData(nil)},
			{Name: "b", Data: cycleData(nil)},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	results, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, results["a"].BaselineComparison)
	assert.NotNil(t, results["b"].BaselineComparison)
}

func TestMiddlewareInstancesSharedAcrossCycles(t *testing.T) {
	registry, _ := testRegistry(t)
	built := 0
	registry.Middlewares.Register("counting", "", func(map[string]interface{}) (llm.Middleware, error) {
		built++
		return llm.NewHealthMonitor(), nil
	})

	suite := &config.SuiteConfig{
		Name: "demo",
		Defaults: map[string]interface{}{
			"llm_middleware_defs": []interface{}{"counting"},
		},
		Cycles: []config.CycleSpec{
			{Name: "first", Data: cycleData(nil)},
			{Name: "second", Data: cycleData(nil)},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, built, "identical defs resolve to one shared instance")
}

func TestSinkResolutionCycleBeatsDefaults(t *testing.T) {
	registry, _ := testRegistry(t)
	dir := t.TempDir()
	cyclePath := filepath.Join(dir, "cycle.csv")
	defaultsPath := filepath.Join(dir, "defaults.csv")

	suite := &config.SuiteConfig{
		Name: "demo",
		Defaults: map[string]interface{}{
			"sink_defs": []interface{}{
				map[string]interface{}{"name": "csv", "options": map[string]interface{}{"path": defaultsPath}},
			},
		},
		Cycles: []config.CycleSpec{
			{Name: "only", Data: cycleData(map[string]interface{}{
				"sink_defs": []interface{}{
					map[string]interface{}{"name": "csv", "options": map[string]interface{}{"path": cyclePath}},
				},
			})},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: dir,
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(cyclePath)
	assert.NoError(t, err, "cycle sink written")
	_, err = os.Stat(defaultsPath)
	assert.True(t, os.IsNotExist(err), "defaults sink not written")
}

func TestOrchestratorDefaultSinkFallback(t *testing.T) {
	registry, _ := testRegistry(t)
	dir := t.TempDir()

	suite := &config.SuiteConfig{
		Name:   "demo",
		Cycles: []config.CycleSpec{{Name: "only", Data: cycleData(nil)}},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: dir,
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "only.csv"))
	assert.NoError(t, err)
}

func TestBuildErrorsSurfaceBeforeAnyCycleRuns(t *testing.T) {
	registry, recorder := testRegistry(t)
	suite := &config.SuiteConfig{
		Name: "demo",
		Defaults: map[string]interface{}{
			"llm_middleware_defs": []interface{}{"lifecycle_recorder"},
		},
		Cycles: []config.CycleSpec{
			{Name: "good", Data: cycleData(nil)},
			{Name: "bad", Data: cycleData(map[string]interface{}{
				"transform_plugin_defs": []interface{}{"no_such_plugin"},
			})},
		},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
		Batch:     testBatch(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `failed to build cycle "bad"`)
	assert.Empty(t, recorder.events, "no lifecycle callback before the suite builds")
}

func TestMissingDatasourceWithoutBatchOverride(t *testing.T) {
	registry, _ := testRegistry(t)
	suite := &config.SuiteConfig{
		Name:   "demo",
		Cycles: []config.CycleSpec{{Name: "only", Data: cycleData(nil)}},
	}

	o, err := New(suite, Options{
		Registry:  registry,
		Client:    mock.New("fine"),
		OutputDir: t.TempDir(),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no datasource configured")
}
