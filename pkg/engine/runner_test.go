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

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/datasource"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/mock"
	"github.com/teradata-labs/weft/pkg/types"
)

func testCycleConfig(name string) *config.CycleConfig {
	return &config.CycleConfig{
		Name: name,
		Prompts: config.PromptsConfig{
			System: "You label rows.",
			User:   "Label: {{ .text }}",
		},
		Retry:         config.DefaultRetryConfig(),
		Concurrency:   config.DefaultConcurrencyConfig(),
		SecurityLevel: "unofficial",
	}
}

func testBatch(n int) *datasource.Batch {
	batch := &datasource.Batch{SecurityLevel: "unofficial"}
	for i := 1; i <= n; i++ {
		batch.Rows = append(batch.Rows, types.NewRow(
			[]string{"id", "text"},
			map[string]interface{}{"id": i, "text": fmt.Sprintf("row-%d", i)},
		))
	}
	return batch
}

func buildRunner(t *testing.T, cfg *config.CycleConfig, client llm.Client, deps RunnerDeps) *Runner {
	t.Helper()
	deps.Executor = llm.NewExecutor(client, llm.ExecutorConfig{
		Cycle:       cfg.Name,
		Retry:       cfg.Retry,
		RateLimiter: deps.RateLimiter,
		CostTracker: deps.CostTracker,
	})
	runner, err := NewRunner(cfg, deps)
	require.NoError(t, err)
	return runner
}

func TestRunSequentialHappyPath(t *testing.T) {
	cfg := testCycleConfig("s1")
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(2))
	require.NoError(t, err)

	require.Len(t, payload.Results, 2)
	assert.Equal(t, 1, payload.Results[0].Row.Get("id"))
	assert.Equal(t, "ok", payload.Results[0].Response.Content)
	assert.Equal(t, 2, payload.Results[1].Row.Get("id"))
	assert.Empty(t, payload.Failures)

	assert.Equal(t, 2, payload.Metadata["rows"])
	assert.Equal(t, 2, payload.Metadata["row_count"])
	assert.Equal(t, "unofficial", payload.Metadata["security_level"])
	assert.NotContains(t, payload.Metadata, "retry_summary")
}

func TestRunCheckpointResume(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.txt")
	require.NoError(t, os.WriteFile(path, []byte("1\n"), 0o644))

	cfg := testCycleConfig("s2")
	cfg.Checkpoint = config.CheckpointConfig{Path: path, Field: "id"}
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(2))
	require.NoError(t, err)

	assert.Equal(t, 1, client.Calls())
	require.Len(t, payload.Results, 1)
	assert.Equal(t, 2, payload.Results[0].Row.Get("id"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", string(data))
}

func TestRunRetryExhaustion(t *testing.T) {
	cfg := testCycleConfig("s3")
	cfg.Retry = config.RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, Backoff: 1}
	client := &mock.Client{Script: []mock.Outcome{
		{Err: errors.New("boom")},
		{Err: errors.New("boom")},
		{Err: errors.New("boom")},
	}}
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(1))
	require.NoError(t, err)

	assert.Empty(t, payload.Results)
	require.Len(t, payload.Failures, 1)
	failure := payload.Failures[0]
	assert.Equal(t, "retry_exhausted", failure.ErrorType)
	require.NotNil(t, failure.Retry)
	assert.Equal(t, 3, failure.Retry.Attempts)
	require.Len(t, failure.Retry.History, 3)
	assert.Equal(t, types.AttemptError, failure.Retry.History[2].Status)

	summary := payload.Metadata["retry_summary"].(map[string]interface{})
	assert.Equal(t, 1, summary["total_requests"])
	assert.Equal(t, 2, summary["total_retries"])
	assert.Equal(t, 1, summary["exhausted"])
}

func TestRunThresholdHalt(t *testing.T) {
	cfg := testCycleConfig("s4")
	cfg.EarlyStop = map[string]interface{}{
		"metric": "score", "threshold": 0.9, "comparison": "gte", "min_rows": 1,
	}
	client := &mock.Client{Script: []mock.Outcome{
		{Content: "a", Metrics: map[string]float64{"score": 0.5}},
		{Content: "b", Metrics: map[string]float64{"score": 0.95}},
		{Content: "never", Metrics: map[string]float64{"score": 0.99}},
	}}
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(3))
	require.NoError(t, err)

	// Row 3 is never dispatched once the halt fires on row 2.
	assert.Equal(t, 2, client.Calls())
	require.Len(t, payload.Results, 2)

	require.NotNil(t, payload.EarlyStop)
	assert.Equal(t, "threshold", payload.EarlyStop["plugin"])
	assert.Equal(t, "score", payload.EarlyStop["metric"])
	assert.Equal(t, 0.9, payload.EarlyStop["threshold"])
	assert.Equal(t, 0.95, payload.EarlyStop["value"])
	assert.Equal(t, 2, payload.EarlyStop["rows_observed"])
	assert.Equal(t, 1, payload.EarlyStop["row_index"])
	assert.Equal(t, payload.EarlyStop, payload.Metadata["early_stop"])
}

func TestRunParallelPreservesOrder(t *testing.T) {
	cfg := testCycleConfig("parallel")
	cfg.Concurrency = config.ConcurrencyConfig{
		Mode:             "parallel",
		MaxWorkers:       4,
		BacklogThreshold: 1,
		UtilizationPause: 0.8,
		PauseInterval:    time.Millisecond,
	}
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{RateLimiter: llm.NoopLimiter{}})

	payload, err := runner.Run(context.Background(), testBatch(40))
	require.NoError(t, err)

	require.Len(t, payload.Results, 40)
	for i, result := range payload.Results {
		assert.Equal(t, i+1, result.Row.Get("id"))
	}
	assert.Equal(t, 40, client.Calls())
}

func TestRunFieldRestriction(t *testing.T) {
	cfg := testCycleConfig("fields")
	cfg.Prompts.Fields = []string{"text"}
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(1))
	require.NoError(t, err)

	require.Len(t, payload.Results, 1)
	assert.Equal(t, []string{"text"}, payload.Results[0].Row.Fields)
	assert.Nil(t, payload.Results[0].Row.Get("id"))
}

func TestRunSecurityLevelResolution(t *testing.T) {
	cfg := testCycleConfig("sec")
	cfg.SecurityLevel = "official"
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	batch := testBatch(1)
	batch.SecurityLevel = "secret"
	payload, err := runner.Run(context.Background(), batch)
	require.NoError(t, err)

	assert.Equal(t, "secret", payload.Metadata["security_level"])
	assert.Equal(t, "secret", payload.Results[0].SecurityLevel)
}

type countAggregator struct{}

func (countAggregator) Name() string { return "row_count" }

func (countAggregator) Aggregate(records []*types.Record) map[string]interface{} {
	return map[string]interface{}{"count": len(records)}
}

func TestRunAggregation(t *testing.T) {
	cfg := testCycleConfig("agg")
	client := mock.New("ok")
	runner := buildRunner(t, cfg, client, RunnerDeps{
		Aggregations: []AggregationPlugin{countAggregator{}},
	})

	payload, err := runner.Run(context.Background(), testBatch(3))
	require.NoError(t, err)
	require.Contains(t, payload.Aggregates, "row_count")
	assert.Equal(t, 3, payload.Aggregates["row_count"]["count"])
}

func TestRunPerRowFailureDoesNotAbort(t *testing.T) {
	cfg := testCycleConfig("mixed")
	client := &mock.Client{Script: []mock.Outcome{
		{Content: "ok"},
		{Err: errors.New("boom")},
		{Content: "ok"},
	}}
	runner := buildRunner(t, cfg, client, RunnerDeps{})

	payload, err := runner.Run(context.Background(), testBatch(3))
	require.NoError(t, err)
	assert.Len(t, payload.Results, 2)
	assert.Len(t, payload.Failures, 1)
	// results + failures covers every attempted row
	assert.Equal(t, 3, len(payload.Results)+len(payload.Failures))
}
