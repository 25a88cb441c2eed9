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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/llm/mock"
	"github.com/teradata-labs/weft/pkg/prompts"
	"github.com/teradata-labs/weft/pkg/types"
)

func compile(t *testing.T, cfg config.PromptsConfig) *prompts.Compiled {
	t.Helper()
	compiled, err := prompts.CompileCycle("test", cfg)
	require.NoError(t, err)
	return compiled
}

func testRow() types.Row {
	return types.NewRow([]string{"id", "text"}, map[string]interface{}{"id": 1, "text": "hello"})
}

func TestProcessCriteriaOrderAndFirstResponse(t *testing.T) {
	compiled := compile(t, config.PromptsConfig{
		System: "Judge.",
		Criteria: []config.CriterionDef{
			{Name: "tone", Template: "Tone of {text}?"},
			{Name: "clarity", Template: "Clarity of {text}?"},
		},
	})
	client := &mock.Client{Script: []mock.Outcome{
		{Content: "warm", Metrics: map[string]float64{"score": 0.8}},
		{Content: "clear", Metrics: map[string]float64{"clarity": 0.6}},
	}}
	executor := llm.NewExecutor(client, llm.ExecutorConfig{})
	processor := NewRowProcessor(compiled, executor, nil, "unofficial")

	record, failure := processor.Process(context.Background(), 0, testRow())
	require.Nil(t, failure)

	assert.Equal(t, []string{"tone", "clarity"}, record.ResponseOrder)
	assert.Equal(t, "warm", record.Response.Content)
	assert.Equal(t, "warm", record.Responses["tone"].Content)
	assert.Equal(t, "clear", record.Responses["clarity"].Content)
	// Metrics merged across criteria.
	assert.Equal(t, 0.8, record.Metrics["score"])
	assert.Equal(t, 0.6, record.Metrics["clarity"])
}

func TestProcessPromptValidationFailure(t *testing.T) {
	compiled := compile(t, config.PromptsConfig{
		System: "Judge.",
		User:   "Rate: {{ .missing_field }}",
	})
	executor := llm.NewExecutor(mock.New("ok"), llm.ExecutorConfig{})
	processor := NewRowProcessor(compiled, executor, nil, "unofficial")

	record, failure := processor.Process(context.Background(), 0, testRow())
	require.Nil(t, record)
	assert.Equal(t, "prompt_validation", failure.ErrorType)
	assert.True(t, failure.Timestamp.IsZero())
}

type upperTransform struct{ fail bool }

func (upperTransform) Name() string { return "upper" }

func (u upperTransform) Transform(_ types.Row, responses map[string]*types.LLMResponse) (map[string]interface{}, error) {
	if u.fail {
		return nil, fmt.Errorf("no dice")
	}
	return map[string]interface{}{"n_responses": len(responses)}, nil
}

func TestProcessTransformPlugins(t *testing.T) {
	compiled := compile(t, config.PromptsConfig{System: "s", User: "u: {text}"})
	executor := llm.NewExecutor(mock.New("ok"), llm.ExecutorConfig{})
	processor := NewRowProcessor(compiled, executor, []TransformPlugin{upperTransform{}}, "official")

	record, failure := processor.Process(context.Background(), 0, testRow())
	require.Nil(t, failure)
	assert.Equal(t, 1, record.Metrics["n_responses"])
	assert.Equal(t, "official", record.SecurityLevel)
}

func TestProcessTransformFailure(t *testing.T) {
	compiled := compile(t, config.PromptsConfig{System: "s", User: "u: {text}"})
	executor := llm.NewExecutor(mock.New("ok"), llm.ExecutorConfig{})
	processor := NewRowProcessor(compiled, executor, []TransformPlugin{upperTransform{fail: true}}, "unofficial")

	record, failure := processor.Process(context.Background(), 0, testRow())
	require.Nil(t, record)
	assert.Equal(t, "transform_error", failure.ErrorType)
	assert.False(t, failure.Timestamp.IsZero())
}

func TestProcessCriteriaContextCarriesName(t *testing.T) {
	compiled := compile(t, config.PromptsConfig{
		System: "s",
		Criteria: []config.CriterionDef{
			{Name: "tone", Template: "criterion {{ .criteria }} on {{ .text }}"},
		},
	})
	client := mock.New("")
	executor := llm.NewExecutor(client, llm.ExecutorConfig{})
	processor := NewRowProcessor(compiled, executor, nil, "unofficial")

	record, failure := processor.Process(context.Background(), 0, testRow())
	require.Nil(t, failure)
	assert.Equal(t, "mock response to: criterion tone on hello", record.Responses["tone"].Content)
}
