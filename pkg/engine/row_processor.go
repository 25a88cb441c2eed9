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
	"time"

	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/prompts"
	"github.com/teradata-labs/weft/pkg/types"
)

// RowProcessor turns one input row into a Record or a Failure. It owns no
// shared state and is safe to call from multiple workers.
type RowProcessor struct {
	prompts       *prompts.Compiled
	executor      *llm.Executor
	transforms    []TransformPlugin
	securityLevel string
}

// NewRowProcessor wires the per-row pipeline.
func NewRowProcessor(compiled *prompts.Compiled, executor *llm.Executor, transforms []TransformPlugin, securityLevel string) *RowProcessor {
	return &RowProcessor{
		prompts:       compiled,
		executor:      executor,
		transforms:    transforms,
		securityLevel: securityLevel,
	}
}

// Process renders prompts, invokes the executor (once, or once per
// criterion) and applies transform plugins. Exactly one of the returns is
// non-nil.
func (p *RowProcessor) Process(ctx context.Context, index int, row types.Row) (*types.Record, *types.Failure) {
	rowContext := row.Context()

	systemPrompt, err := p.prompts.System.Render(rowContext)
	if err != nil {
		return nil, promptFailure(row, err)
	}

	record := &types.Record{
		Row:           row,
		SecurityLevel: p.securityLevel,
	}

	if len(p.prompts.CriteriaOrder) > 0 {
		record.Responses = make(map[string]*types.LLMResponse, len(p.prompts.CriteriaOrder))
		for _, name := range p.prompts.CriteriaOrder {
			userPrompt, err := p.prompts.Criteria[name].Render(withExtra(rowContext, "criteria", name))
			if err != nil {
				return nil, promptFailure(row, err)
			}
			resp, err := p.executor.Execute(ctx, systemPrompt, userPrompt, map[string]interface{}{
				"row_id":   index,
				"criteria": name,
			})
			if err != nil {
				return nil, llmFailure(row, err)
			}
			record.Responses[name] = resp
			record.ResponseOrder = append(record.ResponseOrder, name)
			if record.Response == nil {
				record.Response = resp
			}
			for metric, value := range resp.Metrics {
				record.SetMetric(metric, value)
			}
			if resp.Retry != nil && (record.Retry == nil || resp.Retry.Attempts > record.Retry.Attempts) {
				record.Retry = resp.Retry
			}
		}
	} else {
		userPrompt, err := p.prompts.User.Render(rowContext)
		if err != nil {
			return nil, promptFailure(row, err)
		}
		resp, err := p.executor.Execute(ctx, systemPrompt, userPrompt, map[string]interface{}{
			"row_id": index,
		})
		if err != nil {
			return nil, llmFailure(row, err)
		}
		record.Response = resp
		for metric, value := range resp.Metrics {
			record.SetMetric(metric, value)
		}
		record.Retry = resp.Retry
	}

	responses := record.Responses
	if responses == nil {
		responses = map[string]*types.LLMResponse{"default": record.Response}
	}
	for _, transform := range p.transforms {
		derived, err := transform.Transform(row, responses)
		if err != nil {
			return nil, &types.Failure{
				Row:       row,
				Error:     err.Error(),
				ErrorType: "transform_error",
				Timestamp: time.Now(),
				Retry:     record.Retry,
			}
		}
		for field, value := range derived {
			record.SetMetric(field, value)
		}
	}

	return record, nil
}

func promptFailure(row types.Row, err error) *types.Failure {
	errorType := "prompt_rendering"
	var verr *prompts.ValidationError
	if errors.As(err, &verr) {
		errorType = "prompt_validation"
	}
	return &types.Failure{
		Row:       row,
		Error:     err.Error(),
		ErrorType: errorType,
	}
}

func llmFailure(row types.Row, err error) *types.Failure {
	failure := &types.Failure{
		Row:       row,
		Error:     err.Error(),
		ErrorType: "llm_error",
		Timestamp: time.Now(),
	}
	var exhausted *llm.RetryExhaustedError
	if errors.As(err, &exhausted) {
		failure.ErrorType = "retry_exhausted"
		failure.Retry = &types.RetryInfo{
			Attempts:    exhausted.Attempts,
			MaxAttempts: exhausted.MaxAttempts,
			History:     exhausted.History,
		}
	}
	return failure
}

func withExtra(base map[string]interface{}, key string, value interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		out[k] = v
	}
	out[key] = value
	return out
}
