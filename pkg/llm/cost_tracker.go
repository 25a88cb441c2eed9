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

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/teradata-labs/weft/pkg/types"
)

// CostTracker accounts for per-call spend. Record returns metrics to merge
// into the response; Summary feeds the payload's cost_summary block.
// Implementations must be safe for concurrent use.
type CostTracker interface {
	Record(resp *types.LLMResponse, metadata map[string]interface{}) map[string]float64
	Summary() map[string]interface{}
}

// NoopTracker records nothing.
type NoopTracker struct{}

func (NoopTracker) Record(*types.LLMResponse, map[string]interface{}) map[string]float64 {
	return nil
}

func (NoopTracker) Summary() map[string]interface{} { return nil }

// FixedPriceTracker prices calls from per-1K-token rates using the token
// metrics the client reports.
type FixedPriceTracker struct {
	inputPer1K  float64
	outputPer1K float64

	mu           sync.Mutex
	calls        int
	inputTokens  float64
	outputTokens float64
	totalCost    float64
}

// NewFixedPriceTracker builds a tracker with USD-per-1K-token rates.
func NewFixedPriceTracker(inputPer1K, outputPer1K float64) *FixedPriceTracker {
	return &FixedPriceTracker{inputPer1K: inputPer1K, outputPer1K: outputPer1K}
}

func (t *FixedPriceTracker) Record(resp *types.LLMResponse, _ map[string]interface{}) map[string]float64 {
	if resp == nil {
		return nil
	}
	input := resp.Metrics["input_tokens"]
	output := resp.Metrics["output_tokens"]
	cost := input/1000*t.inputPer1K + output/1000*t.outputPer1K

	t.mu.Lock()
	t.calls++
	t.inputTokens += input
	t.outputTokens += output
	t.totalCost += cost
	t.mu.Unlock()

	return map[string]float64{"cost_usd": cost}
}

func (t *FixedPriceTracker) Summary() map[string]interface{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.calls == 0 {
		return nil
	}
	return map[string]interface{}{
		"calls":          t.calls,
		"input_tokens":   t.inputTokens,
		"output_tokens":  t.outputTokens,
		"total_cost_usd": t.totalCost,
	}
}

// TokenEstimator counts prompt tokens ahead of a call so the adaptive
// limiter can reserve window capacity. Encodings are cached per instance.
type TokenEstimator struct {
	mu       sync.Mutex
	encoding *tiktoken.Tiktoken
}

// NewTokenEstimator builds an estimator for the given tiktoken encoding
// name, e.g. "cl100k_base".
func NewTokenEstimator(encodingName string) (*TokenEstimator, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, err
	}
	return &TokenEstimator{encoding: enc}, nil
}

// Estimate returns the token count of the concatenated prompts.
func (e *TokenEstimator) Estimate(systemPrompt, userPrompt string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.encoding.Encode(systemPrompt, nil, nil))
	n += len(e.encoding.Encode(userPrompt, nil, nil))
	return n
}
