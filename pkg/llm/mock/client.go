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

// Package mock provides a deterministic LLM client for dry runs and tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/teradata-labs/weft/pkg/types"
)

// Client echoes a canned response for every call. Responses and errors can
// be scripted per call index; otherwise a fixed content string is returned.
type Client struct {
	// Content is returned when no script entry matches.
	Content string
	// Metrics are copied onto every response.
	Metrics map[string]float64
	// Script, when non-empty, is consumed one entry per call.
	Script []Outcome

	mu    sync.Mutex
	calls int
}

// Outcome is one scripted call result.
type Outcome struct {
	Content string
	Metrics map[string]float64
	Err     error
}

// New returns a client that always answers with content.
func New(content string) *Client {
	return &Client{Content: content}
}

// Name returns the provider name.
func (c *Client) Name() string { return "mock" }

// Calls returns how many times Generate ran.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Generate returns the scripted outcome for this call, or the fixed
// content. The context is honored for cancellation.
func (c *Client) Generate(ctx context.Context, _, userPrompt string, _ map[string]interface{}) (*types.LLMResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	call := c.calls
	c.calls++
	c.mu.Unlock()

	if call < len(c.Script) {
		outcome := c.Script[call]
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return &types.LLMResponse{
			Content: outcome.Content,
			Metrics: copyMetrics(outcome.Metrics),
		}, nil
	}

	content := c.Content
	if content == "" {
		content = fmt.Sprintf("mock response to: %s", userPrompt)
	}
	return &types.LLMResponse{
		Content: content,
		Metrics: copyMetrics(c.Metrics),
	}, nil
}

func copyMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
