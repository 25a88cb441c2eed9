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
	"context"
	"fmt"
	"regexp"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/types"
)

// AuditLogger logs every request and response at debug level. Prompt bodies
// are truncated so audit trails do not leak full row contents at scale.
type AuditLogger struct {
	maxChars int
}

// NewAuditLogger builds an audit middleware. maxChars <= 0 means a 200-rune
// truncation.
func NewAuditLogger(maxChars int) *AuditLogger {
	if maxChars <= 0 {
		maxChars = 200
	}
	return &AuditLogger{maxChars: maxChars}
}

func (a *AuditLogger) Name() string { return "audit_logger" }

func (a *AuditLogger) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	log.Debug("llm request",
		zap.String("user_prompt", truncate(req.UserPrompt, a.maxChars)),
		zap.Any("metadata", req.Metadata))
	return req, nil
}

func (a *AuditLogger) AfterResponse(_ context.Context, _ *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	log.Debug("llm response",
		zap.String("content", truncate(resp.Content, a.maxChars)),
		zap.Any("metrics", resp.Metrics))
	return resp, nil
}

func (a *AuditLogger) OnRetryExhausted(_ context.Context, req *types.LLMRequest, err error) {
	log.Warn("llm retries exhausted",
		zap.String("user_prompt", truncate(req.UserPrompt, a.maxChars)),
		zap.Error(err))
}

// HealthMonitor tracks call outcomes across the run. It owns its lock;
// the executor calls it from many workers.
type HealthMonitor struct {
	mu        sync.Mutex
	requests  int
	successes int
	failures  int
}

// NewHealthMonitor builds an idle monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{}
}

func (h *HealthMonitor) Name() string { return "health_monitor" }

func (h *HealthMonitor) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	h.mu.Lock()
	h.requests++
	h.mu.Unlock()
	return req, nil
}

func (h *HealthMonitor) AfterResponse(_ context.Context, _ *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error) {
	h.mu.Lock()
	h.successes++
	h.mu.Unlock()
	return resp, nil
}

func (h *HealthMonitor) OnRetryExhausted(_ context.Context, _ *types.LLMRequest, _ error) {
	h.mu.Lock()
	h.failures++
	h.mu.Unlock()
}

// Snapshot returns current counters.
func (h *HealthMonitor) Snapshot() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return map[string]int{
		"requests":  h.requests,
		"successes": h.successes,
		"failures":  h.failures,
	}
}

// PromptShield rejects requests whose prompts match any configured pattern.
// It guards against templating bugs leaking markers or secrets upstream.
type PromptShield struct {
	patterns []*regexp.Regexp
}

// NewPromptShield compiles the deny patterns.
func NewPromptShield(patterns []string) (*PromptShield, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile shield pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return &PromptShield{patterns: compiled}, nil
}

func (s *PromptShield) Name() string { return "prompt_shield" }

func (s *PromptShield) BeforeRequest(_ context.Context, req *types.LLMRequest) (*types.LLMRequest, error) {
	for _, re := range s.patterns {
		if re.MatchString(req.UserPrompt) || re.MatchString(req.SystemPrompt) {
			return nil, fmt.Errorf("prompt matches blocked pattern %q", re.String())
		}
	}
	return req, nil
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
