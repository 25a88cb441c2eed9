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

package plugins

import (
	"fmt"
	"time"

	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/llm"
)

const thresholdHaltSchema = `{
	"type": "object",
	"properties": {
		"metric": {"type": "string"},
		"threshold": {"type": "number"},
		"comparison": {"type": "string", "enum": ["gte", "gt", "lte", "lt"]},
		"min_rows": {"type": "integer", "minimum": 0}
	},
	"required": ["metric", "threshold"],
	"additionalProperties": false
}`

func registerHalts(r *Registry) {
	r.Halts.Register("threshold", thresholdHaltSchema, func(options map[string]interface{}) (engine.HaltCondition, error) {
		return engine.ThresholdHaltFromOptions(options)
	})
}

const fixedWindowSchema = `{
	"type": "object",
	"properties": {
		"max_requests": {"type": "integer", "minimum": 1},
		"interval": {"type": "string"}
	},
	"required": ["max_requests"],
	"additionalProperties": false
}`

const adaptiveSchema = `{
	"type": "object",
	"properties": {
		"requests_per_minute": {"type": "integer", "minimum": 0},
		"tokens_per_minute": {"type": "integer", "minimum": 0}
	},
	"additionalProperties": false
}`

func registerControls(r *Registry) {
	r.RateLimiters.Register("noop", "", func(map[string]interface{}) (llm.RateLimiter, error) {
		return llm.NoopLimiter{}, nil
	})
	r.RateLimiters.Register("fixed_window", fixedWindowSchema, func(options map[string]interface{}) (llm.RateLimiter, error) {
		maxRequests := intOption(options, "max_requests", 0)
		interval := time.Minute
		if raw, ok := options["interval"].(string); ok && raw != "" {
			parsed, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid interval: %w", err)
			}
			interval = parsed
		}
		return llm.NewFixedWindowLimiter(maxRequests, interval), nil
	})
	r.RateLimiters.Register("adaptive", adaptiveSchema, func(options map[string]interface{}) (llm.RateLimiter, error) {
		return llm.NewAdaptiveLimiter(
			intOption(options, "requests_per_minute", 0),
			intOption(options, "tokens_per_minute", 0),
		), nil
	})

	r.CostTrackers.Register("noop", "", func(map[string]interface{}) (llm.CostTracker, error) {
		return llm.NoopTracker{}, nil
	})
	r.CostTrackers.Register("fixed_price", `{
		"type": "object",
		"properties": {
			"input_per_1k": {"type": "number", "minimum": 0},
			"output_per_1k": {"type": "number", "minimum": 0}
		},
		"additionalProperties": false
	}`, func(options map[string]interface{}) (llm.CostTracker, error) {
		return llm.NewFixedPriceTracker(
			floatOption(options, "input_per_1k", 0),
			floatOption(options, "output_per_1k", 0),
		), nil
	})
}

const promptShieldSchema = `{
	"type": "object",
	"properties": {
		"patterns": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["patterns"],
	"additionalProperties": false
}`

func registerMiddlewares(r *Registry) {
	r.Middlewares.Register("audit_logger", `{
		"type": "object",
		"properties": {"max_chars": {"type": "integer", "minimum": 1}},
		"additionalProperties": false
	}`, func(options map[string]interface{}) (llm.Middleware, error) {
		return llm.NewAuditLogger(intOption(options, "max_chars", 0)), nil
	})
	r.Middlewares.Register("health_monitor", "", func(map[string]interface{}) (llm.Middleware, error) {
		return llm.NewHealthMonitor(), nil
	})
	r.Middlewares.Register("prompt_shield", promptShieldSchema, func(options map[string]interface{}) (llm.Middleware, error) {
		raw, _ := options["patterns"].([]interface{})
		patterns := make([]string, 0, len(raw))
		for _, p := range raw {
			if s, ok := p.(string); ok {
				patterns = append(patterns, s)
			}
		}
		return llm.NewPromptShield(patterns)
	})
}

func intOption(options map[string]interface{}, key string, fallback int) int {
	if v, ok := toFloat(options[key]); ok {
		return int(v)
	}
	return fallback
}

func floatOption(options map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := toFloat(options[key]); ok {
		return v
	}
	return fallback
}
