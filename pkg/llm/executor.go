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
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/types"
)

// RetryExhaustedError reports that every attempt for one logical call
// failed. Err is the last attempt's error.
type RetryExhaustedError struct {
	Attempts    int
	MaxAttempts int
	History     []types.AttemptRecord
	Err         error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("llm call failed after %d/%d attempts: %v", e.Attempts, e.MaxAttempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// ExecutorConfig wires the executor's collaborators. Zero-value fields get
// safe no-op defaults.
type ExecutorConfig struct {
	Cycle       string
	Retry       config.RetryConfig
	Middlewares []Middleware
	RateLimiter RateLimiter
	CostTracker CostTracker
	// Estimator, when set, supplies the estimated_tokens hint handed to the
	// rate limiter before each call.
	Estimator *TokenEstimator
}

// Executor wraps a Client with retries, middleware chaining, rate limiting
// and cost tracking. It is safe for concurrent use when its collaborators
// are.
type Executor struct {
	client      Client
	cycle       string
	retry       config.RetryConfig
	middlewares []Middleware
	limiter     RateLimiter
	tracker     CostTracker
	estimator   *TokenEstimator

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewExecutor builds an executor around a client.
func NewExecutor(client Client, cfg ExecutorConfig) *Executor {
	e := &Executor{
		client:      client,
		cycle:       cfg.Cycle,
		retry:       cfg.Retry,
		middlewares: cfg.Middlewares,
		limiter:     cfg.RateLimiter,
		tracker:     cfg.CostTracker,
		estimator:   cfg.Estimator,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	if e.retry.MaxAttempts < 1 {
		e.retry.MaxAttempts = 1
	}
	if e.limiter == nil {
		e.limiter = NoopLimiter{}
	}
	if e.tracker == nil {
		e.tracker = NoopTracker{}
	}
	return e
}

// Execute runs one logical LLM call under the retry policy. On success the
// response carries retry info and an attempts_used metric. On exhaustion the
// returned error is a *RetryExhaustedError wrapping the last failure.
func (e *Executor) Execute(ctx context.Context, systemPrompt, userPrompt string, metadata map[string]interface{}) (*types.LLMResponse, error) {
	maxAttempts := e.retry.MaxAttempts
	delay := e.retry.InitialDelay
	history := make([]types.AttemptRecord, 0, maxAttempts)

	var lastReq *types.LLMRequest
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req := e.buildRequest(systemPrompt, userPrompt, metadata, attempt)
		lastReq = req

		started := e.now()
		resp, err := e.attempt(ctx, req)
		elapsed := e.now().Sub(started)

		if err == nil {
			history = append(history, types.AttemptRecord{
				Attempt:  attempt,
				Status:   types.AttemptSuccess,
				Duration: elapsed,
			})
			resp.SetMetric("attempts_used", float64(attempt))
			resp.Retry = &types.RetryInfo{
				Attempts:    attempt,
				MaxAttempts: maxAttempts,
				History:     history,
			}
			e.limiter.UpdateUsage(resp, req.Metadata)
			return resp, nil
		}

		lastErr = err
		record := types.AttemptRecord{
			Attempt:   attempt,
			Status:    types.AttemptError,
			Duration:  elapsed,
			Error:     err.Error(),
			ErrorType: fmt.Sprintf("%T", err),
		}

		if attempt < maxAttempts {
			record.NextDelay = delay
			history = append(history, record)
			log.Debug("llm attempt failed, retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Duration("delay", delay),
				zap.Error(err))
			if delay > 0 {
				if serr := e.sleep(ctx, delay); serr != nil {
					return nil, serr
				}
			}
			delay = e.nextDelay(delay)
			continue
		}

		history = append(history, record)
	}

	exhausted := &RetryExhaustedError{
		Attempts:    maxAttempts,
		MaxAttempts: maxAttempts,
		History:     history,
		Err:         lastErr,
	}
	e.notifyRetryExhausted(ctx, lastReq, exhausted)
	return nil, exhausted
}

// attempt runs one request through the middleware chain, the rate-limit
// gate, the client and the cost tracker.
func (e *Executor) attempt(ctx context.Context, req *types.LLMRequest) (resp *types.LLMResponse, err error) {
	for _, mw := range e.middlewares {
		req, err = mw.BeforeRequest(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("middleware %s rejected request: %w", mw.Name(), err)
		}
	}

	release, err := e.limiter.Acquire(ctx, e.hints(req))
	if err != nil {
		return nil, fmt.Errorf("failed to acquire rate-limit permit: %w", err)
	}
	defer release()

	resp, err = e.client.Generate(ctx, req.SystemPrompt, req.UserPrompt, req.Metadata)
	if err != nil {
		return nil, err
	}

	// Response chain runs LIFO, mirroring the request chain. A returned
	// derived response replaces the original for downstream interceptors.
	for i := len(e.middlewares) - 1; i >= 0; i-- {
		interceptor, ok := e.middlewares[i].(ResponseInterceptor)
		if !ok {
			continue
		}
		derived, err := interceptor.AfterResponse(ctx, req, resp)
		if err != nil {
			return nil, fmt.Errorf("middleware %s rejected response: %w", e.middlewares[i].Name(), err)
		}
		if derived != nil {
			resp = derived
		}
	}

	for name, value := range e.tracker.Record(resp, req.Metadata) {
		resp.SetMetric(name, value)
	}
	return resp, nil
}

func (e *Executor) buildRequest(systemPrompt, userPrompt string, metadata map[string]interface{}, attempt int) *types.LLMRequest {
	meta := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		meta[k] = v
	}
	meta["attempt"] = attempt
	meta["cycle_name"] = e.cycle
	return &types.LLMRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Metadata:     meta,
	}
}

// hints builds the rate-limiter hint map from the request scope.
func (e *Executor) hints(req *types.LLMRequest) map[string]interface{} {
	hints := make(map[string]interface{}, len(req.Metadata)+2)
	for k, v := range req.Metadata {
		hints[k] = v
	}
	hints["experiment"] = e.cycle
	if e.estimator != nil {
		hints["estimated_tokens"] = e.estimator.Estimate(req.SystemPrompt, req.UserPrompt)
	}
	return hints
}

// nextDelay applies the backoff schedule: the delay grows by the multiplier,
// seeding from the multiplier itself (in seconds) when no initial delay was
// configured.
func (e *Executor) nextDelay(delay time.Duration) time.Duration {
	if e.retry.Backoff <= 0 {
		return delay
	}
	if delay == 0 {
		return time.Duration(e.retry.Backoff * float64(time.Second))
	}
	return time.Duration(float64(delay) * e.retry.Backoff)
}

// notifyRetryExhausted invokes hooks in isolation so a misbehaving
// middleware cannot mask the original error.
func (e *Executor) notifyRetryExhausted(ctx context.Context, req *types.LLMRequest, err error) {
	for _, mw := range e.middlewares {
		hook, ok := mw.(RetryExhaustedHook)
		if !ok {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Warn("middleware panicked in retry-exhausted hook",
						zap.String("middleware", mw.Name()),
						zap.Any("panic", r))
				}
			}()
			hook.OnRetryExhausted(ctx, req, err)
		}()
	}
}
