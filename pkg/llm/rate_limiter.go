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
	"sync"
	"time"

	"github.com/teradata-labs/weft/pkg/types"
)

// RateLimiter throttles outbound LLM calls. Acquire blocks cooperatively
// until capacity exists and returns a release func that must run on every
// exit path, including panics.
type RateLimiter interface {
	Acquire(ctx context.Context, hints map[string]interface{}) (release func(), err error)

	// Utilization reports current load in [0,1]; the producer backpressure
	// gate pauses row dispatch above its configured threshold.
	Utilization() float64

	// UpdateUsage records actual consumption after a response, letting
	// token-based limiters correct their window.
	UpdateUsage(resp *types.LLMResponse, metadata map[string]interface{})
}

// NoopLimiter never blocks.
type NoopLimiter struct{}

func (NoopLimiter) Acquire(context.Context, map[string]interface{}) (func(), error) {
	return func() {}, nil
}

func (NoopLimiter) Utilization() float64 { return 0 }

func (NoopLimiter) UpdateUsage(*types.LLMResponse, map[string]interface{}) {}

// FixedWindowLimiter allows at most maxRequests per interval. The window is
// anchored to the first request inside it.
type FixedWindowLimiter struct {
	maxRequests int
	interval    time.Duration

	mu          sync.Mutex
	windowStart time.Time
	count       int

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewFixedWindowLimiter builds a fixed-window limiter. maxRequests < 1 or a
// non-positive interval disables throttling.
func NewFixedWindowLimiter(maxRequests int, interval time.Duration) *FixedWindowLimiter {
	return &FixedWindowLimiter{
		maxRequests: maxRequests,
		interval:    interval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func (l *FixedWindowLimiter) Acquire(ctx context.Context, _ map[string]interface{}) (func(), error) {
	if l.maxRequests < 1 || l.interval <= 0 {
		return func() {}, nil
	}
	for {
		l.mu.Lock()
		now := l.now()
		if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.interval {
			l.windowStart = now
			l.count = 0
		}
		if l.count < l.maxRequests {
			l.count++
			l.mu.Unlock()
			return func() {}, nil
		}
		wait := l.interval - now.Sub(l.windowStart)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (l *FixedWindowLimiter) Utilization() float64 {
	if l.maxRequests < 1 {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.windowStart.IsZero() && l.now().Sub(l.windowStart) >= l.interval {
		return 0
	}
	return float64(l.count) / float64(l.maxRequests)
}

func (l *FixedWindowLimiter) UpdateUsage(*types.LLMResponse, map[string]interface{}) {}

// AdaptiveLimiter throttles on requests per minute and, optionally, tokens
// per minute. Both limits use a trimmed sliding window of timestamped
// entries. Token accounting is pessimistic at acquire time (the
// estimated_tokens hint) and corrected by UpdateUsage.
type AdaptiveLimiter struct {
	requestsPerMinute int
	tokensPerMinute   int

	mu       sync.Mutex
	requests []time.Time
	tokens   []tokenEntry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type tokenEntry struct {
	at    time.Time
	count int
}

const limiterWindow = time.Minute

// NewAdaptiveLimiter builds an adaptive limiter. tokensPerMinute of 0
// disables the token limit.
func NewAdaptiveLimiter(requestsPerMinute, tokensPerMinute int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		requestsPerMinute: requestsPerMinute,
		tokensPerMinute:   tokensPerMinute,
		now:               time.Now,
		sleep:             sleepCtx,
	}
}

func (l *AdaptiveLimiter) Acquire(ctx context.Context, hints map[string]interface{}) (func(), error) {
	estimated := tokenHint(hints)
	for {
		l.mu.Lock()
		now := l.now()
		l.trim(now)

		requestsOK := l.requestsPerMinute < 1 || len(l.requests) < l.requestsPerMinute
		tokensOK := l.tokensPerMinute < 1 || l.tokenTotal()+estimated <= l.tokensPerMinute
		// A request estimated above the whole budget can never fit; admit it
		// alone once the window drains rather than blocking forever.
		if !tokensOK && estimated > l.tokensPerMinute && l.tokenTotal() == 0 {
			tokensOK = true
		}
		if requestsOK && tokensOK {
			l.requests = append(l.requests, now)
			if l.tokensPerMinute > 0 && estimated > 0 {
				l.tokens = append(l.tokens, tokenEntry{at: now, count: estimated})
			}
			l.mu.Unlock()
			return func() {}, nil
		}

		wait := l.nextExpiry(now)
		l.mu.Unlock()

		if err := l.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

func (l *AdaptiveLimiter) Utilization() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.now())

	var u float64
	if l.requestsPerMinute > 0 {
		u = float64(len(l.requests)) / float64(l.requestsPerMinute)
	}
	if l.tokensPerMinute > 0 {
		if t := float64(l.tokenTotal()) / float64(l.tokensPerMinute); t > u {
			u = t
		}
	}
	if u > 1 {
		u = 1
	}
	return u
}

// UpdateUsage replaces the most recent estimate with actual token counts
// when the response reports them.
func (l *AdaptiveLimiter) UpdateUsage(resp *types.LLMResponse, _ map[string]interface{}) {
	if l.tokensPerMinute < 1 || resp == nil {
		return
	}
	actual := int(resp.Metrics["input_tokens"] + resp.Metrics["output_tokens"])
	if actual <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.tokens); n > 0 {
		l.tokens[n-1].count = actual
	} else {
		l.tokens = append(l.tokens, tokenEntry{at: l.now(), count: actual})
	}
}

// trim drops entries older than the window. Callers hold the lock.
func (l *AdaptiveLimiter) trim(now time.Time) {
	cutoff := now.Add(-limiterWindow)
	i := 0
	for i < len(l.requests) && l.requests[i].Before(cutoff) {
		i++
	}
	l.requests = l.requests[i:]
	j := 0
	for j < len(l.tokens) && l.tokens[j].at.Before(cutoff) {
		j++
	}
	l.tokens = l.tokens[j:]
}

func (l *AdaptiveLimiter) tokenTotal() int {
	total := 0
	for _, e := range l.tokens {
		total += e.count
	}
	return total
}

// nextExpiry returns the wait until the oldest window entry falls out.
// Callers hold the lock.
func (l *AdaptiveLimiter) nextExpiry(now time.Time) time.Duration {
	oldest := now
	if len(l.requests) > 0 && l.requests[0].Before(oldest) {
		oldest = l.requests[0]
	}
	if len(l.tokens) > 0 && l.tokens[0].at.Before(oldest) {
		oldest = l.tokens[0].at
	}
	wait := oldest.Add(limiterWindow).Sub(now)
	if wait < 10*time.Millisecond {
		wait = 10 * time.Millisecond
	}
	return wait
}

func tokenHint(hints map[string]interface{}) int {
	switch v := hints["estimated_tokens"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
