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

	"github.com/teradata-labs/weft/pkg/types"
)

// Middleware observes or rewrites traffic between the executor and the
// client. BeforeRequest runs in registration order; implementations that
// modify the request must return a clone rather than mutate the input.
//
// Middlewares opt into further hooks by implementing the optional
// interfaces below; the executor and orchestrator probe with type
// assertions.
type Middleware interface {
	Name() string
	BeforeRequest(ctx context.Context, req *types.LLMRequest) (*types.LLMRequest, error)
}

// ResponseInterceptor receives responses in reverse registration order,
// mirroring the request chain. An interceptor may return a derived response,
// which replaces the original for the rest of the chain; returning nil keeps
// the current response.
type ResponseInterceptor interface {
	AfterResponse(ctx context.Context, req *types.LLMRequest, resp *types.LLMResponse) (*types.LLMResponse, error)
}

// RetryExhaustedHook is notified when every attempt for one call failed.
// Hook panics and errors are isolated so they cannot mask the original
// failure.
type RetryExhaustedHook interface {
	OnRetryExhausted(ctx context.Context, req *types.LLMRequest, err error)
}

// SuiteObserver receives orchestrator lifecycle callbacks. All methods are
// optional as a set; a middleware implements the whole interface or none of
// it. The preflight map carries at least experiment_count and, under the
// experimental strategy, the baseline cycle name.
type SuiteObserver interface {
	OnSuiteLoaded(suite string, cycles []string, preflight map[string]interface{})
	OnExperimentStart(cycle string, metadata map[string]interface{})
	OnExperimentComplete(cycle string, payload *types.Payload)
	OnBaselineComparison(cycle string, comparisons map[string]map[string]interface{})
	OnSuiteComplete(results map[string]*types.Payload)
}
