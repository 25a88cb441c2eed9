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

// Package llm defines the client contract, the retrying executor that wraps
// it, and the middleware, rate-limiting and cost-tracking collaborators the
// executor coordinates per call.
package llm

import (
	"context"

	"github.com/teradata-labs/weft/pkg/types"
)

// Client is a provider-agnostic LLM. Implementations must be safe for
// concurrent use; the parallel runner shares one client across workers.
type Client interface {
	// Generate sends one prompt pair and returns the normalized response.
	// Metadata is advisory (cycle name, row index, attempt number) and may
	// influence provider options.
	Generate(ctx context.Context, systemPrompt, userPrompt string, metadata map[string]interface{}) (*types.LLMResponse, error)

	// Name identifies the client in logs and cost summaries.
	Name() string
}
