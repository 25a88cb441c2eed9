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

// Package engine runs one cycle: it schedules rows over the LLM executor,
// applies plugins, maintains checkpoints and halt conditions, and hands the
// assembled payload to the artifact pipeline.
package engine

import (
	"github.com/teradata-labs/weft/pkg/types"
)

// TransformPlugin post-processes one successful row. Responses is keyed by
// criterion name, or holds a single "default" entry when no criteria are
// configured. Returned fields merge into the record's metrics.
type TransformPlugin interface {
	Name() string
	Transform(row types.Row, responses map[string]*types.LLMResponse) (map[string]interface{}, error)
}

// AggregationPlugin reduces all successful records of a cycle, in input
// order, to a named aggregate block.
type AggregationPlugin interface {
	Name() string
	Aggregate(records []*types.Record) map[string]interface{}
}

// ComparisonPlugin diffs a variant payload against the baseline payload.
// An empty result means no reportable difference.
type ComparisonPlugin interface {
	Name() string
	Compare(baseline, variant *types.Payload) map[string]interface{}
}

// HaltCondition decides whether a cycle should stop early. Check returns a
// non-empty reason map to trigger the halt. Implementations need not be
// thread-safe; the runner serializes calls under its pipeline lock.
type HaltCondition interface {
	Name() string
	Reset()
	Check(record *types.Record, metadata map[string]interface{}) map[string]interface{}
}
