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
	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/types"
)

// rowCount reports the result-count delta of a variant vs. the baseline.
type rowCount struct{}

func newRowCount(map[string]interface{}) (engine.ComparisonPlugin, error) {
	return rowCount{}, nil
}

func (rowCount) Name() string { return "row_count" }

func (rowCount) Compare(baseline, variant *types.Payload) map[string]interface{} {
	return map[string]interface{}{
		"row_delta": len(variant.Results) - len(baseline.Results),
	}
}

const scoreDeltaSchema = `{
	"type": "object",
	"properties": {
		"metric": {"type": "string"}
	},
	"additionalProperties": false
}`

// scoreDelta compares the mean of a record metric between payloads.
type scoreDelta struct {
	metric string
}

func newScoreDelta(options map[string]interface{}) (engine.ComparisonPlugin, error) {
	metric, _ := options["metric"].(string)
	if metric == "" {
		metric = "score"
	}
	return &scoreDelta{metric: metric}, nil
}

func (s *scoreDelta) Name() string { return "score_delta" }

// Compare is empty when neither payload carries the metric.
func (s *scoreDelta) Compare(baseline, variant *types.Payload) map[string]interface{} {
	baseMean, baseOK := meanMetric(baseline, s.metric)
	varMean, varOK := meanMetric(variant, s.metric)
	if !baseOK && !varOK {
		return nil
	}
	out := map[string]interface{}{"metric": s.metric}
	if baseOK {
		out["baseline_mean"] = baseMean
	}
	if varOK {
		out["variant_mean"] = varMean
	}
	if baseOK && varOK {
		out["delta"] = varMean - baseMean
	}
	return out
}

func meanMetric(payload *types.Payload, metric string) (float64, bool) {
	sum, n := 0.0, 0
	for i := range payload.Results {
		if v, ok := toFloat(payload.Results[i].Metrics[metric]); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func registerComparisons(r *Registry) {
	r.Comparisons.Register("row_count", "", newRowCount)
	r.Comparisons.Register("score_delta", scoreDeltaSchema, newScoreDelta)
}
