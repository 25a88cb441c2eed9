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

const scoreStatsSchema = `{
	"type": "object",
	"properties": {
		"metric": {"type": "string"}
	},
	"additionalProperties": false
}`

// scoreStats summarizes one numeric record metric across the cycle.
type scoreStats struct {
	metric string
}

func newScoreStats(options map[string]interface{}) (engine.AggregationPlugin, error) {
	metric, _ := options["metric"].(string)
	if metric == "" {
		metric = "score"
	}
	return &scoreStats{metric: metric}, nil
}

func (s *scoreStats) Name() string { return "score_stats" }

// Aggregate returns count/mean/min/max over records carrying the metric.
// Records without the metric are ignored; an empty result means no record
// had it.
func (s *scoreStats) Aggregate(records []*types.Record) map[string]interface{} {
	var values []float64
	for _, record := range records {
		if v, ok := toFloat(record.Metrics[s.metric]); ok {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}

	min, max, sum := values[0], values[0], 0.0
	for _, v := range values {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		sum += v
	}
	return map[string]interface{}{
		"metric": s.metric,
		"count":  len(values),
		"mean":   sum / float64(len(values)),
		"min":    min,
		"max":    max,
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func registerAggregations(r *Registry) {
	r.Aggregations.Register("score_stats", scoreStatsSchema, newScoreStats)
}
