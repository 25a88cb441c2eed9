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

package engine

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/types"
)

// HaltCoordinator serializes halt-condition evaluation. The first plugin to
// return a reason sets the one-way halt signal; later checks are no-ops.
// Callers hold the runner's pipeline lock; Halted alone is safe to poll
// through the runner's stop channel.
type HaltCoordinator struct {
	plugins []HaltCondition
	halted  bool
	reason  map[string]interface{}
	stop    chan struct{}
}

// NewHaltCoordinator resets all plugins and arms the signal.
func NewHaltCoordinator(plugins []HaltCondition) *HaltCoordinator {
	c := &HaltCoordinator{plugins: plugins, stop: make(chan struct{})}
	for _, p := range plugins {
		p.Reset()
	}
	return c
}

// Stop exposes the halt signal channel; it closes when a halt fires.
func (c *HaltCoordinator) Stop() <-chan struct{} {
	return c.stop
}

// Halted reports whether the signal fired.
func (c *HaltCoordinator) Halted() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// Reason returns the recorded halt reason, or nil.
func (c *HaltCoordinator) Reason() map[string]interface{} {
	return c.reason
}

// CheckRecord runs every plugin against an accepted record. A plugin panic
// is swallowed with a warning so the remaining plugins still run.
func (c *HaltCoordinator) CheckRecord(record *types.Record, rowIndex int) {
	if c.halted {
		return
	}
	metadata := map[string]interface{}{"row_index": rowIndex}
	for _, plugin := range c.plugins {
		reason := c.checkOne(plugin, record, metadata)
		if len(reason) == 0 {
			continue
		}
		merged := make(map[string]interface{}, len(reason)+len(metadata)+1)
		for k, v := range reason {
			merged[k] = v
		}
		for k, v := range metadata {
			merged[k] = v
		}
		merged["plugin"] = plugin.Name()

		c.halted = true
		c.reason = merged
		close(c.stop)
		log.Info("halt condition triggered",
			zap.String("plugin", plugin.Name()),
			zap.Int("row_index", rowIndex))
		return
	}
}

func (c *HaltCoordinator) checkOne(plugin HaltCondition, record *types.Record, metadata map[string]interface{}) (reason map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("halt condition plugin panicked",
				zap.String("plugin", plugin.Name()),
				zap.Any("panic", r))
			reason = nil
		}
	}()
	return plugin.Check(record, metadata)
}

// ThresholdHalt stops a cycle when a numeric metric crosses a threshold.
// Metric is a dot path resolved against the record's metrics, falling back
// to the response's metrics for the leaf key.
type ThresholdHalt struct {
	Metric     string
	Threshold  float64
	Comparison string // gte (default), gt, lte, lt
	MinRows    int

	observed int
}

// NewThresholdHalt validates the comparison operator.
func NewThresholdHalt(metric string, threshold float64, comparison string, minRows int) (*ThresholdHalt, error) {
	if metric == "" {
		return nil, fmt.Errorf("threshold halt requires a metric")
	}
	if comparison == "" {
		comparison = "gte"
	}
	switch comparison {
	case "gte", "gt", "lte", "lt":
	default:
		return nil, fmt.Errorf("threshold halt: unknown comparison %q", comparison)
	}
	return &ThresholdHalt{
		Metric:     metric,
		Threshold:  threshold,
		Comparison: comparison,
		MinRows:    minRows,
	}, nil
}

// ThresholdHaltFromOptions builds the plugin from a shorthand config block.
func ThresholdHaltFromOptions(options map[string]interface{}) (*ThresholdHalt, error) {
	metric, _ := options["metric"].(string)
	threshold, ok := toFloat(options["threshold"])
	if !ok {
		return nil, fmt.Errorf("threshold halt requires a numeric threshold")
	}
	comparison, _ := options["comparison"].(string)
	minRows := 0
	if v, ok := toFloat(options["min_rows"]); ok {
		minRows = int(v)
	}
	return NewThresholdHalt(metric, threshold, comparison, minRows)
}

func (t *ThresholdHalt) Name() string { return "threshold" }

func (t *ThresholdHalt) Reset() { t.observed = 0 }

func (t *ThresholdHalt) Check(record *types.Record, _ map[string]interface{}) map[string]interface{} {
	t.observed++
	value, ok := t.extract(record)
	if !ok {
		return nil
	}
	if t.observed < t.MinRows {
		return nil
	}
	if !t.crossed(value) {
		return nil
	}
	return map[string]interface{}{
		"metric":        t.Metric,
		"threshold":     t.Threshold,
		"value":         value,
		"rows_observed": t.observed,
	}
}

func (t *ThresholdHalt) crossed(value float64) bool {
	switch t.Comparison {
	case "gt":
		return value > t.Threshold
	case "lte":
		return value <= t.Threshold
	case "lt":
		return value < t.Threshold
	default:
		return value >= t.Threshold
	}
}

// extract resolves the metric path against record metrics, then response
// metrics.
func (t *ThresholdHalt) extract(record *types.Record) (float64, bool) {
	parts := strings.Split(t.Metric, ".")

	var current interface{} = record.Metrics
	resolved := true
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			resolved = false
			break
		}
		current, ok = m[part]
		if !ok {
			resolved = false
			break
		}
	}
	if resolved {
		if v, ok := toFloat(current); ok {
			return v, true
		}
	}

	if record.Response != nil {
		leaf := parts[len(parts)-1]
		if v, ok := record.Response.Metrics[leaf]; ok {
			return v, true
		}
	}
	return 0, false
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
