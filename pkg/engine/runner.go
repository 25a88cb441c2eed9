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
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/datasource"
	"github.com/teradata-labs/weft/pkg/llm"
	"github.com/teradata-labs/weft/pkg/prompts"
	"github.com/teradata-labs/weft/pkg/security"
	"github.com/teradata-labs/weft/pkg/types"
)

// RunnerDeps are the collaborators a runner coordinates. The executor must
// already carry the cycle's middlewares, rate limiter and cost tracker.
type RunnerDeps struct {
	Executor     *llm.Executor
	RateLimiter  llm.RateLimiter
	CostTracker  llm.CostTracker
	Transforms   []TransformPlugin
	Aggregations []AggregationPlugin
	Halts        []HaltCondition
	Bindings     []*artifacts.SinkBinding
}

// Runner executes one cycle over a batch.
type Runner struct {
	cfg      *config.CycleConfig
	deps     RunnerDeps
	compiled *prompts.Compiled

	// sleep is the backpressure gate's pause; tests stub it.
	sleep func(ctx context.Context, d time.Duration) error
}

// tuple is one scheduled unit of row work.
type tuple struct {
	index int
	row   types.Row
	rowID string
}

// NewRunner compiles prompts and materializes halt conditions. An explicit
// halt plugin list wins; otherwise a threshold plugin is synthesized from
// the shorthand early_stop block.
func NewRunner(cfg *config.CycleConfig, deps RunnerDeps) (*Runner, error) {
	compiled, err := prompts.CompileCycle(cfg.Name, cfg.Prompts)
	if err != nil {
		return nil, err
	}
	if len(deps.Halts) == 0 && len(cfg.EarlyStop) > 0 {
		halt, err := ThresholdHaltFromOptions(cfg.EarlyStop)
		if err != nil {
			return nil, fmt.Errorf("cycle %q: %w", cfg.Name, err)
		}
		deps.Halts = []HaltCondition{halt}
	}
	return &Runner{
		cfg:      cfg,
		deps:     deps,
		compiled: compiled,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			}
		},
	}, nil
}

// Run processes the batch and returns the cycle payload. Per-row failures
// never abort the cycle; configuration, permission and topology errors do.
func (r *Runner) Run(ctx context.Context, batch *datasource.Batch) (*types.Payload, error) {
	coordinator := NewHaltCoordinator(r.deps.Halts)

	var checkpoint *Checkpoint
	if r.cfg.Checkpoint.Enabled() {
		cp, err := OpenCheckpoint(r.cfg.Checkpoint)
		if err != nil {
			return nil, err
		}
		checkpoint = cp
	}

	securityLevel, err := security.Resolve(r.cfg.SecurityLevel, batch.SecurityLevel)
	if err != nil {
		return nil, err
	}

	processor := NewRowProcessor(r.compiled, r.deps.Executor, r.deps.Transforms, securityLevel)

	backlog := r.buildBacklog(batch, checkpoint, coordinator)

	state := &runState{coordinator: coordinator, checkpoint: checkpoint}
	if r.parallelEnabled(len(backlog)) {
		err = r.runParallel(ctx, backlog, processor, state)
	} else {
		err = r.runSequential(ctx, backlog, processor, state)
	}
	if err != nil {
		return nil, err
	}

	payload := r.assemblePayload(state, securityLevel)

	if len(r.deps.Bindings) > 0 {
		pipeline, err := artifacts.NewPipeline(r.deps.Bindings)
		if err != nil {
			return nil, err
		}
		if err := pipeline.Execute(payload, payload.Metadata); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// buildBacklog restricts rows to the configured fields, skips checkpointed
// ids and stops the moment the halt signal fires.
func (r *Runner) buildBacklog(batch *datasource.Batch, checkpoint *Checkpoint, coordinator *HaltCoordinator) []tuple {
	fields := r.cfg.Prompts.Fields
	backlog := make([]tuple, 0, len(batch.Rows))
	skipped := 0
	for i, row := range batch.Rows {
		if coordinator.Halted() {
			break
		}
		if len(fields) > 0 {
			values := make(map[string]interface{}, len(fields))
			for _, f := range fields {
				if v := row.Get(f); v != nil {
					values[f] = v
				}
			}
			row = types.NewRow(fields, values)
		}
		var rowID string
		if checkpoint != nil {
			rowID = checkpoint.RowID(row)
			if rowID != "" && checkpoint.Seen(rowID) {
				skipped++
				continue
			}
		}
		backlog = append(backlog, tuple{index: i, row: row, rowID: rowID})
	}
	if skipped > 0 {
		log.Info("skipping checkpointed rows",
			zap.String("cycle", r.cfg.Name),
			zap.Int("skipped", skipped))
	}
	return backlog
}

func (r *Runner) parallelEnabled(backlogSize int) bool {
	c := r.cfg.Concurrency
	return c.Mode == "parallel" && c.MaxWorkers > 1 && backlogSize >= c.BacklogThreshold
}

// runState owns the mutable results under one lock. The same lock
// serializes checkpoint writes and halt evaluation so a row id is marked
// processed only after its record is accepted.
type runState struct {
	mu          sync.Mutex
	coordinator *HaltCoordinator
	checkpoint  *Checkpoint

	indexed  []indexedRecord
	failures []types.Failure
}

type indexedRecord struct {
	index  int
	record *types.Record
}

func (s *runState) handleSuccess(t tuple, record *types.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexed = append(s.indexed, indexedRecord{index: t.index, record: record})
	if s.checkpoint != nil && t.rowID != "" {
		if err := s.checkpoint.Mark(t.rowID); err != nil {
			log.Warn("failed to write checkpoint entry", zap.Error(err))
		}
	}
	s.coordinator.CheckRecord(record, t.index)
}

func (s *runState) handleFailure(failure *types.Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, *failure)
}

func (r *Runner) runSequential(ctx context.Context, backlog []tuple, processor *RowProcessor, state *runState) error {
	for _, t := range backlog {
		if state.coordinator.Halted() {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		record, failure := processor.Process(ctx, t.index, t.row)
		if failure != nil {
			state.handleFailure(failure)
			continue
		}
		state.handleSuccess(t, record)
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, backlog []tuple, processor *RowProcessor, state *runState) error {
	c := r.cfg.Concurrency
	work := make(chan tuple)
	var wg sync.WaitGroup

	for i := 0; i < c.MaxWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range work {
				if state.coordinator.Halted() {
					continue
				}
				record, failure := processor.Process(ctx, t.index, t.row)
				if failure != nil {
					state.handleFailure(failure)
					continue
				}
				state.handleSuccess(t, record)
			}
		}()
	}

	// The dispatcher is the only place allowed to block on backpressure:
	// above the utilization threshold it pauses instead of queueing more
	// work behind a saturated rate limiter.
	var dispatchErr error
dispatch:
	for _, t := range backlog {
		if state.coordinator.Halted() {
			break
		}
		for r.deps.RateLimiter != nil && r.deps.RateLimiter.Utilization() >= c.UtilizationPause {
			if state.coordinator.Halted() {
				break dispatch
			}
			if err := r.sleep(ctx, c.PauseInterval); err != nil {
				dispatchErr = err
				break dispatch
			}
		}
		select {
		case work <- t:
		case <-ctx.Done():
			dispatchErr = ctx.Err()
			break dispatch
		}
	}
	close(work)
	wg.Wait()
	return dispatchErr
}

// assemblePayload sorts records into input order and builds the payload and
// its metadata block.
func (r *Runner) assemblePayload(state *runState, securityLevel string) *types.Payload {
	sort.Slice(state.indexed, func(i, j int) bool {
		return state.indexed[i].index < state.indexed[j].index
	})
	records := make([]*types.Record, len(state.indexed))
	results := make([]types.Record, len(state.indexed))
	for i, ir := range state.indexed {
		records[i] = ir.record
		results[i] = *ir.record
	}

	payload := &types.Payload{
		Results:  results,
		Failures: state.failures,
		Metadata: types.Metadata{},
	}

	aggregates := make(map[string]map[string]interface{})
	for _, plugin := range r.deps.Aggregations {
		if result := plugin.Aggregate(records); len(result) > 0 {
			aggregates[plugin.Name()] = result
		}
	}
	if len(aggregates) > 0 {
		payload.Aggregates = aggregates
		payload.Metadata["aggregates"] = aggregates
	}

	payload.Metadata["rows"] = len(results)
	payload.Metadata["row_count"] = len(results)
	payload.Metadata["security_level"] = securityLevel
	if len(state.failures) > 0 {
		payload.Metadata["failures"] = len(state.failures)
	}

	if summary := retrySummary(results, state.failures); summary != nil {
		payload.Metadata["retry_summary"] = summary
	}

	if r.deps.CostTracker != nil {
		if cost := r.deps.CostTracker.Summary(); len(cost) > 0 {
			payload.CostSummary = cost
			payload.Metadata["cost_summary"] = cost
		}
	}

	if reason := state.coordinator.Reason(); reason != nil {
		payload.EarlyStop = reason
		payload.Metadata["early_stop"] = reason
	}
	return payload
}

// retrySummary is present only when at least one record or failure carries
// retry info. A call that succeeded on its first attempt contributes zero
// retries.
func retrySummary(results []types.Record, failures []types.Failure) map[string]interface{} {
	totalRetries := 0
	haveInfo := false
	for i := range results {
		if retry := results[i].Retry; retry != nil && retry.Attempts > 1 {
			haveInfo = true
			totalRetries += retry.Attempts - 1
		}
	}
	for i := range failures {
		if retry := failures[i].Retry; retry != nil {
			haveInfo = true
			if retry.Attempts > 1 {
				totalRetries += retry.Attempts - 1
			}
		}
	}
	if !haveInfo {
		return nil
	}
	return map[string]interface{}{
		"total_requests": len(results) + len(failures),
		"total_retries":  totalRetries,
		"exhausted":      len(failures),
	}
}
