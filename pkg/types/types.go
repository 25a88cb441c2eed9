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

// Package types contains the shared data model used across the weft engine.
// It is a leaf package: pkg/engine, pkg/llm, pkg/artifacts and the sinks all
// depend on these types, so keeping them here breaks import cycles.
package types

import (
	"time"
)

// Row is an ordered mapping from field name to value, derived from one
// tabular input record. It is immutable after construction; Fields preserves
// the source column order (optionally restricted to a declared subset).
type Row struct {
	Fields []string
	Values map[string]interface{}
}

// NewRow builds a Row from ordered fields and their values.
func NewRow(fields []string, values map[string]interface{}) Row {
	f := make([]string, len(fields))
	copy(f, fields)
	v := make(map[string]interface{}, len(values))
	for k, val := range values {
		v[k] = val
	}
	return Row{Fields: f, Values: v}
}

// Get returns the value for a field, or nil when absent.
func (r Row) Get(field string) interface{} {
	return r.Values[field]
}

// Context returns the row as a plain map for template rendering.
func (r Row) Context() map[string]interface{} {
	out := make(map[string]interface{}, len(r.Values))
	for k, v := range r.Values {
		out[k] = v
	}
	return out
}

// LLMRequest is a single request handed to the LLM client. Middlewares may
// derive modified copies via Clone.
type LLMRequest struct {
	SystemPrompt string
	UserPrompt   string
	Metadata     map[string]interface{}
}

// Clone returns a copy with an independent metadata map.
func (r *LLMRequest) Clone() *LLMRequest {
	meta := make(map[string]interface{}, len(r.Metadata))
	for k, v := range r.Metadata {
		meta[k] = v
	}
	return &LLMRequest{
		SystemPrompt: r.SystemPrompt,
		UserPrompt:   r.UserPrompt,
		Metadata:     meta,
	}
}

// LLMResponse is the normalized response from an LLM client.
type LLMResponse struct {
	// Content is the text response.
	Content string

	// Metrics carries numeric measurements (token counts, cost, attempts).
	Metrics map[string]float64

	// Raw is the provider-specific response, kept opaque for cost trackers.
	Raw interface{}

	// Retry is attached by the executor after a successful call.
	Retry *RetryInfo
}

// SetMetric records a metric, allocating the map on first use.
func (r *LLMResponse) SetMetric(name string, value float64) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]float64)
	}
	r.Metrics[name] = value
}

// AttemptStatus is the terminal state of one executor attempt.
type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// AttemptRecord describes one attempt inside a retry loop.
type AttemptRecord struct {
	Attempt   int
	Status    AttemptStatus
	Duration  time.Duration
	Error     string
	ErrorType string
	NextDelay time.Duration
}

// RetryInfo summarizes the retry loop for one logical LLM call.
// Invariant: len(History) == Attempts, and the last entry's status matches
// the terminal outcome.
type RetryInfo struct {
	Attempts    int
	MaxAttempts int
	History     []AttemptRecord
}

// Record is a successful row result. It is created by the row processor and
// mutated only by transform plugins appending to Metrics.
type Record struct {
	Row       Row
	Response  *LLMResponse
	Responses map[string]*LLMResponse

	// ResponseOrder preserves the declared criteria order for Responses.
	ResponseOrder []string

	Metrics       map[string]interface{}
	Retry         *RetryInfo
	SecurityLevel string
}

// SetMetric records a derived metric on the record.
func (r *Record) SetMetric(name string, value interface{}) {
	if r.Metrics == nil {
		r.Metrics = make(map[string]interface{})
	}
	r.Metrics[name] = value
}

// Failure is a terminal per-row failure; it never becomes a Record.
type Failure struct {
	Row       Row
	Error     string
	ErrorType string
	Timestamp time.Time
	Retry     *RetryInfo
}

// Metadata is the free-form metadata block attached to a payload and handed
// to sinks and middlewares.
type Metadata map[string]interface{}

// Payload is the final output of one cycle.
type Payload struct {
	Results     []Record
	Failures    []Failure
	Aggregates  map[string]map[string]interface{}
	CostSummary map[string]interface{}
	EarlyStop   map[string]interface{}
	Metadata    Metadata
}
