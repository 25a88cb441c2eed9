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

package sinks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/types"
)

// JSONLConfig configures the JSONL result sink.
type JSONLConfig struct {
	Path string
	// IncludeFailures appends one object per failure after the records.
	IncludeFailures bool
	SecurityLevel   string
}

// JSONLSink writes one JSON object per record. Each object carries the row
// values, the response text (per criterion when criteria are configured) and
// the record metrics.
type JSONLSink struct {
	cfg      JSONLConfig
	artifact *artifacts.Artifact
}

func NewJSONLSink(cfg JSONLConfig) (*JSONLSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("jsonl sink requires a path")
	}
	return &JSONLSink{cfg: cfg}, nil
}

func (s *JSONLSink) Name() string { return "jsonl" }

func (s *JSONLSink) Produces() []artifacts.Descriptor {
	return []artifacts.Descriptor{{
		Name:          "results_jsonl",
		Type:          "file/jsonl",
		Persist:       true,
		SecurityLevel: s.cfg.SecurityLevel,
	}}
}

func (s *JSONLSink) Write(payload *types.Payload, metadata types.Metadata) error {
	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create sink directory: %w", err)
	}
	file, err := os.Create(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to create jsonl output: %w", err)
	}
	defer func() { _ = file.Close() }()

	encoder := json.NewEncoder(file)
	lines := 0
	for i := range payload.Results {
		record := &payload.Results[i]
		entry := map[string]interface{}{
			"row":     record.Row.Values,
			"metrics": record.Metrics,
		}
		if record.Response != nil {
			entry["response"] = record.Response.Content
		}
		if len(record.ResponseOrder) > 0 {
			responses := make(map[string]string, len(record.ResponseOrder))
			for _, name := range record.ResponseOrder {
				if resp := record.Responses[name]; resp != nil {
					responses[name] = resp.Content
				}
			}
			entry["responses"] = responses
		}
		if record.Retry != nil && record.Retry.Attempts > 1 {
			entry["attempts"] = record.Retry.Attempts
		}
		if err := encoder.Encode(entry); err != nil {
			return fmt.Errorf("failed to encode jsonl record: %w", err)
		}
		lines++
	}

	if s.cfg.IncludeFailures {
		for i := range payload.Failures {
			failure := &payload.Failures[i]
			entry := map[string]interface{}{
				"row":        failure.Row.Values,
				"error":      failure.Error,
				"error_type": failure.ErrorType,
			}
			if err := encoder.Encode(entry); err != nil {
				return fmt.Errorf("failed to encode jsonl failure: %w", err)
			}
			lines++
		}
	}

	s.artifact = &artifacts.Artifact{
		Type:          "file/jsonl",
		Path:          s.cfg.Path,
		Persist:       true,
		Metadata:      map[string]interface{}{"lines": lines},
		SecurityLevel: s.cfg.SecurityLevel,
	}
	return nil
}

func (s *JSONLSink) CollectArtifacts() map[string]*artifacts.Artifact {
	if s.artifact == nil {
		return nil
	}
	return map[string]*artifacts.Artifact{"results_jsonl": s.artifact}
}
