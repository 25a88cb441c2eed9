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

// Package sinks contains the built-in result sinks. They are registered into
// the plugin registry via Register; keeping them out of pkg/plugins keeps the
// storage dependencies (excelize, compress) behind one import.
package sinks

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/types"
)

// CSVConfig configures the CSV result sink.
type CSVConfig struct {
	Path string
	// Fields restricts and orders the row columns; empty means the first
	// record's field order.
	Fields []string
	// OnError selects handling of records missing a configured field:
	// "abort" (default) or "skip".
	OnError       string
	SecurityLevel string
}

// CSVSink writes one line per successful record: the row fields, the response
// text, then the record metrics in sorted column order.
type CSVSink struct {
	cfg      CSVConfig
	artifact *artifacts.Artifact
}

// NewCSVSink validates the config and returns the sink.
func NewCSVSink(cfg CSVConfig) (*CSVSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv sink requires a path")
	}
	switch cfg.OnError {
	case "", "abort", "skip":
	default:
		return nil, fmt.Errorf("csv sink: unknown on_error %q", cfg.OnError)
	}
	return &CSVSink{cfg: cfg}, nil
}

func (s *CSVSink) Name() string { return "csv" }

// Produces declares the results file ahead of execution so downstream sinks
// can order against it.
func (s *CSVSink) Produces() []artifacts.Descriptor {
	return []artifacts.Descriptor{{
		Name:          "results_csv",
		Type:          "file/csv",
		Persist:       true,
		SecurityLevel: s.cfg.SecurityLevel,
	}}
}

func (s *CSVSink) Write(payload *types.Payload, metadata types.Metadata) error {
	fields := s.cfg.Fields
	if len(fields) == 0 && len(payload.Results) > 0 {
		fields = payload.Results[0].Row.Fields
	}
	metricCols := metricColumns(payload.Results)

	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create sink directory: %w", err)
	}
	file, err := os.Create(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to create csv output: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := csv.NewWriter(file)
	header := append(append([]string{}, fields...), "response")
	header = append(header, metricCols...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	skipped := 0
	for i := range payload.Results {
		record := &payload.Results[i]
		line, err := s.line(record, fields, metricCols)
		if err != nil {
			if s.cfg.OnError == "skip" {
				skipped++
				log.Warn("skipping record in csv sink", zap.Error(err))
				continue
			}
			return err
		}
		if err := writer.Write(line); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush csv output: %w", err)
	}

	s.artifact = &artifacts.Artifact{
		Type:    "file/csv",
		Path:    s.cfg.Path,
		Persist: true,
		Metadata: map[string]interface{}{
			"rows":    len(payload.Results) - skipped,
			"skipped": skipped,
		},
		SecurityLevel: s.cfg.SecurityLevel,
	}
	return nil
}

func (s *CSVSink) line(record *types.Record, fields, metricCols []string) ([]string, error) {
	line := make([]string, 0, len(fields)+1+len(metricCols))
	for _, field := range fields {
		value, ok := record.Row.Values[field]
		if !ok {
			return nil, fmt.Errorf("record has no field %q", field)
		}
		line = append(line, fmt.Sprint(value))
	}
	content := ""
	if record.Response != nil {
		content = record.Response.Content
	}
	line = append(line, content)
	for _, col := range metricCols {
		if value, ok := record.Metrics[col]; ok {
			line = append(line, fmt.Sprint(value))
		} else {
			line = append(line, "")
		}
	}
	return line, nil
}

// CollectArtifacts reports the written file to the pipeline.
func (s *CSVSink) CollectArtifacts() map[string]*artifacts.Artifact {
	if s.artifact == nil {
		return nil
	}
	return map[string]*artifacts.Artifact{"results_csv": s.artifact}
}

// metricColumns returns the sorted union of metric keys across records.
func metricColumns(records []types.Record) []string {
	seen := map[string]bool{}
	for i := range records {
		for key := range records[i].Metrics {
			seen[key] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for key := range seen {
		cols = append(cols, key)
	}
	sort.Strings(cols)
	return cols
}
