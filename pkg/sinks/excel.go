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
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/types"
)

// ExcelConfig configures the Excel workbook sink.
type ExcelConfig struct {
	Path          string
	Fields        []string
	SecurityLevel string
}

// ExcelSink writes a workbook with a Results sheet mirroring the CSV layout
// and a Metadata sheet listing payload metadata and aggregates.
type ExcelSink struct {
	cfg      ExcelConfig
	artifact *artifacts.Artifact
}

func NewExcelSink(cfg ExcelConfig) (*ExcelSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("excel sink requires a path")
	}
	return &ExcelSink{cfg: cfg}, nil
}

func (s *ExcelSink) Name() string { return "excel" }

func (s *ExcelSink) Produces() []artifacts.Descriptor {
	return []artifacts.Descriptor{{
		Name:          "workbook",
		Type:          "file/xlsx",
		Persist:       true,
		SecurityLevel: s.cfg.SecurityLevel,
	}}
}

func (s *ExcelSink) Write(payload *types.Payload, metadata types.Metadata) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	const results = "Results"
	if err := book.SetSheetName("Sheet1", results); err != nil {
		return fmt.Errorf("failed to name results sheet: %w", err)
	}

	fields := s.cfg.Fields
	if len(fields) == 0 && len(payload.Results) > 0 {
		fields = payload.Results[0].Row.Fields
	}
	metricCols := metricColumns(payload.Results)

	header := append(append([]string{}, fields...), "response")
	header = append(header, metricCols...)
	if err := s.setRow(book, results, 1, toCells(header)); err != nil {
		return err
	}

	for i := range payload.Results {
		record := &payload.Results[i]
		cells := make([]interface{}, 0, len(header))
		for _, field := range fields {
			cells = append(cells, record.Row.Values[field])
		}
		content := ""
		if record.Response != nil {
			content = record.Response.Content
		}
		cells = append(cells, content)
		for _, col := range metricCols {
			cells = append(cells, record.Metrics[col])
		}
		if err := s.setRow(book, results, i+2, cells); err != nil {
			return err
		}
	}

	const meta = "Metadata"
	if _, err := book.NewSheet(meta); err != nil {
		return fmt.Errorf("failed to create metadata sheet: %w", err)
	}
	row := 1
	for _, key := range sortedKeys(payload.Metadata) {
		if err := s.setRow(book, meta, row, []interface{}{key, fmt.Sprint(payload.Metadata[key])}); err != nil {
			return err
		}
		row++
	}
	for _, name := range sortedAggregates(payload.Aggregates) {
		block := payload.Aggregates[name]
		for _, key := range sortedKeys(block) {
			cells := []interface{}{name + "." + key, fmt.Sprint(block[key])}
			if err := s.setRow(book, meta, row, cells); err != nil {
				return err
			}
			row++
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.cfg.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create sink directory: %w", err)
	}
	if err := book.SaveAs(s.cfg.Path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}

	s.artifact = &artifacts.Artifact{
		Type:          "file/xlsx",
		Path:          s.cfg.Path,
		Persist:       true,
		Metadata:      map[string]interface{}{"rows": len(payload.Results)},
		SecurityLevel: s.cfg.SecurityLevel,
	}
	return nil
}

func (s *ExcelSink) setRow(book *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("failed to address row %d: %w", row, err)
	}
	if err := book.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("failed to write sheet row: %w", err)
	}
	return nil
}

func (s *ExcelSink) CollectArtifacts() map[string]*artifacts.Artifact {
	if s.artifact == nil {
		return nil
	}
	return map[string]*artifacts.Artifact{"workbook": s.artifact}
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedAggregates(m map[string]map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
