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

package datasource

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/security"
	"github.com/teradata-labs/weft/pkg/types"
)

// CSVConfig configures a CSV data source.
type CSVConfig struct {
	Path      string
	Delimiter rune
	// Fields, when non-empty, restricts rows to this subset of header
	// columns in the given order.
	Fields []string
	// Limit caps the number of rows loaded; 0 means unlimited.
	Limit int
	// OnError selects malformed-row handling: "abort" (default) or "skip".
	OnError       string
	SecurityLevel string
}

// CSVSource reads rows from a local CSV file with a header line.
type CSVSource struct {
	cfg CSVConfig
}

// NewCSVSource validates the config and returns a source.
func NewCSVSource(cfg CSVConfig) (*CSVSource, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("csv datasource requires a path")
	}
	if cfg.Delimiter == 0 {
		cfg.Delimiter = ','
	}
	switch cfg.OnError {
	case "", "abort", "skip":
	default:
		return nil, fmt.Errorf("csv datasource: unknown on_error %q", cfg.OnError)
	}
	level, err := security.Normalize(cfg.SecurityLevel)
	if err != nil {
		return nil, fmt.Errorf("csv datasource: %w", err)
	}
	cfg.SecurityLevel = level
	return &CSVSource{cfg: cfg}, nil
}

func (s *CSVSource) Name() string { return "csv" }

// Load reads the file into a batch. Malformed records abort or are skipped
// per config; skips are counted in the batch attrs.
func (s *CSVSource) Load(ctx context.Context) (*Batch, error) {
	file, err := os.Open(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open csv file: %w", err)
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.Comma = s.cfg.Delimiter
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	fields := header
	indexes := make([]int, 0, len(header))
	if len(s.cfg.Fields) > 0 {
		fields = s.cfg.Fields
		for _, want := range s.cfg.Fields {
			found := -1
			for i, col := range header {
				if col == want {
					found = i
					break
				}
			}
			if found < 0 {
				return nil, fmt.Errorf("csv header has no column %q", want)
			}
			indexes = append(indexes, found)
		}
	} else {
		for i := range header {
			indexes = append(indexes, i)
		}
	}

	batch := &Batch{
		SecurityLevel: s.cfg.SecurityLevel,
		Attrs:         map[string]interface{}{"path": s.cfg.Path},
	}
	skipped := 0
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err == nil && len(record) < len(header) {
			err = fmt.Errorf("line %d has %d fields, want %d", line, len(record), len(header))
		}
		if err != nil {
			if s.cfg.OnError == "skip" {
				skipped++
				log.Warn("skipping malformed csv record",
					zap.String("path", s.cfg.Path),
					zap.Int("line", line),
					zap.Error(err))
				continue
			}
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}

		values := make(map[string]interface{}, len(fields))
		for i, idx := range indexes {
			values[fields[i]] = record[idx]
		}
		batch.Rows = append(batch.Rows, types.NewRow(fields, values))

		if s.cfg.Limit > 0 && len(batch.Rows) >= s.cfg.Limit {
			break
		}
	}

	batch.Attrs["rows"] = len(batch.Rows)
	if skipped > 0 {
		batch.Attrs["skipped"] = skipped
	}
	return batch, nil
}
