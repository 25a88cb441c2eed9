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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/teradata-labs/weft/pkg/config"
	"github.com/teradata-labs/weft/pkg/types"
)

// Checkpoint tracks processed row ids in a plain text file, one id per
// line. Marks are append-only; the parent directory is created on first
// write. Callers serialize access (the runner's pipeline lock).
type Checkpoint struct {
	path  string
	field string
	seen  map[string]bool
}

// OpenCheckpoint loads existing ids from the configured file. A missing
// file is an empty checkpoint.
func OpenCheckpoint(cfg config.CheckpointConfig) (*Checkpoint, error) {
	cp := &Checkpoint{path: cfg.Path, field: cfg.Field, seen: make(map[string]bool)}

	file, err := os.Open(cfg.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cp, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			cp.seen[id] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint file: %w", err)
	}
	return cp, nil
}

// RowID extracts the checkpoint identifier from a row. Empty when the
// configured field is absent.
func (c *Checkpoint) RowID(row types.Row) string {
	value := row.Get(c.field)
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// Seen reports whether an id was already processed.
func (c *Checkpoint) Seen(id string) bool {
	return c.seen[id]
}

// Mark appends an id to the file and the in-memory set.
func (c *Checkpoint) Mark(id string) error {
	if id == "" || c.seen[id] {
		return nil
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create checkpoint directory: %w", err)
		}
	}
	file, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := fmt.Fprintln(file, id); err != nil {
		return fmt.Errorf("failed to write checkpoint entry: %w", err)
	}
	c.seen[id] = true
	return nil
}

// Count returns how many ids the checkpoint holds.
func (c *Checkpoint) Count() int {
	return len(c.seen)
}
