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

// Package datasource loads tabular input batches for the cycle runner.
package datasource

import (
	"context"

	"github.com/teradata-labs/weft/pkg/types"
)

// Batch is one loaded input set. SecurityLevel is the source's declared
// classification; the runner resolves it against the cycle's own level.
type Batch struct {
	Rows          []types.Row
	SecurityLevel string
	// Attrs carries source-specific metadata (path, row counts, skips).
	Attrs map[string]interface{}
}

// DataSource produces the rows a cycle processes.
type DataSource interface {
	Name() string
	Load(ctx context.Context) (*Batch, error)
}
