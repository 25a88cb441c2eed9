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
	"fmt"

	"github.com/teradata-labs/weft/pkg/datasource"
)

const csvSourceSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"delimiter": {"type": "string", "maxLength": 1},
		"fields": {"type": "array", "items": {"type": "string"}},
		"limit": {"type": "integer", "minimum": 0},
		"on_error": {"type": "string", "enum": ["abort", "skip"]},
		"security_level": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

func registerDataSources(r *Registry) {
	r.DataSources.Register("csv", csvSourceSchema, func(options map[string]interface{}) (datasource.DataSource, error) {
		cfg := datasource.CSVConfig{
			Limit: intOption(options, "limit", 0),
		}
		cfg.Path, _ = options["path"].(string)
		cfg.OnError, _ = options["on_error"].(string)
		cfg.SecurityLevel, _ = options["security_level"].(string)
		if raw, ok := options["delimiter"].(string); ok && raw != "" {
			runes := []rune(raw)
			if len(runes) != 1 {
				return nil, fmt.Errorf("delimiter must be one character, got %q", raw)
			}
			cfg.Delimiter = runes[0]
		}
		if raw, ok := options["fields"].([]interface{}); ok {
			for _, f := range raw {
				if s, ok := f.(string); ok {
					cfg.Fields = append(cfg.Fields, s)
				}
			}
		}
		return datasource.NewCSVSource(cfg)
	})
}
