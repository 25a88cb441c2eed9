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
	"github.com/teradata-labs/weft/pkg/artifacts"
	"github.com/teradata-labs/weft/pkg/plugins"
)

const csvSinkSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"fields": {"type": "array", "items": {"type": "string"}},
		"on_error": {"type": "string", "enum": ["abort", "skip"]},
		"security_level": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

const jsonlSinkSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"include_failures": {"type": "boolean"},
		"security_level": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

const excelSinkSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"fields": {"type": "array", "items": {"type": "string"}},
		"security_level": {"type": "string"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

const zipSinkSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string", "minLength": 1},
		"consume": {"type": "array", "items": {"type": "string"}, "minItems": 1},
		"security_level": {"type": "string"}
	},
	"required": ["path", "consume"],
	"additionalProperties": false
}`

// Register adds the built-in sinks to a registry.
func Register(r *plugins.Registry) {
	r.Sinks.Register("csv", csvSinkSchema, func(options map[string]interface{}) (artifacts.ResultSink, error) {
		cfg := CSVConfig{
			Path:          stringOption(options, "path"),
			Fields:        stringsOption(options, "fields"),
			OnError:       stringOption(options, "on_error"),
			SecurityLevel: stringOption(options, "security_level"),
		}
		return NewCSVSink(cfg)
	})
	r.Sinks.Register("jsonl", jsonlSinkSchema, func(options map[string]interface{}) (artifacts.ResultSink, error) {
		cfg := JSONLConfig{
			Path:          stringOption(options, "path"),
			SecurityLevel: stringOption(options, "security_level"),
		}
		cfg.IncludeFailures, _ = options["include_failures"].(bool)
		return NewJSONLSink(cfg)
	})
	r.Sinks.Register("excel", excelSinkSchema, func(options map[string]interface{}) (artifacts.ResultSink, error) {
		cfg := ExcelConfig{
			Path:          stringOption(options, "path"),
			Fields:        stringsOption(options, "fields"),
			SecurityLevel: stringOption(options, "security_level"),
		}
		return NewExcelSink(cfg)
	})
	r.Sinks.Register("zip_bundle", zipSinkSchema, func(options map[string]interface{}) (artifacts.ResultSink, error) {
		cfg := ZipConfig{
			Path:          stringOption(options, "path"),
			Consume:       stringsOption(options, "consume"),
			SecurityLevel: stringOption(options, "security_level"),
		}
		return NewZipSink(cfg)
	})
}

func stringOption(options map[string]interface{}, key string) string {
	s, _ := options[key].(string)
	return s
}

func stringsOption(options map[string]interface{}, key string) []string {
	raw, _ := options[key].([]interface{})
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
