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
	"regexp"
	"strconv"

	"github.com/teradata-labs/weft/pkg/engine"
	"github.com/teradata-labs/weft/pkg/types"
)

const scoreExtractorSchema = `{
	"type": "object",
	"properties": {
		"pattern": {"type": "string"},
		"source": {"type": "string"},
		"field": {"type": "string"}
	},
	"additionalProperties": false
}`

// scoreExtractor pulls a numeric score out of a response's text content.
type scoreExtractor struct {
	pattern *regexp.Regexp
	source  string
	field   string
}

func newScoreExtractor(options map[string]interface{}) (engine.TransformPlugin, error) {
	pattern := `(?i)score[:\s]+([0-9]*\.?[0-9]+)`
	if p, ok := options["pattern"].(string); ok && p != "" {
		pattern = p
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("pattern %q needs one capture group", pattern)
	}
	source, _ := options["source"].(string)
	field, _ := options["field"].(string)
	if field == "" {
		field = "score"
	}
	return &scoreExtractor{pattern: re, source: source, field: field}, nil
}

func (s *scoreExtractor) Name() string { return "score_extractor" }

// Transform scans the selected response (or all responses when no source is
// configured) and emits the first parseable score.
func (s *scoreExtractor) Transform(_ types.Row, responses map[string]*types.LLMResponse) (map[string]interface{}, error) {
	var candidates []*types.LLMResponse
	if s.source != "" {
		resp, ok := responses[s.source]
		if !ok {
			return nil, nil
		}
		candidates = []*types.LLMResponse{resp}
	} else {
		for _, resp := range responses {
			candidates = append(candidates, resp)
		}
	}

	for _, resp := range candidates {
		if resp == nil {
			continue
		}
		match := s.pattern.FindStringSubmatch(resp.Content)
		if match == nil {
			continue
		}
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		return map[string]interface{}{s.field: value}, nil
	}
	return nil, nil
}

func registerTransforms(r *Registry) {
	r.Transforms.Register("score_extractor", scoreExtractorSchema, newScoreExtractor)
}
