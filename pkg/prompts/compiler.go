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

package prompts

import (
	"fmt"

	"github.com/teradata-labs/weft/pkg/config"
)

// Compiled is the full template set for one cycle: the system template, the
// default user template and any per-criterion user templates.
type Compiled struct {
	System   *Template
	User     *Template
	Criteria map[string]*Template

	// CriteriaOrder preserves the declared criteria order for iteration.
	CriteriaOrder []string
}

// CompileCycle compiles a cycle's prompt set. Template names are qualified
// with the cycle name so error messages identify their origin.
func CompileCycle(cycle string, cfg config.PromptsConfig) (*Compiled, error) {
	out := &Compiled{Criteria: make(map[string]*Template, len(cfg.Criteria))}

	system, err := Compile(cycle+":system", cfg.System, cfg.Defaults)
	if err != nil {
		return nil, fmt.Errorf("failed to compile system prompt: %w", err)
	}
	out.System = system

	if cfg.User != "" {
		user, err := Compile(cycle+":user", cfg.User, cfg.Defaults)
		if err != nil {
			return nil, fmt.Errorf("failed to compile user prompt: %w", err)
		}
		out.User = user
	}

	for _, criterion := range cfg.Criteria {
		tmpl, err := Compile(cycle+":criteria:"+criterion.Name, criterion.Template, cfg.Defaults)
		if err != nil {
			return nil, fmt.Errorf("failed to compile criterion %q: %w", criterion.Name, err)
		}
		out.Criteria[criterion.Name] = tmpl
		out.CriteriaOrder = append(out.CriteriaOrder, criterion.Name)
	}

	return out, nil
}

// RequiredFields unions the required variables across all compiled
// templates, preserving first-seen order.
func (c *Compiled) RequiredFields() []string {
	seen := make(map[string]bool)
	var fields []string
	add := func(t *Template) {
		if t == nil {
			return
		}
		for _, f := range t.Required {
			if !seen[f] {
				seen[f] = true
				fields = append(fields, f)
			}
		}
	}
	add(c.System)
	add(c.User)
	for _, name := range c.CriteriaOrder {
		add(c.Criteria[name])
	}
	return fields
}
