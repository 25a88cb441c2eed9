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

// Package prompts compiles and renders the templates a cycle sends to the
// LLM. Templates use text/template syntax; plain {field} placeholders are
// rewritten automatically for authors coming from single-brace tooling.
package prompts

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"text/template"
	"text/template/parse"
)

// singleBrace matches {field} placeholders eligible for auto-conversion.
var singleBrace = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Template is a compiled prompt. Required lists the variables the template
// references that no default satisfies; every render context must supply
// them all.
type Template struct {
	Name     string
	Source   string
	Required []string

	tmpl     *template.Template
	defaults map[string]interface{}
}

// Compile parses a prompt template. Defaults satisfy required variables at
// compile time and fill absent context keys at render time.
func Compile(name, source string, defaults map[string]interface{}) (*Template, error) {
	converted := autoConvert(source)

	tmpl, err := template.New(name).Option("missingkey=error").Parse(converted)
	if err != nil {
		return nil, &ValidationError{Template: name, Err: err}
	}

	required := referencedFields(tmpl)
	filtered := required[:0]
	for _, field := range required {
		if _, ok := defaults[field]; !ok {
			filtered = append(filtered, field)
		}
	}

	return &Template{
		Name:     name,
		Source:   converted,
		Required: filtered,
		tmpl:     tmpl,
		defaults: defaults,
	}, nil
}

// Validate checks that a context satisfies every required variable.
func (t *Template) Validate(context map[string]interface{}) error {
	var missing []string
	for _, field := range t.Required {
		if _, ok := context[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return &ValidationError{Template: t.Name, Missing: missing}
	}
	return nil
}

// Render validates the context and executes the template. Defaults fill
// variables the context does not provide; context values win on overlap.
func (t *Template) Render(context map[string]interface{}) (string, error) {
	if err := t.Validate(context); err != nil {
		return "", err
	}

	data := make(map[string]interface{}, len(t.defaults)+len(context))
	for k, v := range t.defaults {
		data[k] = v
	}
	for k, v := range context {
		data[k] = v
	}

	var buf strings.Builder
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return "", &RenderError{Template: t.Name, Err: err}
	}
	return buf.String(), nil
}

// autoConvert rewrites {field} to {{ .field }} when the source carries no
// engine syntax already. Mixed sources are left untouched so authors can use
// literal braces inside real templates.
func autoConvert(source string) string {
	if strings.Contains(source, "{{") || strings.Contains(source, "{%") {
		return source
	}
	return singleBrace.ReplaceAllString(source, "{{ .$1 }}")
}

// referencedFields walks the parse tree and collects top-level field names
// the template dereferences.
func referencedFields(tmpl *template.Template) []string {
	seen := make(map[string]bool)
	for _, t := range tmpl.Templates() {
		if t.Tree != nil && t.Tree.Root != nil {
			walkFields(t.Tree.Root, seen)
		}
	}
	fields := make([]string, 0, len(seen))
	for field := range seen {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

func walkFields(node parse.Node, seen map[string]bool) {
	switch n := node.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, child := range n.Nodes {
			walkFields(child, seen)
		}
	case *parse.ActionNode:
		walkPipe(n.Pipe, seen)
	case *parse.IfNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.RangeNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.WithNode:
		walkPipe(n.Pipe, seen)
		walkFields(n.List, seen)
		if n.ElseList != nil {
			walkFields(n.ElseList, seen)
		}
	case *parse.TemplateNode:
		walkPipe(n.Pipe, seen)
	}
}

func walkPipe(pipe *parse.PipeNode, seen map[string]bool) {
	if pipe == nil {
		return
	}
	for _, cmd := range pipe.Cmds {
		for _, arg := range cmd.Args {
			switch a := arg.(type) {
			case *parse.FieldNode:
				if len(a.Ident) > 0 {
					seen[a.Ident[0]] = true
				}
			case *parse.PipeNode:
				walkPipe(a, seen)
			}
		}
	}
}

// String implements fmt.Stringer for log output.
func (t *Template) String() string {
	return fmt.Sprintf("template(%s, required=%v)", t.Name, t.Required)
}
