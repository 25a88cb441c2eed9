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
	"strings"
)

// ValidationError reports templates that cannot be satisfied before any
// render is attempted: unparsable syntax or required variables missing from
// the supplied context.
type ValidationError struct {
	Template string
	Missing  []string
	Err      error
}

func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("template %q missing required variables: %s",
			e.Template, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("template %q failed validation: %v", e.Template, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RenderError reports a failure while executing a template against a
// concrete row context.
type RenderError struct {
	Template string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render template %q: %v", e.Template, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
