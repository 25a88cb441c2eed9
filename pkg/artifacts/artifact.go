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

// Package artifacts routes typed sink outputs between sinks. Sinks declare
// what they produce and consume; the pipeline orders them topologically and
// enforces security clearance at every handoff.
package artifacts

import (
	"fmt"
	"strings"

	"github.com/teradata-labs/weft/pkg/types"
)

// Descriptor statically declares one artifact a sink produces.
type Descriptor struct {
	Name          string
	Type          string
	SchemaID      string
	Persist       bool
	Alias         string
	SecurityLevel string
}

// Artifact is a runtime instance produced by a sink. Either Path or Payload
// is set.
type Artifact struct {
	ID            string
	Type          string
	Path          string
	Payload       interface{}
	Metadata      map[string]interface{}
	SchemaID      string
	ProducedBy    string
	Persist       bool
	SecurityLevel string
}

// RequestMode selects how many artifacts a consume token yields.
type RequestMode string

const (
	// ModeSingle resolves to at most one artifact.
	ModeSingle RequestMode = "single"
	// ModeAll resolves to every artifact of the requested type.
	ModeAll RequestMode = "all"
)

// Request is one consume declaration: an @alias or type token plus a mode.
type Request struct {
	Token string
	Mode  RequestMode
}

// ValidateType enforces the file/* or data/* prefix rule.
func ValidateType(artifactType string) error {
	if strings.HasPrefix(artifactType, "file/") || strings.HasPrefix(artifactType, "data/") {
		if len(artifactType) > strings.Index(artifactType, "/")+1 {
			return nil
		}
	}
	return fmt.Errorf("invalid artifact type %q: must be file/<subtype> or data/<subtype>", artifactType)
}

// ResultSink receives the cycle payload. Sinks participate in the artifact
// pipeline by additionally implementing the capability interfaces below;
// the pipeline probes with type assertions.
type ResultSink interface {
	Name() string
	Write(payload *types.Payload, metadata types.Metadata) error
}

// Producer declares artifacts beyond those configured on the binding.
type Producer interface {
	Produces() []Descriptor
}

// Consumer declares consume tokens beyond those configured on the binding.
type Consumer interface {
	Consumes() []Request
}

// Preparer receives resolved upstream artifacts before Write.
type Preparer interface {
	PrepareArtifacts(handoff map[string][]*Artifact)
}

// Collector reports artifacts created by Write, keyed by the declaring
// descriptor's name (or alias as a fallback during matching).
type Collector interface {
	CollectArtifacts() map[string]*Artifact
}

// Finalizer runs after Write with the full store contents.
type Finalizer interface {
	Finalize(all []*Artifact, metadata types.Metadata) error
}

// SinkBinding ties a configured sink instance into the pipeline.
type SinkBinding struct {
	ID            string
	Plugin        string
	Sink          ResultSink
	Produces      []Descriptor
	Consumes      []Request
	OriginalIndex int
	// SecurityLevel is the binding's clearance; empty means unrestricted
	// for dependency edges but defaults for artifact levels.
	SecurityLevel string
}

// PermissionError reports a clearance violation at an artifact handoff or
// dependency edge.
type PermissionError struct {
	Binding   string
	Clearance string
	Artifact  string
	Level     string
	Producer  string
}

func (e *PermissionError) Error() string {
	if e.Producer != "" {
		return fmt.Sprintf("binding %q (clearance %s) may not depend on producer %q (level %s)",
			e.Binding, e.Clearance, e.Producer, e.Level)
	}
	return fmt.Sprintf("binding %q (clearance %s) may not receive artifact %q (level %s)",
		e.Binding, e.Clearance, e.Artifact, e.Level)
}

// TopologyError reports an unsatisfiable pipeline: duplicate ids, unknown
// references, invalid tokens or dependency cycles.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string {
	return "artifact pipeline topology error: " + e.Reason
}
