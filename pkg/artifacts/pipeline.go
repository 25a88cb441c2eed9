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

package artifacts

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/weft/internal/log"
	"github.com/teradata-labs/weft/pkg/security"
	"github.com/teradata-labs/weft/pkg/types"
)

// Pipeline executes sink bindings in dependency order, routing artifacts
// between them with clearance checks at every handoff. The order is frozen
// at construction.
type Pipeline struct {
	bindings []*SinkBinding
	order    []*SinkBinding
	store    *Store
}

// NewPipeline prepares bindings (augmenting from sink capabilities and
// normalizing security levels), resolves the dependency graph and freezes a
// topological order. Any unsatisfiable declaration fails here, before any
// sink runs.
func NewPipeline(bindings []*SinkBinding) (*Pipeline, error) {
	p := &Pipeline{bindings: bindings, store: NewStore()}

	ids := make(map[string]bool, len(bindings))
	for _, binding := range bindings {
		if binding.ID == "" {
			return nil, &TopologyError{Reason: "binding with empty id"}
		}
		if ids[binding.ID] {
			return nil, &TopologyError{Reason: fmt.Sprintf("duplicate binding id %q", binding.ID)}
		}
		ids[binding.ID] = true
		if err := prepareBinding(binding); err != nil {
			return nil, err
		}
	}

	order, err := resolveOrder(bindings)
	if err != nil {
		return nil, err
	}
	p.order = order
	return p, nil
}

// Order returns the frozen execution order as binding ids.
func (p *Pipeline) Order() []string {
	out := make([]string, len(p.order))
	for i, b := range p.order {
		out[i] = b.ID
	}
	return out
}

// Store exposes the artifact store, primarily for tests and diagnostics.
func (p *Pipeline) Store() *Store {
	return p.store
}

// Execute runs every binding in order against the payload. The first sink
// or clearance failure aborts the pipeline.
func (p *Pipeline) Execute(payload *types.Payload, metadata types.Metadata) error {
	for _, binding := range p.order {
		handoff, err := p.resolveHandoff(binding)
		if err != nil {
			return err
		}

		if preparer, ok := binding.Sink.(Preparer); ok && len(handoff) > 0 {
			preparer.PrepareArtifacts(handoff)
		}

		if err := binding.Sink.Write(payload, metadata); err != nil {
			return fmt.Errorf("sink %q failed to write: %w", binding.ID, err)
		}

		if collector, ok := binding.Sink.(Collector); ok {
			if err := p.registerCollected(binding, collector.CollectArtifacts()); err != nil {
				return err
			}
		}

		if finalizer, ok := binding.Sink.(Finalizer); ok {
			if err := finalizer.Finalize(p.store.All(), metadata); err != nil {
				return fmt.Errorf("sink %q failed to finalize: %w", binding.ID, err)
			}
		}
	}
	return nil
}

// resolveHandoff gathers the artifacts a binding consumes, enforcing the
// binding's clearance against each artifact's level.
func (p *Pipeline) resolveHandoff(binding *SinkBinding) (map[string][]*Artifact, error) {
	handoff := make(map[string][]*Artifact)
	for _, req := range binding.Consumes {
		if strings.HasPrefix(req.Token, "@") {
			name := strings.TrimPrefix(req.Token, "@")
			artifact := p.store.ByAlias(name)
			if artifact == nil {
				continue
			}
			if err := p.checkHandoff(binding, artifact); err != nil {
				return nil, err
			}
			// Expose under both spellings for consumer convenience.
			handoff[req.Token] = []*Artifact{artifact}
			handoff[name] = []*Artifact{artifact}
			continue
		}

		matches := p.store.ByType(req.Token)
		if req.Mode != ModeAll && len(matches) > 1 {
			matches = matches[:1]
		}
		for _, artifact := range matches {
			if err := p.checkHandoff(binding, artifact); err != nil {
				return nil, err
			}
		}
		if len(matches) > 0 {
			handoff[req.Token] = matches
		}
	}
	return handoff, nil
}

func (p *Pipeline) checkHandoff(binding *SinkBinding, artifact *Artifact) error {
	if binding.SecurityLevel == "" {
		return nil
	}
	allowed, err := security.Allowed(artifact.SecurityLevel, binding.SecurityLevel)
	if err != nil {
		return err
	}
	if !allowed {
		return &PermissionError{
			Binding:   binding.ID,
			Clearance: binding.SecurityLevel,
			Artifact:  artifact.ID,
			Level:     artifact.SecurityLevel,
		}
	}
	return nil
}

// registerCollected merges collected artifacts with their descriptors and
// stores them. Keys with no matching descriptor are dropped with a warning.
func (p *Pipeline) registerCollected(binding *SinkBinding, collected map[string]*Artifact) error {
	keys := make([]string, 0, len(collected))
	for key := range collected {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		artifact := collected[key]
		if artifact == nil {
			continue
		}
		descriptor := matchDescriptor(binding, key)
		if descriptor == nil {
			log.Warn("collected artifact matches no descriptor",
				zap.String("binding", binding.ID),
				zap.String("key", key))
			continue
		}

		if artifact.ID == "" {
			artifact.ID = binding.ID + ":" + descriptor.Name
		}
		artifact.ProducedBy = binding.ID
		artifact.Persist = artifact.Persist || descriptor.Persist
		if artifact.SchemaID == "" {
			artifact.SchemaID = descriptor.SchemaID
		}
		if artifact.Type == "" {
			artifact.Type = descriptor.Type
		}
		level, err := security.Resolve(firstNonEmpty(
			artifact.SecurityLevel, descriptor.SecurityLevel, binding.SecurityLevel))
		if err != nil {
			return err
		}
		artifact.SecurityLevel = level

		if err := p.store.Register(artifact, descriptor.Name, descriptor.Alias); err != nil {
			return err
		}
	}
	return nil
}

func matchDescriptor(binding *SinkBinding, key string) *Descriptor {
	for i := range binding.Produces {
		if binding.Produces[i].Name == key {
			return &binding.Produces[i]
		}
	}
	for i := range binding.Produces {
		if binding.Produces[i].Alias == key {
			return &binding.Produces[i]
		}
	}
	return nil
}

// prepareBinding folds in the sink's own declarations and validates and
// normalizes everything on the binding.
func prepareBinding(binding *SinkBinding) error {
	if producer, ok := binding.Sink.(Producer); ok {
		binding.Produces = append(binding.Produces, producer.Produces()...)
	}
	if consumer, ok := binding.Sink.(Consumer); ok {
		binding.Consumes = append(binding.Consumes, consumer.Consumes()...)
	}

	if binding.SecurityLevel != "" {
		level, err := security.Normalize(binding.SecurityLevel)
		if err != nil {
			return fmt.Errorf("binding %q: %w", binding.ID, err)
		}
		binding.SecurityLevel = level
	}

	for i := range binding.Produces {
		d := &binding.Produces[i]
		if d.Name == "" {
			return &TopologyError{Reason: fmt.Sprintf("binding %q declares a descriptor with no name", binding.ID)}
		}
		if err := ValidateType(d.Type); err != nil {
			return &TopologyError{Reason: fmt.Sprintf("binding %q: %v", binding.ID, err)}
		}
		if d.SecurityLevel != "" {
			level, err := security.Normalize(d.SecurityLevel)
			if err != nil {
				return fmt.Errorf("binding %q descriptor %q: %w", binding.ID, d.Name, err)
			}
			d.SecurityLevel = level
		}
	}

	for i := range binding.Consumes {
		req := &binding.Consumes[i]
		if req.Mode == "" {
			req.Mode = ModeSingle
		}
		if req.Mode != ModeSingle && req.Mode != ModeAll {
			return &TopologyError{Reason: fmt.Sprintf("binding %q: unknown request mode %q", binding.ID, req.Mode)}
		}
		if strings.HasPrefix(req.Token, "@") {
			if len(req.Token) == 1 {
				return &TopologyError{Reason: fmt.Sprintf("binding %q: empty alias token", binding.ID)}
			}
			continue
		}
		if err := ValidateType(req.Token); err != nil {
			return &TopologyError{Reason: fmt.Sprintf("binding %q: %v", binding.ID, err)}
		}
	}
	return nil
}

// resolveOrder builds the dependency graph and returns a Kahn topological
// order. Ties among ready bindings break on the original configured index.
func resolveOrder(bindings []*SinkBinding) ([]*SinkBinding, error) {
	producersByName := make(map[string]*SinkBinding)
	producersByType := make(map[string][]*SinkBinding)
	for _, binding := range bindings {
		for _, d := range binding.Produces {
			if d.Alias != "" {
				if _, taken := producersByName[d.Alias]; !taken {
					producersByName[d.Alias] = binding
				}
			}
			if _, taken := producersByName[d.Name]; !taken {
				producersByName[d.Name] = binding
			}
			producersByType[d.Type] = append(producersByType[d.Type], binding)
		}
	}

	indegree := make(map[*SinkBinding]int, len(bindings))
	dependents := make(map[*SinkBinding][]*SinkBinding, len(bindings))
	for _, binding := range bindings {
		indegree[binding] = 0
	}

	addEdge := func(producer, consumer *SinkBinding) error {
		if producer == consumer {
			return nil
		}
		// Dependency clearance is enforced before the edge exists so an
		// unsatisfiable pipeline never starts executing.
		if consumer.SecurityLevel != "" {
			level := producerLevel(producer)
			allowed, err := security.Allowed(level, consumer.SecurityLevel)
			if err != nil {
				return err
			}
			if !allowed {
				return &PermissionError{
					Binding:   consumer.ID,
					Clearance: consumer.SecurityLevel,
					Producer:  producer.ID,
					Level:     level,
				}
			}
		}
		dependents[producer] = append(dependents[producer], consumer)
		indegree[consumer]++
		return nil
	}

	for _, binding := range bindings {
		for _, req := range binding.Consumes {
			if strings.HasPrefix(req.Token, "@") {
				name := strings.TrimPrefix(req.Token, "@")
				producer, ok := producersByName[name]
				if !ok {
					return nil, &TopologyError{Reason: fmt.Sprintf(
						"binding %q consumes unknown alias %q", binding.ID, name)}
				}
				if err := addEdge(producer, binding); err != nil {
					return nil, err
				}
				continue
			}
			seen := make(map[*SinkBinding]bool)
			for _, producer := range producersByType[req.Token] {
				if seen[producer] {
					continue
				}
				seen[producer] = true
				if err := addEdge(producer, binding); err != nil {
					return nil, err
				}
			}
		}
	}

	ready := make([]*SinkBinding, 0, len(bindings))
	for _, binding := range bindings {
		if indegree[binding] == 0 {
			ready = append(ready, binding)
		}
	}

	var order []*SinkBinding
	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool {
			return ready[i].OriginalIndex < ready[j].OriginalIndex
		})
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, consumer := range dependents[next] {
			indegree[consumer]--
			if indegree[consumer] == 0 {
				ready = append(ready, consumer)
			}
		}
	}

	if len(order) != len(bindings) {
		var stuck []string
		for binding, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, binding.ID)
			}
		}
		sort.Strings(stuck)
		return nil, &TopologyError{Reason: fmt.Sprintf(
			"dependency cycle among bindings: %s", strings.Join(stuck, ", "))}
	}
	return order, nil
}

// producerLevel is the most restrictive level a binding may emit at: the
// greater of its own level and any descriptor's.
func producerLevel(binding *SinkBinding) string {
	levels := []string{binding.SecurityLevel}
	for _, d := range binding.Produces {
		levels = append(levels, d.SecurityLevel)
	}
	level, err := security.Resolve(levels...)
	if err != nil {
		return security.Default
	}
	return level
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
