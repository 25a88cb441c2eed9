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
)

// Store indexes registered artifacts by id, alias and type. Ids are unique;
// an alias refers to at most one artifact (first write wins); type lookup
// preserves insertion order.
type Store struct {
	byID    map[string]*Artifact
	byAlias map[string]*Artifact
	byType  map[string][]*Artifact
	ordered []*Artifact
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*Artifact),
		byAlias: make(map[string]*Artifact),
		byType:  make(map[string][]*Artifact),
	}
}

// Register adds an artifact under zero or more aliases (typically the
// descriptor's name and alias). Duplicate ids are an error; a duplicate
// alias leaves the earlier owner in place.
func (s *Store) Register(artifact *Artifact, aliases ...string) error {
	if artifact.ID == "" {
		return &TopologyError{Reason: "artifact with empty id"}
	}
	if _, exists := s.byID[artifact.ID]; exists {
		return &TopologyError{Reason: fmt.Sprintf("duplicate artifact id %q", artifact.ID)}
	}
	s.byID[artifact.ID] = artifact
	s.ordered = append(s.ordered, artifact)
	s.byType[artifact.Type] = append(s.byType[artifact.Type], artifact)
	for _, alias := range aliases {
		if alias == "" {
			continue
		}
		if _, taken := s.byAlias[alias]; !taken {
			s.byAlias[alias] = artifact
		}
	}
	return nil
}

// ByID returns the artifact with the given id, or nil.
func (s *Store) ByID(id string) *Artifact {
	return s.byID[id]
}

// ByAlias returns the artifact registered under an alias or name, or nil.
func (s *Store) ByAlias(alias string) *Artifact {
	return s.byAlias[alias]
}

// ByType returns all artifacts of a type in insertion order.
func (s *Store) ByType(artifactType string) []*Artifact {
	return s.byType[artifactType]
}

// All returns every artifact in insertion order.
func (s *Store) All() []*Artifact {
	out := make([]*Artifact, len(s.ordered))
	copy(out, s.ordered)
	return out
}
