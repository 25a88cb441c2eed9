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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/weft/pkg/types"
)

// fakeSink records calls and optionally produces artifacts on collect.
type fakeSink struct {
	name      string
	writes    int
	collected map[string]*Artifact
	handoff   map[string][]*Artifact
	finalized [][]*Artifact
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Write(*types.Payload, types.Metadata) error {
	s.writes++
	return nil
}

func (s *fakeSink) PrepareArtifacts(handoff map[string][]*Artifact) {
	s.handoff = handoff
}

func (s *fakeSink) CollectArtifacts() map[string]*Artifact {
	out := s.collected
	s.collected = nil
	return out
}

func (s *fakeSink) Finalize(all []*Artifact, _ types.Metadata) error {
	s.finalized = append(s.finalized, all)
	return nil
}

func TestPipelineOrdersByDependency(t *testing.T) {
	a := &fakeSink{name: "a", collected: map[string]*Artifact{
		"csv": {Payload: "rows", Type: "file/csv"},
	}}
	b := &fakeSink{name: "b"}

	// Declared order is [B, A]; dependency order must put A first.
	pipeline, err := NewPipeline([]*SinkBinding{
		{
			ID: "b", Sink: b, OriginalIndex: 0,
			Consumes: []Request{{Token: "file/csv", Mode: ModeAll}},
			Produces: []Descriptor{{Name: "zip", Type: "file/zip"}},
		},
		{
			ID: "a", Sink: a, OriginalIndex: 1,
			Produces: []Descriptor{{Name: "csv", Type: "file/csv"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, pipeline.Order())

	require.NoError(t, pipeline.Execute(&types.Payload{}, nil))
	assert.Equal(t, 1, a.writes)
	assert.Equal(t, 1, b.writes)

	require.Len(t, b.handoff["file/csv"], 1)
	got := b.handoff["file/csv"][0]
	assert.Equal(t, "a:csv", got.ID)
	assert.Equal(t, "a", got.ProducedBy)
	assert.Equal(t, "unofficial", got.SecurityLevel)
}

func TestPipelineStableTieBreak(t *testing.T) {
	s1 := &fakeSink{name: "s1"}
	s2 := &fakeSink{name: "s2"}
	s3 := &fakeSink{name: "s3"}

	pipeline, err := NewPipeline([]*SinkBinding{
		{ID: "one", Sink: s1, OriginalIndex: 0},
		{ID: "two", Sink: s2, OriginalIndex: 1},
		{ID: "three", Sink: s3, OriginalIndex: 2},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "three"}, pipeline.Order())
}

func TestPipelineDependencyClearanceViolation(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}

	_, err := NewPipeline([]*SinkBinding{
		{
			ID: "a", Sink: a, OriginalIndex: 0,
			Produces: []Descriptor{{Name: "report", Type: "data/report", SecurityLevel: "secret"}},
		},
		{
			ID: "b", Sink: b, OriginalIndex: 1,
			SecurityLevel: "official",
			Consumes:      []Request{{Token: "data/report", Mode: ModeAll}},
		},
	})
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "b", perm.Binding)
	assert.Equal(t, "a", perm.Producer)

	// Construction failed, so neither sink ran.
	assert.Equal(t, 0, a.writes)
	assert.Equal(t, 0, b.writes)
}

func TestPipelineHandoffClearanceViolation(t *testing.T) {
	// The producer binding itself is unrestricted but registers a secret
	// artifact; the handoff check must still fire.
	a := &fakeSink{name: "a", collected: map[string]*Artifact{
		"report": {Payload: "x", SecurityLevel: "secret"},
	}}
	b := &fakeSink{name: "b"}

	pipeline, err := NewPipeline([]*SinkBinding{
		{
			ID: "a", Sink: a, OriginalIndex: 0,
			Produces: []Descriptor{{Name: "report", Type: "data/report"}},
		},
		{
			ID: "b", Sink: b, OriginalIndex: 1,
			SecurityLevel: "official",
			Consumes:      []Request{{Token: "@report"}},
		},
	})
	require.NoError(t, err)

	err = pipeline.Execute(&types.Payload{}, nil)
	var perm *PermissionError
	require.ErrorAs(t, err, &perm)
	assert.Equal(t, "b", perm.Binding)
	assert.Equal(t, "a:report", perm.Artifact)
	assert.Equal(t, 0, b.writes)
}

func TestPipelineAliasHandoffBothSpellings(t *testing.T) {
	a := &fakeSink{name: "a", collected: map[string]*Artifact{
		"csv": {Payload: "rows"},
	}}
	b := &fakeSink{name: "b"}

	pipeline, err := NewPipeline([]*SinkBinding{
		{
			ID: "a", Sink: a, OriginalIndex: 0,
			Produces: []Descriptor{{Name: "csv", Type: "file/csv", Alias: "results"}},
		},
		{
			ID: "b", Sink: b, OriginalIndex: 1,
			Consumes: []Request{{Token: "@results"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, pipeline.Execute(&types.Payload{}, nil))

	require.Len(t, b.handoff["@results"], 1)
	require.Len(t, b.handoff["results"], 1)
	assert.Same(t, b.handoff["@results"][0], b.handoff["results"][0])
}

func TestPipelineUnknownAlias(t *testing.T) {
	b := &fakeSink{name: "b"}
	_, err := NewPipeline([]*SinkBinding{
		{ID: "b", Sink: b, Consumes: []Request{{Token: "@missing"}}},
	})
	var topo *TopologyError
	require.ErrorAs(t, err, &topo)
}

func TestPipelineCycleDetection(t *testing.T) {
	a := &fakeSink{name: "a"}
	b := &fakeSink{name: "b"}
	_, err := NewPipeline([]*SinkBinding{
		{
			ID: "a", Sink: a, OriginalIndex: 0,
			Produces: []Descriptor{{Name: "x", Type: "data/x"}},
			Consumes: []Request{{Token: "data/y"}},
		},
		{
			ID: "b", Sink: b, OriginalIndex: 1,
			Produces: []Descriptor{{Name: "y", Type: "data/y"}},
			Consumes: []Request{{Token: "data/x"}},
		},
	})
	var topo *TopologyError
	require.ErrorAs(t, err, &topo)
	assert.Contains(t, topo.Error(), "cycle")
}

func TestPipelineRejectsBadTypes(t *testing.T) {
	s := &fakeSink{name: "s"}
	_, err := NewPipeline([]*SinkBinding{
		{ID: "s", Sink: s, Produces: []Descriptor{{Name: "x", Type: "blob/x"}}},
	})
	require.Error(t, err)

	_, err = NewPipeline([]*SinkBinding{
		{ID: "s", Sink: s, Produces: []Descriptor{{Name: "x", Type: "file/"}}},
	})
	require.Error(t, err)
}

func TestPipelineDuplicateBindingID(t *testing.T) {
	s := &fakeSink{name: "s"}
	_, err := NewPipeline([]*SinkBinding{
		{ID: "dup", Sink: s},
		{ID: "dup", Sink: s},
	})
	var topo *TopologyError
	require.ErrorAs(t, err, &topo)
}

func TestStoreFirstWriteWinsAlias(t *testing.T) {
	store := NewStore()
	first := &Artifact{ID: "1", Type: "data/x"}
	second := &Artifact{ID: "2", Type: "data/x"}
	require.NoError(t, store.Register(first, "shared"))
	require.NoError(t, store.Register(second, "shared"))

	assert.Same(t, first, store.ByAlias("shared"))
	assert.Len(t, store.ByType("data/x"), 2)

	err := store.Register(&Artifact{ID: "1", Type: "data/x"})
	require.Error(t, err)
}

func TestValidateType(t *testing.T) {
	assert.NoError(t, ValidateType("file/csv"))
	assert.NoError(t, ValidateType("data/scores"))
	assert.Error(t, ValidateType("file/"))
	assert.Error(t, ValidateType("csv"))
	assert.Error(t, ValidateType("blob/csv"))
}
