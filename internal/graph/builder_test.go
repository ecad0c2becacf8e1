package graph

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/ir"
)

func planning(typ ir.ItemType, id string) ir.CanonicalItem {
	return ir.CanonicalItem{Source: ir.SourcePlanning, Type: typ, ExternalID: id, Title: id}
}

func pkey(typ ir.ItemType, id string) ir.ItemKey {
	return ir.ItemKey{Source: ir.SourcePlanning, Type: typ, ExternalID: id}
}

func tkey(id string) ir.ItemKey {
	return ir.ItemKey{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: id}
}

func hasEdge(edges []ir.Relation, from, to ir.ItemKey, kind ir.RelationKind) bool {
	for _, e := range edges {
		if e.From == from && e.To == to && e.Kind == kind {
			return true
		}
	}
	return false
}

func countKind(edges []ir.Relation, kind ir.RelationKind) int {
	n := 0
	for _, e := range edges {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Two features sharing a component, fetched under different products, make
// the component belong to both products.
func TestRebuild_SharedComponentAcrossProducts(t *testing.T) {
	p1 := planning(ir.TypeProduct, "P1")
	p2 := planning(ir.TypeProduct, "P2")
	c := planning(ir.TypeComponent, "C")
	f1 := planning(ir.TypeFeature, "F1")
	f1.Containers = ir.Containers{ProductID: "P1", ComponentID: "C"}
	f2 := planning(ir.TypeFeature, "F2")
	f2.Containers = ir.Containers{ProductID: "P2", ComponentID: "C"}

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p1, p2, c, f1, f2})

	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "P1"), pkey(ir.TypeComponent, "C"), ir.RelProductHasComponent))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "P2"), pkey(ir.TypeComponent, "C"), ir.RelProductHasComponent))
	assert.Equal(t, 2, countKind(res.Edges, ir.RelProductHasComponent))
	assert.Equal(t, 2, countKind(res.Edges, ir.RelProductHasFeature))
	assert.Empty(t, res.Gaps)
}

func TestRebuild_ComponentParentJoinsProduct(t *testing.T) {
	p := planning(ir.TypeProduct, "P")
	c := planning(ir.TypeComponent, "C")
	f := planning(ir.TypeFeature, "F")
	f.ParentExternalID = "C"
	f.Containers = ir.Containers{ProductID: "P"}

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, c, f})

	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeComponent, "C"), pkey(ir.TypeFeature, "F"), ir.RelParentOf))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "P"), pkey(ir.TypeComponent, "C"), ir.RelProductHasComponent))
}

func TestRebuild_DirectEdges(t *testing.T) {
	p := planning(ir.TypeProduct, "P")
	c := planning(ir.TypeComponent, "C")
	c.ParentExternalID = "P"
	ini := planning(ir.TypeInitiative, "I")
	f := planning(ir.TypeFeature, "F")
	f.Containers = ir.Containers{InitiativeIDs: []string{"I"}}
	sf := planning(ir.TypeSubfeature, "S")
	sf.ParentExternalID = "F"

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, c, ini, f, sf})

	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "P"), pkey(ir.TypeComponent, "C"), ir.RelParentOf))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "P"), pkey(ir.TypeComponent, "C"), ir.RelProductHasComponent))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeInitiative, "I"), pkey(ir.TypeFeature, "F"), ir.RelInitiativeHasFeat))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeFeature, "F"), pkey(ir.TypeSubfeature, "S"), ir.RelParentOf))
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeFeature, "F"), pkey(ir.TypeSubfeature, "S"), ir.RelFeatureHasSubfeat))
	assert.Empty(t, res.Gaps)
}

func TestRebuild_ParentPreferenceBySameIDAcrossTypes(t *testing.T) {
	// A product and a component share the external id "X".
	p := planning(ir.TypeProduct, "X")
	c := planning(ir.TypeComponent, "X")
	f := planning(ir.TypeFeature, "F")
	f.ParentExternalID = "X"

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, c, f})

	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeComponent, "X"), pkey(ir.TypeFeature, "F"), ir.RelParentOf))
	assert.False(t, hasEdge(res.Edges, pkey(ir.TypeProduct, "X"), pkey(ir.TypeFeature, "F"), ir.RelParentOf))
}

func TestRebuild_GapsForMissingEndpoints(t *testing.T) {
	f := planning(ir.TypeFeature, "F")
	f.ParentExternalID = "gone"
	f.Containers = ir.Containers{ProductID: "P-missing", InitiativeIDs: []string{"I-missing"}}
	ok := planning(ir.TypeSubfeature, "S")
	ok.ParentExternalID = "F"

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{f, ok})

	require.Len(t, res.Gaps, 3)
	kinds := map[ir.RelationKind]string{}
	for _, g := range res.Gaps {
		assert.Equal(t, pkey(ir.TypeFeature, "F"), g.Item)
		kinds[g.Kind] = g.Missing
	}
	assert.Equal(t, "gone", kinds[ir.RelParentOf])
	assert.Equal(t, "P-missing", kinds[ir.RelProductHasFeature])
	assert.Equal(t, "I-missing", kinds[ir.RelInitiativeHasFeat])

	// Edges from the available data are still emitted.
	assert.True(t, hasEdge(res.Edges, pkey(ir.TypeFeature, "F"), pkey(ir.TypeSubfeature, "S"), ir.RelParentOf))
	for _, e := range res.Edges {
		assert.NotEqual(t, "gone", e.From.ExternalID)
	}
}

func TestRebuild_CrossSystemLink(t *testing.T) {
	f := planning(ir.TypeFeature, "F")
	f.CrossSystemRef = "4711"
	wi := ir.CanonicalItem{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: "4711", CrossSystemRef: "F"}
	orphan := ir.CanonicalItem{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: "9", CrossSystemRef: "nope"}
	items := []ir.CanonicalItem{f, wi, orphan}

	t.Run("planning scope", func(t *testing.T) {
		res := NewBuilder().Rebuild(ir.SourcePlanning, items)
		assert.True(t, hasEdge(res.Edges, pkey(ir.TypeFeature, "F"), tkey("4711"), ir.RelCrossSystemLink))
		for _, e := range res.Edges {
			assert.Equal(t, ir.SourcePlanning, e.Scope())
		}
		assert.Empty(t, res.Gaps)
	})

	t.Run("tracking scope", func(t *testing.T) {
		res := NewBuilder().Rebuild(ir.SourceTracking, items)
		assert.True(t, hasEdge(res.Edges, tkey("4711"), pkey(ir.TypeFeature, "F"), ir.RelCrossSystemLink))
		// Unmirrored target still yields an edge with the default target type.
		assert.True(t, hasEdge(res.Edges, tkey("9"), pkey(ir.TypeFeature, "nope"), ir.RelCrossSystemLink))
		require.Len(t, res.Gaps, 1)
		assert.Equal(t, tkey("9"), res.Gaps[0].Item)
		assert.Equal(t, ir.RelCrossSystemLink, res.Gaps[0].Kind)
	})
}

func TestRebuild_WorkItemHierarchy(t *testing.T) {
	epic := ir.CanonicalItem{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: "1"}
	task := ir.CanonicalItem{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: "2", ParentExternalID: "1"}

	res := NewBuilder().Rebuild(ir.SourceTracking, []ir.CanonicalItem{task, epic})

	require.Len(t, res.Edges, 1)
	assert.Equal(t, ir.Relation{From: tkey("1"), To: tkey("2"), Kind: ir.RelParentOf}, res.Edges[0])
}

func TestRebuild_Idempotent(t *testing.T) {
	items := []ir.CanonicalItem{
		planning(ir.TypeProduct, "P1"),
		planning(ir.TypeProduct, "P2"),
		planning(ir.TypeComponent, "C"),
		planning(ir.TypeInitiative, "I"),
	}
	f1 := planning(ir.TypeFeature, "F1")
	f1.Containers = ir.Containers{ProductID: "P1", ComponentID: "C", InitiativeIDs: []string{"I"}}
	f2 := planning(ir.TypeFeature, "F2")
	f2.Containers = ir.Containers{ProductID: "P2", ComponentID: "C"}
	sf := planning(ir.TypeSubfeature, "S")
	sf.ParentExternalID = "F2"
	items = append(items, f1, f2, sf)

	b := NewBuilder()
	first := b.Rebuild(ir.SourcePlanning, items)

	reversed := make([]ir.CanonicalItem, len(items))
	for i := range items {
		reversed[len(items)-1-i] = items[i]
	}
	second := b.Rebuild(ir.SourcePlanning, reversed)

	if diff := cmp.Diff(first.Edges, second.Edges); diff != "" {
		t.Errorf("rebuild not deterministic (-first +second):\n%s", diff)
	}
	assert.Equal(t, first.Hash(), second.Hash())

	add, remove := Diff(second.Edges, first.Edges)
	assert.Empty(t, add)
	assert.Empty(t, remove)
}

func TestRebuild_NoDuplicateEdges(t *testing.T) {
	// The product is both the parent and the container reference.
	p := planning(ir.TypeProduct, "P")
	f := planning(ir.TypeFeature, "F")
	f.ParentExternalID = "P"
	f.Containers = ir.Containers{ProductID: "P"}

	res := NewBuilder().Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, f})

	assert.Equal(t, 1, countKind(res.Edges, ir.RelProductHasFeature))
	assert.Equal(t, 1, countKind(res.Edges, ir.RelParentOf))
}

func TestDiff_PrunesStaleEdges(t *testing.T) {
	p := planning(ir.TypeProduct, "P")
	c1 := planning(ir.TypeComponent, "C1")
	c2 := planning(ir.TypeComponent, "C2")
	f := planning(ir.TypeFeature, "F")
	f.Containers = ir.Containers{ProductID: "P", ComponentID: "C1"}

	b := NewBuilder()
	stored := b.Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, c1, c2, f}).Edges

	// Upstream relinks the feature to another component.
	f.Containers.ComponentID = "C2"
	current := b.Rebuild(ir.SourcePlanning, []ir.CanonicalItem{p, c1, c2, f}).Edges

	add, remove := Diff(current, stored)
	want := ir.Relation{From: pkey(ir.TypeProduct, "P"), To: pkey(ir.TypeComponent, "C2"), Kind: ir.RelProductHasComponent}
	stale := ir.Relation{From: pkey(ir.TypeProduct, "P"), To: pkey(ir.TypeComponent, "C1"), Kind: ir.RelProductHasComponent}
	assert.Equal(t, []ir.Relation{want}, add)
	assert.Equal(t, []ir.Relation{stale}, remove)
}

func TestDiff_Empty(t *testing.T) {
	add, remove := Diff(nil, nil)
	assert.Empty(t, add)
	assert.Empty(t, remove)
}
