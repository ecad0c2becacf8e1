package graph

import (
	"sort"

	"github.com/roach88/planmirror/internal/ir"
)

// Gap reports an edge that could not be fully derived from the items at hand.
// Gaps are informational: the rest of the edge set is still produced.
type Gap struct {
	Item    ir.ItemKey      `json:"item"`
	Kind    ir.RelationKind `json:"kind"`
	Missing string          `json:"missing"`
	Reason  string          `json:"reason"`
}

// Result is the derived edge set of one scope.
type Result struct {
	Scope ir.SourceSystem
	Edges []ir.Relation
	Gaps  []Gap
}

// Hash fingerprints the edge set.
func (r Result) Hash() string {
	return ir.EdgeSetHash(r.Edges)
}

// parentTypes lists, per child type, which item types may be its parent in
// order of preference. External ids are only unique per (source, type), so
// the preference decides between same-id items of different types.
var parentTypes = map[ir.ItemType][]ir.ItemType{
	ir.TypeSubfeature: {ir.TypeFeature},
	ir.TypeFeature:    {ir.TypeComponent, ir.TypeProduct},
	ir.TypeComponent:  {ir.TypeProduct, ir.TypeComponent},
	ir.TypeProduct:    {ir.TypeProduct},
	ir.TypeInitiative: {ir.TypeInitiative},
	ir.TypeWorkItem:   {ir.TypeWorkItem},
}

// crossTargetTypes lists the candidate target types of a cross-system link,
// keyed by the source system of the linking item. The first entry is used
// when the target is not mirrored yet.
var crossTargetTypes = map[ir.SourceSystem][]ir.ItemType{
	ir.SourceTracking: {ir.TypeFeature, ir.TypeSubfeature},
	ir.SourcePlanning: {ir.TypeWorkItem},
}

// Builder derives relations. It is stateless; one value may serve any number
// of rebuilds, but callers must serialize rebuilds per scope so each one
// reads a consistent item snapshot.
type Builder struct{}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// index resolves external ids to item keys per source.
type index map[ir.SourceSystem]map[string]map[ir.ItemType]bool

func newIndex(items []ir.CanonicalItem) index {
	idx := make(index)
	for _, it := range items {
		if idx[it.Source] == nil {
			idx[it.Source] = make(map[string]map[ir.ItemType]bool)
		}
		if idx[it.Source][it.ExternalID] == nil {
			idx[it.Source][it.ExternalID] = make(map[ir.ItemType]bool)
		}
		idx[it.Source][it.ExternalID][it.Type] = true
	}
	return idx
}

// resolve finds the first preferred type present for (source, id).
func (idx index) resolve(src ir.SourceSystem, id string, prefer []ir.ItemType) (ir.ItemKey, bool) {
	types := idx[src][id]
	for _, t := range prefer {
		if types[t] {
			return ir.ItemKey{Source: src, Type: t, ExternalID: id}, true
		}
	}
	return ir.ItemKey{}, false
}

type edgeSet map[string]ir.Relation

func (s edgeSet) add(from, to ir.ItemKey, kind ir.RelationKind) {
	r := ir.Relation{From: from, To: to, Kind: kind}
	s[r.ID()] = r
}

func (s edgeSet) sorted() []ir.Relation {
	out := make([]ir.Relation, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	ir.SortRelations(out)
	return out
}

// Rebuild derives every edge owned by scope from items.
//
// items must be the full current item set of scope. Items of the other
// source system may be included; they are only used to resolve
// cross-system link targets.
func (b *Builder) Rebuild(scope ir.SourceSystem, items []ir.CanonicalItem) Result {
	idx := newIndex(items)
	edges := make(edgeSet)
	var gaps []Gap

	inScope := make([]ir.CanonicalItem, 0, len(items))
	for _, it := range items {
		if it.Source == scope {
			inScope = append(inScope, it)
		}
	}
	sort.Slice(inScope, func(i, j int) bool { return inScope[i].Key().Less(inScope[j].Key()) })

	for _, it := range inScope {
		gaps = append(gaps, b.directEdges(idx, it, edges)...)
	}
	b.twoHopEdges(inScope, idx, edges)

	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Item != gaps[j].Item {
			return gaps[i].Item.Less(gaps[j].Item)
		}
		return gaps[i].Kind < gaps[j].Kind
	})

	return Result{Scope: scope, Edges: edges.sorted(), Gaps: gaps}
}

// directEdges adds the edges derivable from a single item's own fields.
func (b *Builder) directEdges(idx index, it ir.CanonicalItem, edges edgeSet) []Gap {
	var gaps []Gap
	key := it.Key()

	if it.ParentExternalID != "" {
		parent, ok := idx.resolve(it.Source, it.ParentExternalID, parentTypes[it.Type])
		if !ok {
			gaps = append(gaps, Gap{Item: key, Kind: ir.RelParentOf, Missing: it.ParentExternalID, Reason: "parent not mirrored"})
		} else {
			edges.add(parent, key, ir.RelParentOf)
			switch {
			case it.Type == ir.TypeSubfeature && parent.Type == ir.TypeFeature:
				edges.add(parent, key, ir.RelFeatureHasSubfeat)
			case it.Type == ir.TypeFeature && parent.Type == ir.TypeProduct:
				edges.add(parent, key, ir.RelProductHasFeature)
			case it.Type == ir.TypeComponent && parent.Type == ir.TypeProduct:
				edges.add(parent, key, ir.RelProductHasComponent)
			}
		}
	}

	if it.Type == ir.TypeFeature && it.Containers.ProductID != "" {
		product, ok := idx.resolve(it.Source, it.Containers.ProductID, []ir.ItemType{ir.TypeProduct})
		if ok {
			edges.add(product, key, ir.RelProductHasFeature)
		} else {
			gaps = append(gaps, Gap{Item: key, Kind: ir.RelProductHasFeature, Missing: it.Containers.ProductID, Reason: "product not mirrored"})
		}
	}

	if it.Type == ir.TypeComponent && it.Containers.ProductID != "" {
		product, ok := idx.resolve(it.Source, it.Containers.ProductID, []ir.ItemType{ir.TypeProduct})
		if ok {
			edges.add(product, key, ir.RelProductHasComponent)
		} else {
			gaps = append(gaps, Gap{Item: key, Kind: ir.RelProductHasComponent, Missing: it.Containers.ProductID, Reason: "product not mirrored"})
		}
	}

	if it.Type == ir.TypeFeature || it.Type == ir.TypeSubfeature {
		for _, iid := range it.Containers.InitiativeIDs {
			initiative, ok := idx.resolve(it.Source, iid, []ir.ItemType{ir.TypeInitiative})
			if ok {
				edges.add(initiative, key, ir.RelInitiativeHasFeat)
			} else {
				gaps = append(gaps, Gap{Item: key, Kind: ir.RelInitiativeHasFeat, Missing: iid, Reason: "initiative not mirrored"})
			}
		}
	}

	if it.CrossSystemRef != "" {
		other := it.Source.Other()
		prefer := crossTargetTypes[it.Source]
		target, ok := idx.resolve(other, it.CrossSystemRef, prefer)
		if !ok {
			target = ir.ItemKey{Source: other, Type: prefer[0], ExternalID: it.CrossSystemRef}
			gaps = append(gaps, Gap{Item: key, Kind: ir.RelCrossSystemLink, Missing: it.CrossSystemRef, Reason: "cross-system target not mirrored"})
		}
		edges.add(key, target, ir.RelCrossSystemLink)
	}

	return gaps
}

// twoHopEdges joins (product -> feature) with (feature -> component) into
// PRODUCT_HAS_COMPONENT. Only features present in the item set take part,
// so a feature that failed to normalize simply contributes nothing.
func (b *Builder) twoHopEdges(inScope []ir.CanonicalItem, idx index, edges edgeSet) {
	featureComponents := make(map[ir.ItemKey]map[ir.ItemKey]bool)
	addComponent := func(feature, component ir.ItemKey) {
		if featureComponents[feature] == nil {
			featureComponents[feature] = make(map[ir.ItemKey]bool)
		}
		featureComponents[feature][component] = true
	}

	for _, r := range edges {
		if r.Kind == ir.RelParentOf && r.From.Type == ir.TypeComponent && r.To.Type == ir.TypeFeature {
			addComponent(r.To, r.From)
		}
	}
	for _, it := range inScope {
		if it.Type != ir.TypeFeature || it.Containers.ComponentID == "" {
			continue
		}
		if c, ok := idx.resolve(it.Source, it.Containers.ComponentID, []ir.ItemType{ir.TypeComponent}); ok {
			addComponent(it.Key(), c)
		}
	}

	var productFeature []ir.Relation
	for _, r := range edges {
		if r.Kind == ir.RelProductHasFeature {
			productFeature = append(productFeature, r)
		}
	}
	for _, pf := range productFeature {
		for component := range featureComponents[pf.To] {
			edges.add(pf.From, component, ir.RelProductHasComponent)
		}
	}
}

// Diff compares a freshly derived edge set with the stored one.
// add holds edges to insert, remove holds stale edges to prune. Both are sorted.
func Diff(current, stored []ir.Relation) (add, remove []ir.Relation) {
	cur := make(map[string]ir.Relation, len(current))
	for _, r := range current {
		cur[r.ID()] = r
	}
	old := make(map[string]ir.Relation, len(stored))
	for _, r := range stored {
		old[r.ID()] = r
	}

	for id, r := range cur {
		if _, ok := old[id]; !ok {
			add = append(add, r)
		}
	}
	for id, r := range old {
		if _, ok := cur[id]; !ok {
			remove = append(remove, r)
		}
	}
	ir.SortRelations(add)
	ir.SortRelations(remove)
	return add, remove
}
