// Package query is the read-only view of the mirror for consumers.
//
// Every item handed out has its local edits applied (CanonicalItem.Effective),
// so consumers never see a remote value the user has overridden.
package query

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/store"
)

// Reader is the slice of store.Store the service reads from.
type Reader interface {
	GetItem(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error)
	ListItems(ctx context.Context, filter store.ItemFilter) ([]ir.CanonicalItem, error)
	RelationsFrom(ctx context.Context, key ir.ItemKey) ([]ir.Relation, error)
	RelationsTo(ctx context.Context, key ir.ItemKey) ([]ir.Relation, error)
}

// Service answers item and edge lookups.
type Service struct {
	r Reader
}

// New creates a Service.
func New(r Reader) *Service {
	return &Service{r: r}
}

// ErrNotFound is returned when the requested item is not mirrored.
var ErrNotFound = errors.New("item not found")

// Item returns the effective view of one item.
func (s *Service) Item(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error) {
	it, err := s.r.GetItem(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return ir.CanonicalItem{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ir.CanonicalItem{}, err
	}
	return it.Effective(), nil
}

// Filter narrows Items. Zero fields match everything.
type Filter struct {
	Source ir.SourceSystem
	Type   ir.ItemType

	// Status matches the effective status, local edits included.
	Status string

	// LocalOnly keeps only items carrying local edits.
	LocalOnly bool

	// Limit caps the result; zero means no cap.
	Limit int
}

// Items lists effective items ordered by source, type and external id.
func (s *Service) Items(ctx context.Context, f Filter) ([]ir.CanonicalItem, error) {
	items, err := s.r.ListItems(ctx, store.ItemFilter{Source: f.Source, Type: f.Type})
	if err != nil {
		return nil, err
	}
	out := make([]ir.CanonicalItem, 0, len(items))
	for _, it := range items {
		if f.LocalOnly && !it.HasLocalEdits() {
			continue
		}
		eff := it.Effective()
		if f.Status != "" && eff.Status != f.Status {
			continue
		}
		out = append(out, eff)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Direction tells which end of an edge the queried item is.
type Direction string

const (
	Outgoing Direction = "out"
	Incoming Direction = "in"
)

// Edge is a stored relation seen from one of its ends.
type Edge struct {
	Kind      ir.RelationKind `json:"kind"`
	Direction Direction       `json:"direction"`
	Other     ir.ItemKey      `json:"other"`

	// Title is the effective title of the other end, empty when it is not
	// mirrored (a cross-system link to an item never synced).
	Title    string `json:"title,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Edges returns every edge touching key, outgoing first, each group ordered
// by kind then the other end.
func (s *Service) Edges(ctx context.Context, key ir.ItemKey) ([]Edge, error) {
	from, err := s.r.RelationsFrom(ctx, key)
	if err != nil {
		return nil, err
	}
	to, err := s.r.RelationsTo(ctx, key)
	if err != nil {
		return nil, err
	}

	titles := make(map[ir.ItemKey]*string)
	resolve := func(k ir.ItemKey) (string, bool, error) {
		if t, ok := titles[k]; ok {
			if t == nil {
				return "", false, nil
			}
			return *t, true, nil
		}
		it, err := s.r.GetItem(ctx, k)
		if errors.Is(err, store.ErrNotFound) {
			titles[k] = nil
			return "", false, nil
		}
		if err != nil {
			return "", false, err
		}
		title := it.Effective().Title
		titles[k] = &title
		return title, true, nil
	}

	edges := make([]Edge, 0, len(from)+len(to))
	add := func(rels []ir.Relation, dir Direction) error {
		group := make([]Edge, 0, len(rels))
		for _, r := range rels {
			other := r.To
			if dir == Incoming {
				other = r.From
			}
			title, ok, err := resolve(other)
			if err != nil {
				return err
			}
			group = append(group, Edge{Kind: r.Kind, Direction: dir, Other: other, Title: title, Resolved: ok})
		}
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Kind != group[j].Kind {
				return group[i].Kind < group[j].Kind
			}
			return group[i].Other.Less(group[j].Other)
		})
		edges = append(edges, group...)
		return nil
	}
	if err := add(from, Outgoing); err != nil {
		return nil, err
	}
	if err := add(to, Incoming); err != nil {
		return nil, err
	}
	return edges, nil
}

// Neighborhood is an item with its immediate hierarchy and links.
type Neighborhood struct {
	Item     ir.CanonicalItem   `json:"item"`
	Parent   *ir.CanonicalItem  `json:"parent,omitempty"`
	Children []ir.CanonicalItem `json:"children,omitempty"`

	// Containers are the items holding this one through a *_HAS_* edge,
	// the parent excluded.
	Containers []ir.CanonicalItem `json:"containers,omitempty"`

	// Contents are the items this one holds through a *_HAS_* edge, children
	// excluded.
	Contents []ir.CanonicalItem `json:"contents,omitempty"`

	// Links are cross-system links in either direction.
	Links []Edge `json:"links,omitempty"`
}

// Neighborhood gathers the one-hop view around key. Edge ends that are not
// mirrored are skipped, except cross-system links which are always listed.
func (s *Service) Neighborhood(ctx context.Context, key ir.ItemKey) (Neighborhood, error) {
	item, err := s.Item(ctx, key)
	if err != nil {
		return Neighborhood{}, err
	}
	edges, err := s.Edges(ctx, key)
	if err != nil {
		return Neighborhood{}, err
	}

	hierarchy := make(map[ir.ItemKey]bool)
	for _, e := range edges {
		if e.Kind == ir.RelParentOf {
			hierarchy[e.Other] = true
		}
	}

	n := Neighborhood{Item: item}
	for _, e := range edges {
		if e.Kind == ir.RelCrossSystemLink {
			n.Links = append(n.Links, e)
			continue
		}
		if !e.Resolved || (e.Kind != ir.RelParentOf && hierarchy[e.Other]) {
			continue
		}
		other, err := s.Item(ctx, e.Other)
		if err != nil {
			return Neighborhood{}, err
		}
		switch {
		case e.Kind == ir.RelParentOf && e.Direction == Incoming:
			n.Parent = &other
		case e.Kind == ir.RelParentOf:
			n.Children = append(n.Children, other)
		case e.Direction == Incoming:
			n.Containers = append(n.Containers, other)
		default:
			n.Contents = append(n.Contents, other)
		}
	}
	return n, nil
}
