package ir

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// SourceSystem identifies which external system a record was mirrored from.
type SourceSystem string

const (
	// SourcePlanning is the product-planning system (products, components, features).
	SourcePlanning SourceSystem = "PLANNING"

	// SourceTracking is the work-tracking system (work items).
	SourceTracking SourceSystem = "TRACKING"
)

// Valid reports whether s is a known source system.
func (s SourceSystem) Valid() bool {
	return s == SourcePlanning || s == SourceTracking
}

// Other returns the counterpart system used for cross-system references.
func (s SourceSystem) Other() SourceSystem {
	if s == SourcePlanning {
		return SourceTracking
	}
	return SourcePlanning
}

// ParseSourceSystem accepts the canonical upper-case name or its lower-case form.
func ParseSourceSystem(s string) (SourceSystem, error) {
	v := SourceSystem(upper(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown source system %q", s)
	}
	return v, nil
}

// ItemType is the kind of entity a CanonicalItem represents.
type ItemType string

const (
	TypeProduct    ItemType = "PRODUCT"
	TypeInitiative ItemType = "INITIATIVE"
	TypeComponent  ItemType = "COMPONENT"
	TypeFeature    ItemType = "FEATURE"
	TypeSubfeature ItemType = "SUBFEATURE"
	TypeWorkItem   ItemType = "WORKITEM"
)

// PlanningTypes lists the planning entity types in parent-before-child order.
var PlanningTypes = []ItemType{TypeProduct, TypeInitiative, TypeComponent, TypeFeature, TypeSubfeature}

// TrackingTypes lists the tracking entity types.
var TrackingTypes = []ItemType{TypeWorkItem}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case TypeProduct, TypeInitiative, TypeComponent, TypeFeature, TypeSubfeature, TypeWorkItem:
		return true
	}
	return false
}

// BelongsTo reports whether the item type can be produced by the given source.
func (t ItemType) BelongsTo(s SourceSystem) bool {
	if t == TypeWorkItem {
		return s == SourceTracking
	}
	return t.Valid() && s == SourcePlanning
}

// ParseItemType accepts the canonical upper-case name or its lower-case form.
func ParseItemType(s string) (ItemType, error) {
	v := ItemType(upper(s))
	if !v.Valid() {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return v, nil
}

// TypesFor returns the entity types synced for a source system.
func TypesFor(s SourceSystem) []ItemType {
	if s == SourceTracking {
		return TrackingTypes
	}
	return PlanningTypes
}

// ItemKey is the unique identity of a CanonicalItem.
type ItemKey struct {
	Source     SourceSystem `json:"source_system"`
	Type       ItemType     `json:"item_type"`
	ExternalID string       `json:"external_id"`
}

// String renders the key as SOURCE:TYPE:id.
func (k ItemKey) String() string {
	return string(k.Source) + ":" + string(k.Type) + ":" + k.ExternalID
}

// ParseItemKey parses the SOURCE:TYPE:id form produced by String. Source and
// type are case-insensitive; the id is taken verbatim and may contain colons.
func ParseItemKey(s string) (ItemKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[2] == "" {
		return ItemKey{}, fmt.Errorf("invalid item key %q: want SOURCE:TYPE:id", s)
	}
	src, err := ParseSourceSystem(parts[0])
	if err != nil {
		return ItemKey{}, err
	}
	typ, err := ParseItemType(parts[1])
	if err != nil {
		return ItemKey{}, err
	}
	if !typ.BelongsTo(src) {
		return ItemKey{}, fmt.Errorf("invalid item key %q: %s is not a %s type", s, typ, src)
	}
	return ItemKey{Source: src, Type: typ, ExternalID: parts[2]}, nil
}

// Less orders keys by source, type, then external id.
func (k ItemKey) Less(o ItemKey) bool {
	if k.Source != o.Source {
		return k.Source < o.Source
	}
	if k.Type != o.Type {
		return k.Type < o.Type
	}
	return k.ExternalID < o.ExternalID
}

// Containers holds the type-specific container references carried by a payload.
// They feed PRODUCT_HAS_* and INITIATIVE_HAS_* derivation.
type Containers struct {
	ProductID     string   `json:"product_id,omitempty"`
	ComponentID   string   `json:"component_id,omitempty"`
	InitiativeIDs []string `json:"initiative_ids,omitempty"`
}

// IsZero reports whether no container reference is set.
func (c Containers) IsZero() bool {
	return c.ProductID == "" && c.ComponentID == "" && len(c.InitiativeIDs) == 0
}

// CanonicalItem is the normalized, source-agnostic record for a planning or
// tracking entity.
//
// INVARIANTS:
//   - (Source, Type, ExternalID) is unique
//   - Version strictly increases per key across accepted upserts
//   - CrossSystemRef, once non-empty, is never cleared by a remote upsert
//   - LocalEdits are owned by the local user and never overwritten by a sync
type CanonicalItem struct {
	ExternalID       string       `json:"external_id"`
	Source           SourceSystem `json:"source_system"`
	Type             ItemType     `json:"item_type"`
	Title            string       `json:"title"`
	Description      string       `json:"description"`
	Status           string       `json:"status"`
	ParentExternalID string       `json:"parent_external_id,omitempty"`
	CrossSystemRef   string       `json:"cross_system_ref,omitempty"`
	Containers       Containers   `json:"containers"`
	RawPayload       Document     `json:"raw_payload,omitempty"`
	ContentHash      string       `json:"content_hash,omitempty"`
	LastSyncedAt     time.Time    `json:"last_synced_at"`
	Version          int64        `json:"version"`

	LocalEdits map[string]string `json:"local_edits,omitempty"`
}

// Key returns the item's unique identity.
func (it CanonicalItem) Key() ItemKey {
	return ItemKey{Source: it.Source, Type: it.Type, ExternalID: it.ExternalID}
}

// Editable fields that may carry a local override.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldStatus      = "status"
)

// IsEditableField reports whether a local edit may target the field.
func IsEditableField(f string) bool {
	return f == FieldTitle || f == FieldDescription || f == FieldStatus
}

// Effective returns a copy of the item with local edits applied on top of the
// mirrored remote values.
func (it CanonicalItem) Effective() CanonicalItem {
	out := it
	for f, v := range it.LocalEdits {
		switch f {
		case FieldTitle:
			out.Title = v
		case FieldDescription:
			out.Description = v
		case FieldStatus:
			out.Status = v
		}
	}
	return out
}

// HasLocalEdits reports whether the item carries unsynced local changes.
func (it CanonicalItem) HasLocalEdits() bool {
	return len(it.LocalEdits) > 0
}

// RelationKind is the type of a derived edge.
type RelationKind string

const (
	RelParentOf            RelationKind = "PARENT_OF"
	RelProductHasComponent RelationKind = "PRODUCT_HAS_COMPONENT"
	RelProductHasFeature   RelationKind = "PRODUCT_HAS_FEATURE"
	RelInitiativeHasFeat   RelationKind = "INITIATIVE_HAS_FEATURE"
	RelFeatureHasSubfeat   RelationKind = "FEATURE_HAS_SUBFEATURE"
	RelCrossSystemLink     RelationKind = "CROSS_SYSTEM_LINK"
)

// Valid reports whether k is a known relation kind.
func (k RelationKind) Valid() bool {
	switch k {
	case RelParentOf, RelProductHasComponent, RelProductHasFeature,
		RelInitiativeHasFeat, RelFeatureHasSubfeat, RelCrossSystemLink:
		return true
	}
	return false
}

// Relation is a typed directed edge between two canonical items.
// Relations are always derived from items, never authored.
type Relation struct {
	From ItemKey      `json:"from"`
	To   ItemKey      `json:"to"`
	Kind RelationKind `json:"kind"`
}

// ID returns the content-addressed identity of the edge.
func (r Relation) ID() string {
	return RelationID(r)
}

// Scope is the source system that owns the edge (the source of its From end).
func (r Relation) Scope() SourceSystem {
	return r.From.Source
}

// String renders the edge for logs and diagnostics.
func (r Relation) String() string {
	return fmt.Sprintf("%s(%s -> %s)", r.Kind, r.From, r.To)
}

// SortRelations orders edges by kind, from, then to. Derivation output is
// always sorted so that equal sets serialize identically.
func SortRelations(rels []Relation) {
	sort.Slice(rels, func(i, j int) bool {
		a, b := rels[i], rels[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.From != b.From {
			return a.From.Less(b.From)
		}
		return a.To.Less(b.To)
	})
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
