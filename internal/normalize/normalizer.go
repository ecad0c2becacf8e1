package normalize

import (
	"errors"

	"github.com/roach88/planmirror/internal/ir"
)

// Options configures normalization. The zero value is usable.
type Options struct {
	// DefaultStatus is used when a payload carries no resolvable status.
	DefaultStatus string

	// PlanningHost restricts planning hyperlinks found in tracking payloads to
	// this host (or its subdomains). Empty accepts any host.
	PlanningHost string

	// TrackingHost restricts tracking hyperlinks found in planning payloads.
	TrackingHost string
}

// Normalizer converts raw payloads using fixed per-source extraction tables.
// It holds no mutable state and is safe for concurrent use.
type Normalizer struct {
	opts     Options
	planning []fieldRule
	tracking []fieldRule
}

// Canonical field names used in extraction tables and errors.
const (
	fieldID          = "external_id"
	fieldTitle       = "title"
	fieldDescription = "description"
	fieldStatus      = "status"
	fieldParent      = "parent_external_id"
	fieldItemType    = "item_type"
)

// New creates a Normalizer.
func New(opts Options) *Normalizer {
	return &Normalizer{
		opts: opts,
		planning: []fieldRule{
			{fieldID, idAt("id"), noFallback},
			{fieldTitle, firstOf(textAt(nil, "name"), textAt(nil, "title")), noFallback},
			{fieldDescription, textAt([]string{"html", "text", "value"}, "description"), noFallback},
			{fieldStatus, namedAt("status"), defaultStatus},
			{fieldParent, firstOf(
				idAt("parent", "feature", "id"),
				idAt("parent", "component", "id"),
				idAt("parent", "product", "id"),
				idAt("parent", "initiative", "id"),
				idAt("parent", "id"),
				idAt("parent_id"),
				idAt("parentId"),
			), noFallback},
		},
		tracking: []fieldRule{
			{fieldID, idAt("id"), noFallback},
			{fieldTitle, textAt(nil, "fields", "System.Title"), noFallback},
			{fieldDescription, textAt([]string{"html", "text"}, "fields", "System.Description"), noFallback},
			{fieldStatus, namedAt("fields", "System.State"), defaultStatus},
			{fieldParent, firstOf(idAt("fields", "System.Parent"), hierarchyParent), noFallback},
		},
	}
}

var defaultNormalizer = New(Options{})

// Normalize converts a payload with default options.
func Normalize(src ir.SourceSystem, typ ir.ItemType, raw ir.Document) (ir.CanonicalItem, error) {
	return defaultNormalizer.Normalize(src, typ, raw)
}

// Normalize converts one raw payload into a CanonicalItem.
// Returns *NormalizationError when identity fields are missing or invalid.
func (n *Normalizer) Normalize(src ir.SourceSystem, typ ir.ItemType, raw ir.Document) (ir.CanonicalItem, error) {
	if !src.Valid() {
		return ir.CanonicalItem{}, &NormalizationError{Source: src, Type: typ, Field: "source_system", Reason: "unknown source system", Index: -1}
	}
	if !typ.Valid() || !typ.BelongsTo(src) {
		return ir.CanonicalItem{}, &NormalizationError{Source: src, Type: typ, Field: fieldItemType, Reason: "item type missing or not produced by this source", Index: -1}
	}
	if raw == nil {
		return ir.CanonicalItem{}, &NormalizationError{Source: src, Type: typ, Field: fieldID, Reason: "empty payload", Index: -1}
	}

	rules := n.planning
	if src == ir.SourceTracking {
		rules = n.tracking
	}

	values := make(map[string]string, len(rules))
	for _, r := range rules {
		v, ok := r.extract(raw)
		if !ok {
			v = r.fallback(n.opts)
		}
		values[r.field] = v
	}

	id := values[fieldID]
	if id == "" {
		return ir.CanonicalItem{}, &NormalizationError{Source: src, Type: typ, Field: fieldID, Reason: "missing id", Index: -1}
	}

	item := ir.CanonicalItem{
		ExternalID:       id,
		Source:           src,
		Type:             typ,
		Title:            values[fieldTitle],
		Description:      values[fieldDescription],
		Status:           values[fieldStatus],
		ParentExternalID: values[fieldParent],
		CrossSystemRef:   crossSystemRef(src, raw, n.opts),
		RawPayload:       raw,
		Version:          payloadVersion(src, raw),
	}
	if src == ir.SourcePlanning {
		item.Containers = planningContainers(typ, raw)
	}
	if item.ParentExternalID == id {
		item.ParentExternalID = ""
	}

	hash, err := ir.ContentHash(item)
	if err != nil {
		return ir.CanonicalItem{}, &NormalizationError{Source: src, Type: typ, ExternalID: id, Field: "content_hash", Reason: err.Error(), Index: -1}
	}
	item.ContentHash = hash
	return item, nil
}

// BatchResult is the outcome of normalizing one fetched batch.
type BatchResult struct {
	Items  []ir.CanonicalItem
	Errors []*NormalizationError
}

// NormalizeBatch normalizes every payload of a batch. A failing payload is
// reported with its index and never prevents its siblings from normalizing.
func (n *Normalizer) NormalizeBatch(src ir.SourceSystem, typ ir.ItemType, docs []ir.Document) BatchResult {
	res := BatchResult{Items: make([]ir.CanonicalItem, 0, len(docs))}
	for i, doc := range docs {
		item, err := n.Normalize(src, typ, doc)
		if err != nil {
			var ne *NormalizationError
			if !errors.As(err, &ne) {
				ne = &NormalizationError{Source: src, Type: typ, Field: fieldID, Reason: err.Error()}
			}
			ne.Index = i
			if ne.ExternalID == "" {
				ne.ExternalID, _ = scalarID(doc["id"])
			}
			res.Errors = append(res.Errors, ne)
			continue
		}
		res.Items = append(res.Items, item)
	}
	return res
}

// payloadVersion reads the source's revision counter. Planning payloads use
// "version" or fall back to "updatedAt" in unix milliseconds; tracking
// payloads use "rev". Zero means the payload is unversioned.
func payloadVersion(src ir.SourceSystem, doc ir.Document) int64 {
	if src == ir.SourceTracking {
		if v, ok := scalarInt(doc["rev"]); ok && v > 0 {
			return v
		}
		return 0
	}
	if v, ok := scalarInt(doc["version"]); ok && v > 0 {
		return v
	}
	if t, ok := scalarTime(doc["updatedAt"]); ok {
		return t.UnixMilli()
	}
	return 0
}

// planningContainers reads the product, component and initiative references
// a planning payload was fetched under.
func planningContainers(typ ir.ItemType, doc ir.Document) ir.Containers {
	var c ir.Containers
	c.ProductID, _ = firstOf(idAt("product", "id"), idAt("product_id"), idAt("parent", "product", "id"))(doc)
	c.ComponentID, _ = firstOf(idAt("component", "id"), idAt("component_id"), idAt("parent", "component", "id"))(doc)

	c.InitiativeIDs = idList(doc, "initiatives")
	if len(c.InitiativeIDs) == 0 {
		c.InitiativeIDs = idList(doc, "initiative_ids")
	}

	// A container never references the item itself.
	switch typ {
	case ir.TypeProduct:
		c.ProductID = ""
	case ir.TypeComponent:
		c.ComponentID = ""
	case ir.TypeInitiative:
		c.InitiativeIDs = nil
	}
	return c
}

// hierarchyParent reads the parent work item from a tracking relation list
// (rel "System.LinkTypes.Hierarchy-Reverse", url ending in /workItems/<id>).
func hierarchyParent(doc ir.Document) (string, bool) {
	rels, ok := doc.List("relations")
	if !ok {
		return "", false
	}
	for _, e := range rels {
		obj, ok := ir.AsDocument(e)
		if !ok || obj["rel"] != "System.LinkTypes.Hierarchy-Reverse" {
			continue
		}
		u, _ := obj["url"].(string)
		if m := workItemAPIPath.FindStringSubmatch(u); m != nil {
			return m[1], true
		}
	}
	return "", false
}
