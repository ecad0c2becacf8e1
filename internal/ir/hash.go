package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainItemContent = "planmirror/item-content/v1"
	DomainRelation    = "planmirror/relation/v1"
	DomainEdgeSet     = "planmirror/edge-set/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash computes the hash of an item's normalized fields.
//
// Version, LastSyncedAt, RawPayload and LocalEdits are excluded: the hash
// answers "did the mirrored content change", which is what an unversioned
// source needs to decide between updated and unchanged.
func ContentHash(it CanonicalItem) (string, error) {
	initiatives := make([]any, len(it.Containers.InitiativeIDs))
	for i, id := range it.Containers.InitiativeIDs {
		initiatives[i] = id
	}
	obj := map[string]any{
		"schema":           SchemaVersion,
		"source_system":    string(it.Source),
		"item_type":        string(it.Type),
		"external_id":      it.ExternalID,
		"title":            it.Title,
		"description":      it.Description,
		"status":           it.Status,
		"parent":           it.ParentExternalID,
		"cross_system_ref": it.CrossSystemRef,
		"product_id":       it.Containers.ProductID,
		"component_id":     it.Containers.ComponentID,
		"initiative_ids":   initiatives,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("ContentHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainItemContent, canonical), nil
}

// RelationID computes the content-addressed identity of an edge.
// Two edges with the same endpoints and kind always share an ID.
func RelationID(r Relation) string {
	data := []byte(string(r.Kind) + "\x00" + r.From.String() + "\x00" + r.To.String())
	return hashWithDomain(DomainRelation, data)
}

// EdgeSetHash fingerprints a set of edges independent of input order.
// Rebuilding edges from an unchanged item set must produce the same hash.
func EdgeSetHash(rels []Relation) string {
	ids := make(map[string]any, len(rels))
	for _, r := range rels {
		ids[r.ID()] = true
	}
	// Marshal cannot fail for map[string]any of bools.
	canonical, _ := MarshalCanonical(ids)
	return hashWithDomain(DomainEdgeSet, canonical)
}
