package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemType(t *testing.T) {
	got, err := ParseItemType("feature")
	require.NoError(t, err)
	assert.Equal(t, TypeFeature, got)

	_, err = ParseItemType("epic")
	assert.Error(t, err)
}

func TestItemType_BelongsTo(t *testing.T) {
	assert.True(t, TypeWorkItem.BelongsTo(SourceTracking))
	assert.False(t, TypeWorkItem.BelongsTo(SourcePlanning))
	assert.True(t, TypeComponent.BelongsTo(SourcePlanning))
	assert.False(t, TypeComponent.BelongsTo(SourceTracking))
}

func TestCanonicalItem_Effective(t *testing.T) {
	it := CanonicalItem{
		Title:      "Remote",
		Status:     "Open",
		LocalEdits: map[string]string{FieldTitle: "Local"},
	}

	eff := it.Effective()
	assert.Equal(t, "Local", eff.Title)
	assert.Equal(t, "Open", eff.Status)
	assert.Equal(t, "Remote", it.Title, "Effective must not mutate the receiver")
}

func TestSortRelations_Deterministic(t *testing.T) {
	p := ItemKey{Source: SourcePlanning, Type: TypeProduct, ExternalID: "p"}
	a := ItemKey{Source: SourcePlanning, Type: TypeFeature, ExternalID: "a"}
	b := ItemKey{Source: SourcePlanning, Type: TypeFeature, ExternalID: "b"}

	rels := []Relation{
		{From: p, To: b, Kind: RelProductHasFeature},
		{From: p, To: a, Kind: RelProductHasFeature},
		{From: p, To: a, Kind: RelParentOf},
	}
	SortRelations(rels)

	assert.Equal(t, RelParentOf, rels[0].Kind)
	assert.Equal(t, "a", rels[1].To.ExternalID)
	assert.Equal(t, "b", rels[2].To.ExternalID)
}

func TestParseItemKey(t *testing.T) {
	key, err := ParseItemKey("planning:feature:F-1")
	require.NoError(t, err)
	assert.Equal(t, ItemKey{Source: SourcePlanning, Type: TypeFeature, ExternalID: "F-1"}, key)

	key, err = ParseItemKey("TRACKING:WORKITEM:a:b")
	require.NoError(t, err)
	assert.Equal(t, "a:b", key.ExternalID, "ids may contain colons")
	assert.Equal(t, "TRACKING:WORKITEM:a:b", key.String())

	for _, bad := range []string{"", "PLANNING:FEATURE", "PLANNING:FEATURE:", "OTHER:FEATURE:1", "PLANNING:TASK:1", "TRACKING:FEATURE:1"} {
		_, err := ParseItemKey(bad)
		assert.Error(t, err, bad)
	}
}
