package normalize

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/ir"
)

func planningFeature() ir.Document {
	return ir.Document{
		"id":          "feat-1",
		"name":        "  Single sign-on ",
		"description": map[string]any{"html": "<p>SSO</p>"},
		"status":      map[string]any{"name": "In Progress", "id": "s1"},
		"parent":      map[string]any{"component": map[string]any{"id": "comp-9"}},
		"product":     map[string]any{"id": "prod-1"},
		"initiatives": []any{
			map[string]any{"id": "ini-2"},
			map[string]any{"id": "ini-1"},
			map[string]any{"id": "ini-2"},
		},
		"links": []any{
			map[string]any{"type": "hyperlink", "url": "https://dev.azure.com/acme/web/_workitems/edit/4711"},
		},
		"version": json.Number("12"),
	}
}

// snapshot projects the normalized fields into canonical JSON for golden files.
func snapshot(t *testing.T, it ir.CanonicalItem) []byte {
	t.Helper()
	initiatives := make([]any, len(it.Containers.InitiativeIDs))
	for i, id := range it.Containers.InitiativeIDs {
		initiatives[i] = id
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"external_id":        it.ExternalID,
		"source_system":      string(it.Source),
		"item_type":          string(it.Type),
		"title":              it.Title,
		"description":        it.Description,
		"status":             it.Status,
		"parent_external_id": it.ParentExternalID,
		"cross_system_ref":   it.CrossSystemRef,
		"version":            it.Version,
		"containers": map[string]any{
			"product_id":     it.Containers.ProductID,
			"component_id":   it.Containers.ComponentID,
			"initiative_ids": initiatives,
		},
	})
	require.NoError(t, err)
	return data
}

func TestNormalize_PlanningFeatureGolden(t *testing.T) {
	item, err := Normalize(ir.SourcePlanning, ir.TypeFeature, planningFeature())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "planning_feature", snapshot(t, item))

	assert.NotEmpty(t, item.ContentHash)
	assert.Equal(t, "feat-1", item.RawPayload["id"], "raw payload is retained")
}

func TestNormalize_StatusObjectUsesName(t *testing.T) {
	doc := ir.Document{"id": "f1", "status": map[string]any{"name": "In Progress"}}

	item, err := Normalize(ir.SourcePlanning, ir.TypeFeature, doc)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", item.Status)
}

func TestNormalize_StatusResolutionOrder(t *testing.T) {
	n := New(Options{DefaultStatus: "Unknown"})

	tests := []struct {
		name   string
		status any
		want   string
	}{
		{"name preferred over displayName", map[string]any{"name": "Planned", "displayName": "Later"}, "Planned"},
		{"displayName when name missing", map[string]any{"displayName": "Later"}, "Later"},
		{"displayName when name blank", map[string]any{"name": "  ", "displayName": "Later"}, "Later"},
		{"bare string", "Done", "Done"},
		{"absent", nil, "Unknown"},
		{"object without names", map[string]any{"id": "x"}, "Unknown"},
		{"unsupported shape", json.Number("3"), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ir.Document{"id": "f1"}
			if tt.status != nil {
				doc["status"] = tt.status
			}
			item, err := n.Normalize(ir.SourcePlanning, ir.TypeFeature, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, item.Status)
		})
	}
}

func TestNormalize_CrossSystemRefResolution(t *testing.T) {
	link := func(typ, url string) map[string]any {
		return map[string]any{"type": typ, "url": url}
	}
	wi := func(n string) string { return "https://dev.azure.com/acme/web/_workitems/edit/" + n }

	tests := []struct {
		name  string
		links []any
		want  string
	}{
		{"exactly one", []any{link("hyperlink", wi("10"))}, "10"},
		{"none", nil, ""},
		{"two distinct", []any{link("hyperlink", wi("10")), link("hyperlink", wi("11"))}, ""},
		{"same target twice", []any{link("hyperlink", wi("10")), link("Hyperlink", wi("10"))}, ""},
		{"non hyperlink ignored", []any{link("attachment", wi("10")), link("hyperlink", wi("12"))}, "12"},
		{"unmatched path", []any{link("hyperlink", "https://example.com/docs/10")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ir.Document{"id": "f1"}
			if tt.links != nil {
				doc["links"] = tt.links
			}
			item, err := Normalize(ir.SourcePlanning, ir.TypeFeature, doc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, item.CrossSystemRef)
		})
	}
}

func TestNormalize_CrossSystemRefHostFilter(t *testing.T) {
	n := New(Options{PlanningHost: "productboard.com"})
	doc := ir.Document{
		"id": json.Number("4711"),
		"relations": []any{
			map[string]any{"rel": "Hyperlink", "url": "https://evil.example/features/abc"},
			map[string]any{"rel": "Hyperlink", "url": "https://acme.productboard.com/feature-board/features/feat-1"},
		},
	}

	item, err := n.Normalize(ir.SourceTracking, ir.TypeWorkItem, doc)
	require.NoError(t, err)
	assert.Equal(t, "feat-1", item.CrossSystemRef)
}

func TestNormalize_TrackingWorkItem(t *testing.T) {
	doc := ir.Document{
		"id":  json.Number("4711"),
		"rev": json.Number("7"),
		"fields": map[string]any{
			"System.Title":       "Implement SSO",
			"System.State":       "Active",
			"System.Description": "<div>details</div>",
		},
		"relations": []any{
			map[string]any{"rel": "System.LinkTypes.Hierarchy-Reverse", "url": "https://dev.azure.com/acme/_apis/wit/workItems/4000"},
			map[string]any{"rel": "Hyperlink", "url": "https://acme.productboard.com/features/feat-1"},
		},
	}

	item, err := Normalize(ir.SourceTracking, ir.TypeWorkItem, doc)
	require.NoError(t, err)

	assert.Equal(t, "4711", item.ExternalID)
	assert.Equal(t, "Implement SSO", item.Title)
	assert.Equal(t, "Active", item.Status)
	assert.Equal(t, "<div>details</div>", item.Description)
	assert.Equal(t, "4000", item.ParentExternalID)
	assert.Equal(t, "feat-1", item.CrossSystemRef)
	assert.Equal(t, int64(7), item.Version)
	assert.True(t, item.Containers.IsZero())
}

func TestNormalize_TrackingStateObject(t *testing.T) {
	doc := ir.Document{
		"id":     4711,
		"fields": map[string]any{"System.State": map[string]any{"displayName": "Resolved"}},
	}

	item, err := Normalize(ir.SourceTracking, ir.TypeWorkItem, doc)
	require.NoError(t, err)
	assert.Equal(t, "4711", item.ExternalID)
	assert.Equal(t, "Resolved", item.Status)
}

func TestNormalize_VersionFromUpdatedAt(t *testing.T) {
	doc := ir.Document{"id": "p1", "updatedAt": "2024-03-01T10:00:00Z"}

	item, err := Normalize(ir.SourcePlanning, ir.TypeProduct, doc)
	require.NoError(t, err)
	assert.Equal(t, int64(1709287200000), item.Version)
}

func TestNormalize_UnversionedPayload(t *testing.T) {
	item, err := Normalize(ir.SourcePlanning, ir.TypeProduct, ir.Document{"id": "p1"})
	require.NoError(t, err)
	assert.Zero(t, item.Version)
}

func TestNormalize_ContainersNeverSelfReference(t *testing.T) {
	doc := ir.Document{"id": "c1", "component_id": "c1", "product_id": "p1"}

	item, err := Normalize(ir.SourcePlanning, ir.TypeComponent, doc)
	require.NoError(t, err)
	assert.Empty(t, item.Containers.ComponentID)
	assert.Equal(t, "p1", item.Containers.ProductID)
}

func TestNormalize_MissingID(t *testing.T) {
	_, err := Normalize(ir.SourcePlanning, ir.TypeFeature, ir.Document{"name": "x"})
	require.Error(t, err)

	var ne *NormalizationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, fieldID, ne.Field)
	assert.True(t, IsNormalizationError(err))
}

func TestNormalize_InvalidItemType(t *testing.T) {
	_, err := Normalize(ir.SourcePlanning, ir.TypeWorkItem, ir.Document{"id": "x"})
	require.Error(t, err)

	var ne *NormalizationError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, fieldItemType, ne.Field)

	_, err = Normalize(ir.SourcePlanning, "", ir.Document{"id": "x"})
	assert.Error(t, err)
}

func TestNormalizeBatch_ErrorsDoNotAbortSiblings(t *testing.T) {
	n := New(Options{})
	docs := []ir.Document{
		{"id": "a", "name": "A"},
		{"name": "no id"},
		{"id": "c", "name": "C"},
	}

	res := n.NormalizeBatch(ir.SourcePlanning, ir.TypeFeature, docs)

	require.Len(t, res.Items, 2)
	assert.Equal(t, "a", res.Items[0].ExternalID)
	assert.Equal(t, "c", res.Items[1].ExternalID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, 1, res.Errors[0].Index)
}

func TestNormalize_Pure(t *testing.T) {
	doc := planningFeature()
	a, err := Normalize(ir.SourcePlanning, ir.TypeFeature, doc)
	require.NoError(t, err)
	b, err := Normalize(ir.SourcePlanning, ir.TypeFeature, doc)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, "  Single sign-on ", doc["name"], "input payload must not be modified")
}
