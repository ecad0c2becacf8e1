package query

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/cache"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/store"
)

func planning(typ ir.ItemType, id string) ir.ItemKey {
	return ir.ItemKey{Source: ir.SourcePlanning, Type: typ, ExternalID: id}
}

// seed mirrors p1 <- f1 <- s1 with f1 linked to unmirrored work item 42 and
// carrying a local title.
func seed(t *testing.T) *Service {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "query.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	syncedAt := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	items := []ir.CanonicalItem{
		{Type: ir.TypeProduct, ExternalID: "p1", Title: "Product", Status: "Active"},
		{Type: ir.TypeFeature, ExternalID: "f1", Title: "Remote title", Status: "New", ParentExternalID: "p1", CrossSystemRef: "42"},
		{Type: ir.TypeFeature, ExternalID: "f2", Title: "Other", Status: "New"},
		{Type: ir.TypeSubfeature, ExternalID: "s1", Title: "Sub", Status: "New", ParentExternalID: "f1"},
	}
	for _, it := range items {
		it.Source = ir.SourcePlanning
		it.Version = 1
		it.LastSyncedAt = syncedAt
		_, err := s.UpsertItem(ctx, it)
		require.NoError(t, err)
	}
	require.NoError(t, s.SetLocalEdit(ctx, planning(ir.TypeFeature, "f1"), ir.FieldTitle, "Local title"))
	require.NoError(t, s.SetLocalEdit(ctx, planning(ir.TypeFeature, "f1"), ir.FieldStatus, "Done"))

	_, err = cache.New(s, cache.Options{}).RefreshEdges(ctx, ir.SourcePlanning)
	require.NoError(t, err)
	return New(s)
}

func TestService_ItemAppliesLocalEdits(t *testing.T) {
	svc := seed(t)

	it, err := svc.Item(context.Background(), planning(ir.TypeFeature, "f1"))
	require.NoError(t, err)
	assert.Equal(t, "Local title", it.Title)
	assert.Equal(t, "Done", it.Status)
	assert.True(t, it.HasLocalEdits())

	_, err = svc.Item(context.Background(), planning(ir.TypeFeature, "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_Items(t *testing.T) {
	svc := seed(t)
	ctx := context.Background()

	features, err := svc.Items(ctx, Filter{Type: ir.TypeFeature})
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "f1", features[0].ExternalID)
	assert.Equal(t, "Local title", features[0].Title)

	done, err := svc.Items(ctx, Filter{Status: "Done"})
	require.NoError(t, err)
	require.Len(t, done, 1, "status matches the effective value")
	assert.Equal(t, "f1", done[0].ExternalID)

	stale, err := svc.Items(ctx, Filter{Type: ir.TypeFeature, Status: "New"})
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "f2", stale[0].ExternalID)

	local, err := svc.Items(ctx, Filter{LocalOnly: true})
	require.NoError(t, err)
	assert.Len(t, local, 1)

	limited, err := svc.Items(ctx, Filter{Source: ir.SourcePlanning, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := svc.Items(ctx, Filter{Source: ir.SourceTracking})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestService_Edges(t *testing.T) {
	svc := seed(t)

	edges, err := svc.Edges(context.Background(), planning(ir.TypeFeature, "f1"))
	require.NoError(t, err)

	workItem := ir.ItemKey{Source: ir.SourceTracking, Type: ir.TypeWorkItem, ExternalID: "42"}
	assert.Equal(t, []Edge{
		{Kind: ir.RelCrossSystemLink, Direction: Outgoing, Other: workItem},
		{Kind: ir.RelFeatureHasSubfeat, Direction: Outgoing, Other: planning(ir.TypeSubfeature, "s1"), Title: "Sub", Resolved: true},
		{Kind: ir.RelParentOf, Direction: Outgoing, Other: planning(ir.TypeSubfeature, "s1"), Title: "Sub", Resolved: true},
		{Kind: ir.RelParentOf, Direction: Incoming, Other: planning(ir.TypeProduct, "p1"), Title: "Product", Resolved: true},
		{Kind: ir.RelProductHasFeature, Direction: Incoming, Other: planning(ir.TypeProduct, "p1"), Title: "Product", Resolved: true},
	}, edges)
}

func TestService_EdgesShowEffectiveTitles(t *testing.T) {
	svc := seed(t)

	edges, err := svc.Edges(context.Background(), planning(ir.TypeSubfeature, "s1"))
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	for _, e := range edges {
		assert.Equal(t, Incoming, e.Direction)
		assert.Equal(t, "Local title", e.Title)
	}
}

func TestService_Neighborhood(t *testing.T) {
	svc := seed(t)

	n, err := svc.Neighborhood(context.Background(), planning(ir.TypeFeature, "f1"))
	require.NoError(t, err)

	assert.Equal(t, "Local title", n.Item.Title)
	require.NotNil(t, n.Parent)
	assert.Equal(t, "p1", n.Parent.ExternalID)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "s1", n.Children[0].ExternalID)
	assert.Empty(t, n.Containers, "the parent is not repeated as a container")
	assert.Empty(t, n.Contents, "children are not repeated as contents")
	require.Len(t, n.Links, 1)
	assert.False(t, n.Links[0].Resolved)

	_, err = svc.Neighborhood(context.Background(), planning(ir.TypeFeature, "missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_NeighborhoodOfProduct(t *testing.T) {
	svc := seed(t)

	n, err := svc.Neighborhood(context.Background(), planning(ir.TypeProduct, "p1"))
	require.NoError(t, err)
	assert.Nil(t, n.Parent)
	require.Len(t, n.Children, 1)
	assert.Equal(t, "Local title", n.Children[0].Title)
	assert.Empty(t, n.Contents)
}
