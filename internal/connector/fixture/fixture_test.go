package fixture

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func featureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	write(t, root, "planning/feature/a.yaml", "id: f-a\nname: A\nupdatedAt: 2024-03-01T10:00:00Z\n")
	write(t, root, "planning/feature/b.yml", "id: f-b\nname: B\nupdatedAt: 2024-03-02T10:00:00Z\n")
	write(t, root, "planning/feature/c.json", `{"id": "f-c", "name": "C", "changed_at": "2024-03-03T10:00:00Z"}`)
	write(t, root, "planning/feature/README.md", "ignored")
	write(t, root, "tracking/workitem/7.json", `{"id": 7, "rev": 1, "updatedAt": "2024-03-01T00:00:00Z"}`)
	return root
}

func listAll(t *testing.T, f *Fetcher, req connector.ListRequest) []string {
	t.Helper()
	var ids []string
	for {
		page, err := f.ListChanged(context.Background(), req)
		require.NoError(t, err)
		for _, c := range page.IDs {
			ids = append(ids, c.ID)
		}
		if page.NextCursor == "" {
			return ids
		}
		req.Cursor = page.NextCursor
	}
}

func TestLoad(t *testing.T) {
	f, err := Load(featureRoot(t), 0)
	require.NoError(t, err)

	assert.Equal(t, 3, f.Count(ir.SourcePlanning, ir.TypeFeature))
	assert.Equal(t, 1, f.Count(ir.SourceTracking, ir.TypeWorkItem))
	assert.Equal(t, 0, f.Count(ir.SourcePlanning, ir.TypeProduct))
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing root", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"), 10)
		require.Error(t, err)
	})

	t.Run("root is a file", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "file", "x")
		_, err := Load(filepath.Join(root, "file"), 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not a directory")
	})

	t.Run("missing id", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "planning/feature/x.yaml", "name: no id\n")
		_, err := Load(root, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing id")
	})

	t.Run("duplicate id", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "planning/feature/x.yaml", "id: same\n")
		write(t, root, "planning/feature/y.json", `{"id": "same"}`)
		_, err := Load(root, 10)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate id")
	})

	t.Run("bad yaml", func(t *testing.T) {
		root := t.TempDir()
		write(t, root, "planning/feature/x.yaml", "id: [unclosed\n")
		_, err := Load(root, 10)
		require.Error(t, err)
	})
}

func TestListChanged_PagesInChangeOrder(t *testing.T) {
	f, err := Load(featureRoot(t), 2)
	require.NoError(t, err)

	req := connector.ListRequest{Source: ir.SourcePlanning, Type: ir.TypeFeature}
	page, err := f.ListChanged(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, page.IDs, 2)
	assert.Equal(t, "2", page.NextCursor)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), page.IDs[0].ChangedAt)

	assert.Equal(t, []string{"f-a", "f-b", "f-c"}, listAll(t, f, req))
}

func TestListChanged_SinceIsExclusive(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	req := connector.ListRequest{
		Source: ir.SourcePlanning,
		Type:   ir.TypeFeature,
		Since:  time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
	}
	assert.Equal(t, []string{"f-c"}, listAll(t, f, req))
}

func TestListChanged_BadCursor(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	_, err = f.ListChanged(context.Background(), connector.ListRequest{
		Source: ir.SourcePlanning, Type: ir.TypeFeature, Cursor: "abc",
	})
	require.Error(t, err)
	assert.Equal(t, connector.KindMalformed, connector.KindOf(err))
}

func TestListChanged_Cancelled(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.ListChanged(ctx, connector.ListRequest{Source: ir.SourcePlanning, Type: ir.TypeFeature})
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchBatch(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	docs, err := f.FetchBatch(context.Background(), connector.BatchRequest{
		Source: ir.SourcePlanning,
		Type:   ir.TypeFeature,
		IDs:    []string{"f-c", "gone", "f-a"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2, "unknown ids are skipped")
	assert.Equal(t, "f-c", docs[0]["id"])
	assert.Equal(t, "f-a", docs[1]["id"])
}

func TestFetchBatch_YAMLTimestampsBecomeStrings(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	docs, err := f.FetchBatch(context.Background(), connector.BatchRequest{
		Source: ir.SourcePlanning, Type: ir.TypeFeature, IDs: []string{"f-a"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "2024-03-01T10:00:00Z", docs[0]["updatedAt"])

	_, err = ir.MarshalCanonical(docs[0])
	require.NoError(t, err)
}

func TestFetchBatch_NumericIDs(t *testing.T) {
	f, err := Load(featureRoot(t), 10)
	require.NoError(t, err)

	docs, err := f.FetchBatch(context.Background(), connector.BatchRequest{
		Source: ir.SourceTracking, Type: ir.TypeWorkItem, IDs: []string{"7"},
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
}
