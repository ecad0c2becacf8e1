// Package fixture provides a directory-backed connector.Fetcher.
//
// Layout: <root>/<source>/<type>/*.yaml (or .yml/.json), one document per
// file, directory names in lower case (planning/feature, tracking/workitem).
// The change time of a document is read from "updatedAt" or "changed_at"
// (RFC 3339). It serves offline syncs from exported payloads and tests.
package fixture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
)

// DefaultPageSize is the listing page size when none is configured.
const DefaultPageSize = 500

type entry struct {
	id        string
	changedAt time.Time
	doc       ir.Document
}

// Fetcher serves documents loaded from a fixture directory.
// It is read-only after Load and safe for concurrent use.
type Fetcher struct {
	pageSize int
	entries  map[string][]entry // "<source>/<type>" -> sorted by (changedAt, id)
	byID     map[string]map[string]ir.Document
}

var _ connector.Fetcher = (*Fetcher)(nil)

// Load reads every document under root.
func Load(root string, pageSize int) (*Fetcher, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("fixture root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fixture root %s is not a directory", root)
	}

	f := &Fetcher{
		pageSize: pageSize,
		entries:  make(map[string][]entry),
		byID:     make(map[string]map[string]ir.Document),
	}

	for _, src := range []ir.SourceSystem{ir.SourcePlanning, ir.SourceTracking} {
		for _, typ := range ir.TypesFor(src) {
			dir := filepath.Join(root, strings.ToLower(string(src)), strings.ToLower(string(typ)))
			if err := f.loadDir(src, typ, dir); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func (f *Fetcher) loadDir(src ir.SourceSystem, typ ir.ItemType, dir string) error {
	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read fixture dir %s: %w", dir, err)
	}

	key := bucket(src, typ)
	f.byID[key] = make(map[string]ir.Document)
	for _, file := range files {
		ext := strings.ToLower(filepath.Ext(file.Name()))
		if file.IsDir() || (ext != ".yaml" && ext != ".yml" && ext != ".json") {
			continue
		}
		path := filepath.Join(dir, file.Name())
		doc, err := readDocument(path)
		if err != nil {
			return err
		}
		id := idString(doc["id"])
		if id == "" {
			return fmt.Errorf("fixture %s: missing id", path)
		}
		if _, dup := f.byID[key][id]; dup {
			return fmt.Errorf("fixture %s: duplicate id %q", path, id)
		}
		f.byID[key][id] = doc
		f.entries[key] = append(f.entries[key], entry{id: id, changedAt: changedAt(doc), doc: doc})
	}

	sort.Slice(f.entries[key], func(i, j int) bool {
		a, b := f.entries[key][i], f.entries[key][j]
		if !a.changedAt.Equal(b.changedAt) {
			return a.changedAt.Before(b.changedAt)
		}
		return a.id < b.id
	})
	return nil
}

// ListChanged pages through ids changed strictly after req.Since.
// The cursor is the offset into the filtered listing.
func (f *Fetcher) ListChanged(ctx context.Context, req connector.ListRequest) (connector.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return connector.ListPage{}, err
	}
	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil || n < 0 {
			return connector.ListPage{}, connector.NewFetchError(connector.KindMalformed, "invalid cursor "+req.Cursor)
		}
		offset = n
	}

	var changed []connector.ChangedID
	for _, e := range f.entries[bucket(req.Source, req.Type)] {
		if req.Since.IsZero() || e.changedAt.After(req.Since) {
			changed = append(changed, connector.ChangedID{ID: e.id, ChangedAt: e.changedAt})
		}
	}
	if offset >= len(changed) {
		return connector.ListPage{}, nil
	}

	end := min(offset+f.pageSize, len(changed))
	page := connector.ListPage{IDs: changed[offset:end]}
	if end < len(changed) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// FetchBatch returns the documents for the requested ids. Unknown ids are skipped.
func (f *Fetcher) FetchBatch(ctx context.Context, req connector.BatchRequest) ([]ir.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := make([]ir.Document, 0, len(req.IDs))
	byID := f.byID[bucket(req.Source, req.Type)]
	for _, id := range req.IDs {
		if doc, ok := byID[id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// Count returns the number of documents loaded for a source and type.
func (f *Fetcher) Count(src ir.SourceSystem, typ ir.ItemType) int {
	return len(f.entries[bucket(src, typ)])
}

func bucket(src ir.SourceSystem, typ ir.ItemType) string {
	return string(src) + "/" + string(typ)
}

func readDocument(path string) (ir.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture %s: %w", path, err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		doc, err := ir.ParseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("fixture %s: %w", path, err)
		}
		return doc, nil
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("fixture %s: empty document", path)
	}
	return ir.Document(plainYAML(raw).(map[string]any)), nil
}

// plainYAML rewrites values YAML decodes into types that JSON payloads never
// carry: timestamps become RFC 3339 strings.
func plainYAML(v any) any {
	switch val := v.(type) {
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		for k, e := range val {
			val[k] = plainYAML(e)
		}
		return val
	case []any:
		for i, e := range val {
			val[i] = plainYAML(e)
		}
		return val
	}
	return v
}

func idString(v any) string {
	switch id := v.(type) {
	case string:
		return strings.TrimSpace(id)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case fmt.Stringer:
		return id.String()
	}
	return ""
}

func changedAt(doc ir.Document) time.Time {
	for _, key := range []string{"updatedAt", "changed_at"} {
		switch v := doc[key].(type) {
		case string:
			if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
				return t.UTC()
			}
		case time.Time:
			return v.UTC()
		}
	}
	return time.Time{}
}
