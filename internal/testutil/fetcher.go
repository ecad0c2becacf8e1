package testutil

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
)

// ScriptedFetcher is an in-memory connector.Fetcher with scripted failures.
//
// Documents are added per (source, type) with a change time. Failures are
// queued per batch, keyed by the first id of the batch request, and consumed
// one per FetchBatch call; once the queue is empty the batch succeeds.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type ScriptedFetcher struct {
	mu        sync.Mutex
	pageSize  int
	entries   map[string][]connector.ChangedID
	docs      map[string]ir.Document
	listErrs  []error
	batchErrs map[string][]error
	sticky    map[string]error
	calls     map[string]int
	onFetch   func(ctx context.Context, req connector.BatchRequest) error
}

// NewScriptedFetcher creates an empty fetcher. pageSize bounds each listing
// page; zero or negative means a single page.
func NewScriptedFetcher(pageSize int) *ScriptedFetcher {
	return &ScriptedFetcher{
		pageSize:  pageSize,
		entries:   make(map[string][]connector.ChangedID),
		docs:      make(map[string]ir.Document),
		batchErrs: make(map[string][]error),
		sticky:    make(map[string]error),
		calls:     make(map[string]int),
	}
}

// Add registers the document listed under id. Adding an id again replaces
// the document and its change time.
func (f *ScriptedFetcher) Add(src ir.SourceSystem, typ ir.ItemType, id string, changedAt time.Time, doc ir.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := bucket(src, typ)
	list := f.entries[b]
	for i, e := range list {
		if e.ID == id {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	list = append(list, connector.ChangedID{ID: id, ChangedAt: changedAt})
	sort.Slice(list, func(i, j int) bool {
		if !list[i].ChangedAt.Equal(list[j].ChangedAt) {
			return list[i].ChangedAt.Before(list[j].ChangedAt)
		}
		return list[i].ID < list[j].ID
	})
	f.entries[b] = list
	f.docs[b+"/"+id] = doc
}

// FailList queues errors for successive ListChanged calls.
func (f *ScriptedFetcher) FailList(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErrs = append(f.listErrs, errs...)
}

// FailBatch queues errors for successive fetches of the batch starting at firstID.
func (f *ScriptedFetcher) FailBatch(firstID string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchErrs[firstID] = append(f.batchErrs[firstID], errs...)
}

// FailBatchAlways makes every fetch of the batch starting at firstID fail with err.
func (f *ScriptedFetcher) FailBatchAlways(firstID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sticky[firstID] = err
}

// OnFetch installs a hook run at the start of every FetchBatch, outside the
// fetcher's lock. A non-nil return fails the call.
func (f *ScriptedFetcher) OnFetch(fn func(ctx context.Context, req connector.BatchRequest) error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFetch = fn
}

// FetchCalls returns how often the batch starting at firstID was fetched.
func (f *ScriptedFetcher) FetchCalls(firstID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[firstID]
}

// TotalFetchCalls returns the number of FetchBatch calls.
func (f *ScriptedFetcher) TotalFetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// ListChanged pages through ids changed strictly after req.Since.
func (f *ScriptedFetcher) ListChanged(ctx context.Context, req connector.ListRequest) (connector.ListPage, error) {
	if err := ctx.Err(); err != nil {
		return connector.ListPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		return connector.ListPage{}, err
	}

	var changed []connector.ChangedID
	for _, e := range f.entries[bucket(req.Source, req.Type)] {
		if req.Since.IsZero() || e.ChangedAt.After(req.Since) {
			changed = append(changed, e)
		}
	}
	offset := 0
	if req.Cursor != "" {
		n, err := strconv.Atoi(req.Cursor)
		if err != nil {
			return connector.ListPage{}, connector.NewFetchError(connector.KindMalformed, "invalid cursor "+req.Cursor)
		}
		offset = n
	}
	if offset >= len(changed) {
		return connector.ListPage{}, nil
	}
	end := len(changed)
	if f.pageSize > 0 {
		end = min(offset+f.pageSize, len(changed))
	}
	page := connector.ListPage{IDs: append([]connector.ChangedID(nil), changed[offset:end]...)}
	if end < len(changed) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// FetchBatch returns the documents for the requested ids, or the next
// scripted failure for the batch.
func (f *ScriptedFetcher) FetchBatch(ctx context.Context, req connector.BatchRequest) ([]ir.Document, error) {
	f.mu.Lock()
	hook := f.onFetch
	first := ""
	if len(req.IDs) > 0 {
		first = req.IDs[0]
	}
	f.calls[first]++
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.sticky[first]; ok {
		return nil, err
	}
	if queued := f.batchErrs[first]; len(queued) > 0 {
		f.batchErrs[first] = queued[1:]
		return nil, queued[0]
	}
	b := bucket(req.Source, req.Type)
	docs := make([]ir.Document, 0, len(req.IDs))
	for _, id := range req.IDs {
		if doc, ok := f.docs[b+"/"+id]; ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

func bucket(src ir.SourceSystem, typ ir.ItemType) string {
	return string(src) + "/" + string(typ)
}

// PlanningDoc builds a minimal planning payload.
func PlanningDoc(id, name string, version int64) ir.Document {
	return ir.Document{"id": id, "name": name, "version": version, "status": map[string]any{"name": "New"}}
}

// TrackingDoc builds a minimal tracking payload.
func TrackingDoc(id, title string, rev int64) ir.Document {
	return ir.Document{
		"id":  id,
		"rev": rev,
		"fields": map[string]any{
			"System.Title": title,
			"System.State": "Active",
		},
	}
}
