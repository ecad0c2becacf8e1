package connector

import (
	"context"
	"time"

	"github.com/roach88/planmirror/internal/ir"
)

// ListRequest asks for the ids that changed after Since.
// A zero Since requests a full listing.
type ListRequest struct {
	Source ir.SourceSystem
	Type   ir.ItemType
	Since  time.Time
	Cursor string
}

// ChangedID is one entry of a change listing.
type ChangedID struct {
	ID        string
	ChangedAt time.Time
}

// ListPage is one page of a change listing. An empty NextCursor ends the listing.
type ListPage struct {
	IDs        []ChangedID
	NextCursor string
}

// BatchRequest asks for the raw documents of a bounded set of ids.
type BatchRequest struct {
	Source ir.SourceSystem
	Type   ir.ItemType
	Since  time.Time
	IDs    []string
}

// Fetcher is implemented by every external connector.
//
// FetchBatch may return fewer documents than requested ids (deleted upstream);
// it must not return documents for ids that were not requested.
type Fetcher interface {
	ListChanged(ctx context.Context, req ListRequest) (ListPage, error)
	FetchBatch(ctx context.Context, req BatchRequest) ([]ir.Document, error)
}
