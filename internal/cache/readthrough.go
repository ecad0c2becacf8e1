package cache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/planmirror/internal/connector"
	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/normalize"
)

// Freshness decides whether a cached item may be served without a fetch.
type Freshness struct {
	// MaxAge is how long after LastSyncedAt an item stays fresh. Zero means
	// a cached item never goes stale.
	MaxAge time.Duration

	// Force always fetches; the cached value is only a fallback.
	Force bool
}

// Fresh reports whether it may be served as is at now.
func (f Freshness) Fresh(it ir.CanonicalItem, now time.Time) bool {
	if f.Force {
		return false
	}
	if f.MaxAge <= 0 {
		return true
	}
	return now.Sub(it.LastSyncedAt) <= f.MaxAge
}

// ItemFetcher loads and normalizes a single item from its source system.
type ItemFetcher interface {
	FetchItem(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error)
}

// ConnectorItemFetcher adapts a connector and a normalizer to ItemFetcher.
type ConnectorItemFetcher struct {
	Fetcher    connector.Fetcher
	Normalizer *normalize.Normalizer
}

// FetchItem fetches a one-id batch and normalizes the matching document.
func (c ConnectorItemFetcher) FetchItem(ctx context.Context, key ir.ItemKey) (ir.CanonicalItem, error) {
	docs, err := c.Fetcher.FetchBatch(ctx, connector.BatchRequest{
		Source: key.Source,
		Type:   key.Type,
		IDs:    []string{key.ExternalID},
	})
	if err != nil {
		return ir.CanonicalItem{}, err
	}
	n := c.Normalizer
	if n == nil {
		n = normalize.New(normalize.Options{})
	}
	res := n.NormalizeBatch(key.Source, key.Type, docs)
	for _, it := range res.Items {
		if it.ExternalID == key.ExternalID {
			return it, nil
		}
	}
	if len(res.Errors) > 0 {
		return ir.CanonicalItem{}, res.Errors[0]
	}
	return ir.CanonicalItem{}, connector.NewFetchError(connector.KindNotFound, fmt.Sprintf("%s not returned by source", key))
}

// ReadThrough serves key from the cache when fresh. Otherwise it fetches,
// reconciles and returns the stored result. Concurrent misses for the same
// key share one fetch, which runs detached from any single caller's
// cancellation; a cancelled caller stops waiting without failing the others.
// When the fetch fails and a cached value exists, the stale value is
// returned with a nil error.
func (r *Reconciler) ReadThrough(ctx context.Context, key ir.ItemKey, fetcher ItemFetcher, fresh Freshness) (ir.CanonicalItem, error) {
	cached, err := r.repo.GetItem(ctx, key)
	hit := err == nil
	if err != nil && !isNotFound(err) {
		return ir.CanonicalItem{}, fmt.Errorf("read through %s: %w", key, err)
	}
	if hit && fresh.Fresh(cached, r.now()) {
		return cached, nil
	}

	sharedCtx := context.WithoutCancel(ctx)
	ch := r.flight.DoChan(key.String(), func() (any, error) {
		item, err := fetcher.FetchItem(sharedCtx, key)
		if err != nil {
			return nil, err
		}
		if _, err := r.Upsert(sharedCtx, item); err != nil {
			return nil, err
		}
		stored, err := r.repo.GetItem(sharedCtx, key)
		if err != nil {
			return nil, err
		}
		return stored, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return ir.CanonicalItem{}, fmt.Errorf("read through %s: %w", key, ctx.Err())
	}
	v, err, shared := res.Val, res.Err, res.Shared
	if err != nil {
		if hit {
			r.log.Warn("read-through fetch failed, serving stale item",
				"item", key.String(),
				"error", err.Error(),
			)
			return cached, nil
		}
		return ir.CanonicalItem{}, fmt.Errorf("read through %s: %w", key, err)
	}
	if shared {
		r.log.Debug("read-through fetch shared", "item", key.String())
	}
	return v.(ir.CanonicalItem), nil
}
