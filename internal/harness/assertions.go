package harness

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/planmirror/internal/ir"
	"github.com/roach88/planmirror/internal/store"
)

// AssertionContext provides the mirror that assertions read.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions runs every assertion and returns the failure messages.
// An empty slice means all assertions held.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(a, actx); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Check, err))
		}
	}
	return errs
}

func evaluateAssertion(a Assertion, actx *AssertionContext) error {
	switch a.Check {
	case CheckItemCount:
		return assertItemCount(a, actx)
	case CheckItem:
		return assertItem(a, actx)
	case CheckEdge:
		return assertEdge(a, actx, true)
	case CheckNoEdge:
		return assertEdge(a, actx, false)
	}
	return fmt.Errorf("unknown check %q", a.Check)
}

func assertItemCount(a Assertion, actx *AssertionContext) error {
	src, typ, err := sourceAndType(a.Source, a.Type)
	if err != nil {
		return err
	}
	items, err := actx.Store.ListItems(actx.Ctx, store.ItemFilter{Source: src, Type: typ})
	if err != nil {
		return err
	}
	if len(items) != *a.Count {
		return fmt.Errorf("%d %s %s items, want %d", len(items), src, typ, *a.Count)
	}
	return nil
}

func assertItem(a Assertion, actx *AssertionContext) error {
	key, err := ir.ParseItemKey(a.Key)
	if err != nil {
		return err
	}
	it, err := actx.Store.GetItem(actx.Ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%s not mirrored", key)
	}
	if err != nil {
		return err
	}

	got := map[string]any{
		"title":       it.Title,
		"description": it.Description,
		"status":      it.Status,
		"version":     it.Version,
		"parent":      it.ParentExternalID,
		"cross_ref":   it.CrossSystemRef,
	}
	for field, want := range a.Expect {
		if fmt.Sprint(got[field]) != fmt.Sprint(want) {
			return fmt.Errorf("%s %s = %v, want %v", key, field, got[field], want)
		}
	}
	return nil
}

func assertEdge(a Assertion, actx *AssertionContext, present bool) error {
	from, err := ir.ParseItemKey(a.From)
	if err != nil {
		return err
	}
	to, err := ir.ParseItemKey(a.To)
	if err != nil {
		return err
	}
	want := ir.Relation{From: from, To: to, Kind: ir.RelationKind(a.Kind)}

	rels, err := actx.Store.RelationsFrom(actx.Ctx, from)
	if err != nil {
		return err
	}
	found := false
	for _, r := range rels {
		if r == want {
			found = true
			break
		}
	}
	switch {
	case present && !found:
		return fmt.Errorf("edge %s not found", want)
	case !present && found:
		return fmt.Errorf("edge %s present", want)
	}
	return nil
}
