package dispatch

import (
	"reflect"
	"testing"
)

type orderItem struct {
	id     string
	order  int
	before []string
	after  []string
}

func orderTestAccessors() OrderAccessors[orderItem] {
	return OrderAccessors[orderItem]{
		ID:       func(i orderItem) string { return i.id },
		Before:   func(i orderItem) []string { return i.before },
		After:    func(i orderItem) []string { return i.after },
		NumOrder: func(i orderItem) int { return i.order },
	}
}

func itemIDs(items []orderItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.id
	}
	return out
}

func TestSortOrderedFastPathIsStable(t *testing.T) {
	items := []orderItem{
		{id: "c", order: 10},
		{id: "a", order: 5},
		{id: "b", order: 10},
		{id: "d", order: 1},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	// Equal keys (c, b at order 10) keep their input order.
	want := []string{"d", "a", "c", "b"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedBeforeConstraint(t *testing.T) {
	// Spec-style example: [D(5), A(50, before B), B(60), C(100)] => [D, A, B, C].
	items := []orderItem{
		{id: "D", order: 5},
		{id: "A", order: 50, before: []string{"B"}},
		{id: "B", order: 60},
		{id: "C", order: 100},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []string{"D", "A", "B", "C"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedConstraintBeatsNumericOrder(t *testing.T) {
	items := []orderItem{
		{id: "late", order: 100, before: []string{"early"}},
		{id: "early", order: 1},
	}

	sorted, _ := SortOrdered(items, orderTestAccessors())
	if got := itemIDs(sorted); got[0] != "late" || got[1] != "early" {
		t.Fatalf("expected before-constraint to win over numeric order, got %v", got)
	}
}

func TestSortOrderedAfterMirrorsBefore(t *testing.T) {
	items := []orderItem{
		{id: "a", order: 1, after: []string{"b"}},
		{id: "b", order: 2},
	}

	sorted, _ := SortOrdered(items, orderTestAccessors())
	want := []string{"b", "a"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedUnknownIDsIgnored(t *testing.T) {
	items := []orderItem{
		{id: "a", order: 2, before: []string{"ghost"}},
		{id: "b", order: 1, after: []string{"phantom"}},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []string{"b", "a"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedThreeItemCycle(t *testing.T) {
	items := []orderItem{
		{id: "a", order: 30, before: []string{"b"}},
		{id: "b", order: 20, before: []string{"c"}},
		{id: "c", order: 10, before: []string{"a"}},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(sorted) != 3 {
		t.Fatalf("expected all items retained, got %v", itemIDs(sorted))
	}
	if len(diags) != 1 {
		t.Fatalf("expected 1 cycle diagnostic, got %d", len(diags))
	}
	if len(diags[0].Members) != 3 {
		t.Fatalf("expected 3 cycle members, got %v", diags[0].Members)
	}
	// Cycle members fall back to (numeric order, id).
	want := []string{"c", "b", "a"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedCycleWithHealthyItems(t *testing.T) {
	items := []orderItem{
		{id: "x", order: 1},
		{id: "a", order: 10, before: []string{"b"}},
		{id: "b", order: 10, before: []string{"a"}},
		{id: "y", order: 2},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(diags) != 1 {
		t.Fatalf("expected 1 diagnostic, got %d", len(diags))
	}
	// Healthy items first in (order, id), cycle members appended by (order, id).
	want := []string{"x", "y", "a", "b"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedDeterministic(t *testing.T) {
	items := []orderItem{
		{id: "m3", order: 10, after: []string{"m1"}},
		{id: "m1", order: 10},
		{id: "m2", order: 10, before: []string{"m3"}},
		{id: "m4", order: 5},
	}

	first, _ := SortOrdered(items, orderTestAccessors())
	for i := 0; i < 50; i++ {
		again, _ := SortOrdered(items, orderTestAccessors())
		if !reflect.DeepEqual(itemIDs(first), itemIDs(again)) {
			t.Fatalf("non-deterministic sort: %v vs %v", itemIDs(first), itemIDs(again))
		}
	}
}

func TestSortOrderedReadyQueueTiebreak(t *testing.T) {
	// All unconstrained except one edge; ready-queue ties resolve by
	// (numeric order, id lexicographic).
	items := []orderItem{
		{id: "bb", order: 10},
		{id: "aa", order: 10, before: []string{"bb"}},
		{id: "cc", order: 10},
	}

	sorted, _ := SortOrdered(items, orderTestAccessors())
	want := []string{"aa", "bb", "cc"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedDuplicateConstraintEdges(t *testing.T) {
	items := []orderItem{
		{id: "a", order: 1, before: []string{"b", "b"}},
		{id: "b", order: 2, after: []string{"a"}},
	}

	sorted, diags := SortOrdered(items, orderTestAccessors())
	if len(diags) != 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	want := []string{"a", "b"}
	if !reflect.DeepEqual(itemIDs(sorted), want) {
		t.Fatalf("got %v, want %v", itemIDs(sorted), want)
	}
}

func TestSortOrderedEmptyInput(t *testing.T) {
	sorted, diags := SortOrdered(nil, orderTestAccessors())
	if sorted != nil || diags != nil {
		t.Fatalf("expected nil results for empty input, got %v %v", sorted, diags)
	}
}
