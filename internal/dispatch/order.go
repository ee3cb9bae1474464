package dispatch

import (
	"sort"
	"strings"
)

// CycleDiagnostic reports one ordering cycle detected while sorting. Cycles
// are non-fatal: the participants are appended to the result sorted by
// (numeric order, id) and the caller decides whether to log the diagnostic.
type CycleDiagnostic struct {
	Members []string
}

func (d CycleDiagnostic) String() string {
	return "ordering cycle between: " + strings.Join(d.Members, " -> ")
}

// OrderAccessors extracts identity and ordering constraints from items so the
// sort itself stays free of reflection.
type OrderAccessors[T any] struct {
	ID       func(T) string
	Before   func(T) []string
	After    func(T) []string
	NumOrder func(T) int
}

// SortOrdered deterministically orders items under partial declarative
// constraints.
//
// When no item carries a relative constraint the result is a stable sort by
// numeric order alone: equal keys preserve their original relative position.
// Otherwise a Kahn topological sort runs over the constraint graph with the
// ready queue kept in (numeric order, id) order, which yields determinism and
// the numeric tiebreak for unconstrained ties. References to ids absent from
// the candidate set are ignored.
//
// Items left with unresolved in-degree after the ready queue drains form a
// cycle. They are not dropped: one diagnostic per drain names the
// participants, and the items are appended sorted by (numeric order, id).
// The result always contains every input item exactly once.
func SortOrdered[T any](items []T, acc OrderAccessors[T]) ([]T, []CycleDiagnostic) {
	if len(items) == 0 {
		return nil, nil
	}

	constrained := false
	present := make(map[string]int, len(items))
	for i, item := range items {
		present[acc.ID(item)] = i
		if len(acc.Before(item)) > 0 || len(acc.After(item)) > 0 {
			constrained = true
		}
	}

	if !constrained {
		sorted := make([]T, len(items))
		copy(sorted, items)
		sort.SliceStable(sorted, func(i, j int) bool {
			return acc.NumOrder(sorted[i]) < acc.NumOrder(sorted[j])
		})
		return sorted, nil
	}

	// Edge A->B means A precedes B. Deduplicated so in-degrees stay exact.
	succ := make(map[string]map[string]struct{}, len(items))
	indegree := make(map[string]int, len(items))
	for id := range present {
		succ[id] = make(map[string]struct{})
		indegree[id] = 0
	}
	addEdge := func(from, to string) {
		if _, ok := present[from]; !ok {
			return
		}
		if _, ok := present[to]; !ok {
			return
		}
		if from == to {
			return
		}
		if _, dup := succ[from][to]; dup {
			return
		}
		succ[from][to] = struct{}{}
		indegree[to]++
	}
	for _, item := range items {
		id := acc.ID(item)
		for _, target := range acc.Before(item) {
			addEdge(id, target)
		}
		for _, target := range acc.After(item) {
			addEdge(target, id)
		}
	}

	byID := func(id string) T { return items[present[id]] }
	less := func(a, b string) bool {
		oa, ob := acc.NumOrder(byID(a)), acc.NumOrder(byID(b))
		if oa != ob {
			return oa < ob
		}
		return a < b
	}
	insertReady := func(queue []string, id string) []string {
		pos := sort.Search(len(queue), func(i int) bool { return less(id, queue[i]) })
		queue = append(queue, "")
		copy(queue[pos+1:], queue[pos:])
		queue[pos] = id
		return queue
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = insertReady(ready, id)
		}
	}

	result := make([]T, 0, len(items))
	placed := make(map[string]struct{}, len(items))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		result = append(result, byID(id))
		placed[id] = struct{}{}
		for next := range succ[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = insertReady(ready, next)
			}
		}
	}

	if len(result) == len(items) {
		return result, nil
	}

	// Remaining items participate in (or depend on) a cycle. Append them in
	// (numeric order, id) order and report one diagnostic.
	var remaining []string
	for id := range present {
		if _, ok := placed[id]; !ok {
			remaining = append(remaining, id)
		}
	}
	sort.Slice(remaining, func(i, j int) bool { return less(remaining[i], remaining[j]) })
	for _, id := range remaining {
		result = append(result, byID(id))
	}

	return result, []CycleDiagnostic{{Members: remaining}}
}

// handlerAccessors and middlewareAccessors bind the generic sort to the
// descriptor types used by the assembler and the notification publisher.
func handlerAccessors() OrderAccessors[*HandlerDescriptor] {
	return OrderAccessors[*HandlerDescriptor]{
		ID:       func(d *HandlerDescriptor) string { return d.Name },
		Before:   func(d *HandlerDescriptor) []string { return d.OrderBefore },
		After:    func(d *HandlerDescriptor) []string { return d.OrderAfter },
		NumOrder: func(d *HandlerDescriptor) int { return d.Order },
	}
}

func middlewareAccessors() OrderAccessors[*MiddlewareDescriptor] {
	return OrderAccessors[*MiddlewareDescriptor]{
		ID:       func(d *MiddlewareDescriptor) string { return d.Name },
		Before:   func(d *MiddlewareDescriptor) []string { return d.OrderBefore },
		After:    func(d *MiddlewareDescriptor) []string { return d.OrderAfter },
		NumOrder: func(d *MiddlewareDescriptor) int { return d.Order },
	}
}
