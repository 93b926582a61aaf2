// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlweave

import (
	"fmt"
)

// visitState is the transient visitation state of a relation during one
// sort. It is kept in a map local to the sort call, never on the relation,
// so that relations stay immutable and safely shareable between calls.
type visitState int

const (
	unvisited visitState = iota
	// inProgress marks a relation that has been expanded but whose
	// dependencies have not all completed.
	inProgress
	done
)

// SortDependencies returns the relations reachable from root in topological
// order: every relation appears exactly once, dependencies before their
// dependents, root last. The order is deterministic for a given graph.
//
// If root transitively depends on itself no order exists and
// SortDependencies fails with [ErrCircularDependency].
func SortDependencies(root *Relation) ([]*Relation, error) {
	// Iterative DFS. Recursion depth would otherwise be bounded only by the
	// longest dependency chain of the caller's graph.
	state := map[*Relation]visitState{}
	todo := []*Relation{root}
	var sorted []*Relation

	for len(todo) > 0 {
		t := todo[len(todo)-1]
		todo = todo[:len(todo)-1]
		if state[t] == done {
			// A relation shared by several parents can sit in the stack more
			// than once.
			continue
		}

		pending := t.pendingDeps(state)
		if len(pending) == 0 {
			sorted = append(sorted, t)
			state[t] = done
			continue
		}

		// All dependencies pushed below were popped and completed before t
		// came up again, so a dependency that is still unfinished on the
		// second visit can only mean it leads back to t.
		if state[t] == inProgress {
			return nil, fmt.Errorf("cannot sort dependencies: %w", ErrCircularDependency)
		}
		state[t] = inProgress

		// Reprocess t once its dependencies are done. Dependencies are
		// pushed in reverse so the first name completes first.
		todo = append(todo, t)
		for i := len(pending) - 1; i >= 0; i-- {
			todo = append(todo, pending[i])
		}
	}
	return sorted, nil
}

// pendingDeps returns the relation's distinct dependencies that are not yet
// done, in dependency name order. Duplicate edges to the same relation under
// different names collapse to one entry.
func (r *Relation) pendingDeps(state map[*Relation]visitState) []*Relation {
	var pending []*Relation
	seen := map[*Relation]bool{}
	for _, name := range r.depNames {
		dep := r.deps[name]
		if state[dep] == done || seen[dep] {
			continue
		}
		seen[dep] = true
		pending = append(pending, dep)
	}
	return pending
}
