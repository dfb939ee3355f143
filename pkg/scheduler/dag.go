// SPDX-License-Identifier: Apache-2.0
package scheduler

import (
	"sort"
	"strings"

	enginerrors "github.com/windlass-io/windlass/pkg/errors"

	"github.com/windlass-io/windlass/pkg/core"
)

// validateDAG rejects a batch whose dependency graph is unusable: duplicate
// invocation IDs, edges to IDs outside the batch, or cycles. The whole batch
// is rejected before anything runs.
func validateDAG(invs []*core.Invocation) error {
	index := make(map[string]*core.Invocation, len(invs))
	for _, inv := range invs {
		if _, dup := index[inv.ID]; dup {
			return enginerrors.New(enginerrors.KindValidationFailed, "duplicate invocation id: "+inv.ID, nil)
		}
		index[inv.ID] = inv
	}

	indegree := make(map[string]int, len(invs))
	dependents := make(map[string][]string, len(invs))
	for _, inv := range invs {
		for _, dep := range inv.DependsOn {
			if dep == inv.ID {
				return enginerrors.New(enginerrors.KindValidationFailed, "invocation depends on itself: "+inv.ID, nil)
			}
			if _, ok := index[dep]; !ok {
				return enginerrors.New(enginerrors.KindValidationFailed,
					"invocation "+inv.ID+" depends on unknown invocation "+dep, nil)
			}
			indegree[inv.ID]++
			dependents[dep] = append(dependents[dep], inv.ID)
		}
	}

	// Kahn's algorithm: if the peel does not consume every node, the
	// remainder contains a cycle.
	var ready []string
	for _, inv := range invs {
		if indegree[inv.ID] == 0 {
			ready = append(ready, inv.ID)
		}
	}
	seen := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		seen++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if seen != len(invs) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return enginerrors.New(enginerrors.KindValidationFailed,
			"dependency cycle involving: "+strings.Join(stuck, ", "), nil)
	}
	return nil
}
