package lock

import (
	"sort"
	"strings"
)

// Resource key constructors. Every lockable resource is addressed by a
// "<kind>:<id>" string.

// ProjectKey returns the lock key for a project.
func ProjectKey(id string) string { return "project:" + id }

// EpicKey returns the lock key for an epic.
func EpicKey(id string) string { return "epic:" + id }

// TaskKey returns the lock key for a task.
func TaskKey(id string) string { return "task:" + id }

// DependencyKey returns the lock key for a dependency.
func DependencyKey(id string) string { return "dependency:" + id }

// AgentKey returns the lock key for an agent.
func AgentKey(id string) string { return "agent:" + id }

// kindRank fixes the global acquisition order for composite locks:
// project -> epic -> task -> dependency -> agent. Acquiring in this
// order prevents lock-order deadlocks across components.
var kindRank = map[string]int{
	"project":    0,
	"epic":       1,
	"task":       2,
	"dependency": 3,
	"agent":      4,
}

// SortResources orders resource keys by the global acquisition order,
// then lexicographically within a kind.
func SortResources(resources []string) {
	sort.SliceStable(resources, func(i, j int) bool {
		ri, rj := rank(resources[i]), rank(resources[j])
		if ri != rj {
			return ri < rj
		}
		return resources[i] < resources[j]
	})
}

// rank returns the acquisition rank for a resource key.
func rank(resource string) int {
	kind, _, ok := strings.Cut(resource, ":")
	if !ok {
		return len(kindRank)
	}
	r, ok := kindRank[kind]
	if !ok {
		return len(kindRank)
	}
	return r
}
