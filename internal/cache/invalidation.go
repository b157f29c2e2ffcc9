package cache

import "sort"

// RelatedUUIDs carries the relationship neighborhood of a written entity, as
// looked up by the caller before invalidation.
type RelatedUUIDs struct {
	Parents     []string
	Children    []string
	Collections []string
	Uploads     []string
	Revisions   []string
}

// InvalidationSet computes which cached entities a write makes stale: the
// entity itself plus every relative whose derived state (access level,
// association lists, revision links) can change with it. Pure function so the
// fan-out contract is testable without a cache.
func InvalidationSet(uuid string, related RelatedUUIDs) []string {
	set := map[string]bool{}
	add := func(ids ...string) {
		for _, id := range ids {
			if id != "" {
				set[id] = true
			}
		}
	}
	add(uuid)
	add(related.Parents...)
	add(related.Children...)
	add(related.Collections...)
	add(related.Uploads...)
	add(related.Revisions...)

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
