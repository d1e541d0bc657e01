package redact

import "sort"

// Resolve selects a non-overlapping subset of candidate spans and returns
// it in document order (ascending start).
//
// Candidates are ranked by score descending, then span length descending
// (among equal confidence the longer, more specific span wins), then start
// ascending, then input position ascending. The last two keys make the
// order total, so identical input always produces identical output. The
// ranked list is walked greedily, accepting each span that does not overlap
// an already-accepted one. This is a greedy approximation of the
// maximum-weight independent set, deterministic rather than globally
// optimal.
func Resolve(candidates []Span) []Span {
	order := make([]int, len(candidates))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		si, sj := candidates[order[a]], candidates[order[b]]
		if si.Score != sj.Score {
			return si.Score > sj.Score
		}
		if si.Len() != sj.Len() {
			return si.Len() > sj.Len()
		}
		if si.Start != sj.Start {
			return si.Start < sj.Start
		}
		return order[a] < order[b]
	})

	var accepted []Span
	for _, idx := range order {
		c := candidates[idx]
		overlaps := false
		for _, a := range accepted {
			if c.Overlaps(a) {
				overlaps = true
				break
			}
		}
		if !overlaps {
			accepted = append(accepted, c)
		}
	}

	sort.Slice(accepted, func(i, j int) bool { return accepted[i].Start < accepted[j].Start })
	return accepted
}
