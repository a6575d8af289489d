package endpoint

import "sort"

// sortedIndexOf reconciles a remote extension name list against the
// local one, mapping each remote name to its position in local (or -1
// if local doesn't support it). Ported from the reference
// implementation's sorted_index_of, which resolves names via a sorted
// binary search rather than a linear scan or map — cheap to keep
// faithful here since extension lists are tiny.
func sortedIndexOf(local []string, remote []string) []int {
	type entry struct {
		name string
		idx  int
	}
	sorted := make([]entry, len(local))
	for i, name := range local {
		sorted[i] = entry{name, i}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].name < sorted[j].name })

	out := make([]int, len(remote))
	for i, name := range remote {
		j := sort.Search(len(sorted), func(k int) bool { return sorted[k].name >= name })
		if j < len(sorted) && sorted[j].name == name {
			out[i] = sorted[j].idx
		} else {
			out[i] = -1
		}
	}
	return out
}
