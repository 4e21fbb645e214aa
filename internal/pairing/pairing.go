package pairing

import (
	"path"
	"sort"
)

// Libs maps library paths to the alias basenames that point at them.
type Libs map[string]map[string]struct{}

// Pair is one destination/submission library comparison.
type Pair struct {
	DstLib string `json:"dstLib"`
	SrcLib string `json:"srcLib"`
}

// Match pairs every destination library with its counterparts in src. It
// returns the pairs in order and the destination libraries that have no
// counterpart at all.
func Match(dst, src Libs) ([]Pair, []string) {
	srcAliases := map[string]map[string]struct{}{}
	for lib, aliases := range src {
		for a := range aliases {
			if srcAliases[a] == nil {
				srcAliases[a] = map[string]struct{}{}
			}
			srcAliases[a][lib] = struct{}{}
		}
	}

	seen := map[Pair]bool{}
	var pairs []Pair
	var missing []string
	add := func(p Pair) {
		if !seen[p] {
			seen[p] = true
			pairs = append(pairs, p)
		}
	}
	for _, lib := range sortedKeys(dst) {
		if _, ok := src[lib]; ok {
			add(Pair{DstLib: lib, SrcLib: lib})
			continue
		}
		// A renamed library is found through its own soname or through any
		// alias the destination ships for it.
		names := map[string]struct{}{path.Base(lib): {}}
		for a := range dst[lib] {
			names[a] = struct{}{}
		}
		found := false
		for _, a := range sortedKeys(names) {
			for _, s := range sortedKeys(srcAliases[a]) {
				add(Pair{DstLib: lib, SrcLib: s})
				found = true
			}
		}
		if !found {
			missing = append(missing, lib)
		}
	}
	return pairs, missing
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
