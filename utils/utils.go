package utils

import "sort"

// GetMapSortedKeySlice returns the map's keys in ascending order.
func GetMapSortedKeySlice[K ~string, V any](m map[K]V) []K {
	ks := make([]K, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}
