// Package views derives read-only projections from view snapshots.
// Every function returns a new slice; snapshot rows are never mutated.
package views

import (
	"sort"
	"strings"
)

// UniqueBy keeps the first row for every key, preserving order. Rows with an
// empty key are kept as-is.
func UniqueBy[T any](rows []T, key func(T) string) []T {
	if key == nil {
		return append([]T(nil), rows...)
	}
	seen := make(map[string]struct{}, len(rows))
	unique := make([]T, 0, len(rows))
	for _, row := range rows {
		rowKey := key(row)
		if rowKey != "" {
			if _, ok := seen[rowKey]; ok {
				continue
			}
			seen[rowKey] = struct{}{}
		}
		unique = append(unique, row)
	}
	return unique
}

// Search returns the rows where any searchable field contains query,
// ignoring case. A blank query matches every row.
func Search[T any](rows []T, query string, fields func(T) []string) []T {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" || fields == nil {
		return append([]T(nil), rows...)
	}
	matches := make([]T, 0, len(rows))
	for _, row := range rows {
		for _, field := range fields(row) {
			if strings.Contains(strings.ToLower(field), needle) {
				matches = append(matches, row)
				break
			}
		}
	}
	return matches
}

// SortBy returns a stably sorted copy of rows.
func SortBy[T any](rows []T, less func(left, right T) bool) []T {
	sorted := append([]T(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return less(sorted[i], sorted[j])
	})
	return sorted
}

// Find returns the first row with the given key.
func Find[T any](rows []T, key func(T) string, want string) (T, bool) {
	for _, row := range rows {
		if key(row) == want {
			return row, true
		}
	}
	var zero T
	return zero, false
}
