// Package feed filters and orders post listings in memory.
package feed

import (
	"slices"
	"strings"
)

// Sort modes.
type SortMode string

const (
	SortRecent  SortMode = "recent"
	SortPopular SortMode = "popular"
)

// Item is the part of a post the feed needs to search and order it.
type Item struct {
	ID      uint     `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
	Likes   int      `json:"likes"`
}

// ParseSort maps a tab name to a sort mode. Unknown names mean recent.
func ParseSort(tab string) SortMode {
	switch strings.ToLower(strings.TrimSpace(tab)) {
	case "popular", "top":
		return SortPopular
	default:
		return SortRecent
	}
}

// Search keeps items whose title or content contains query, or that carry a
// tag containing it, ignoring case. A leading # is ignored for tag matches.
// An empty query returns a copy of items in the same order.
func Search(items []Item, query string) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return slices.Clone(items)
	}
	tagQuery := strings.TrimPrefix(q, "#")

	out := make([]Item, 0, len(items))
	for _, it := range items {
		if matches(it, q, tagQuery) {
			out = append(out, it)
		}
	}
	return out
}

func matches(it Item, q, tagQuery string) bool {
	if strings.Contains(strings.ToLower(it.Title), q) || strings.Contains(strings.ToLower(it.Content), q) {
		return true
	}
	if tagQuery == "" {
		return false
	}
	for _, tag := range it.Tags {
		if strings.Contains(strings.ToLower(tag), tagQuery) {
			return true
		}
	}
	return false
}

// Sort returns a new slice ordered by mode. Recent is descending ID; popular
// is descending likes with ties broken by descending ID.
func Sort(items []Item, mode SortMode) []Item {
	out := slices.Clone(items)
	switch mode {
	case SortPopular:
		slices.SortStableFunc(out, func(a, b Item) int {
			if a.Likes != b.Likes {
				return b.Likes - a.Likes
			}
			return compareIDDesc(a, b)
		})
	default:
		slices.SortStableFunc(out, compareIDDesc)
	}
	return out
}

func compareIDDesc(a, b Item) int {
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	default:
		return 0
	}
}

// LikeOptimistically returns a copy of items with id's like count raised by
// one, ahead of the server confirming it. found is false when id is absent.
func LikeOptimistically(items []Item, id uint) (out []Item, found bool) {
	out = slices.Clone(items)
	for i := range out {
		if out[i].ID == id {
			out[i].Likes++
			return out, true
		}
	}
	return out, false
}
