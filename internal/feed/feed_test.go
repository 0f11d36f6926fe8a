package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sample() []Item {
	return []Item{
		{ID: 1, Title: "Intro to Go", Content: "goroutines and channels", Tags: []string{"go", "concurrency"}, Likes: 5},
		{ID: 2, Title: "Rust ownership", Content: "borrowing explained", Tags: []string{"rust"}, Likes: 9},
		{ID: 3, Title: "Web forms", Content: "HTML basics", Tags: []string{"web", "html"}, Likes: 5},
		{ID: 4, Title: "Testing", Content: "table-driven tests in GO", Tags: nil, Likes: 0},
	}
}

func ids(items []Item) []uint {
	out := make([]uint, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestSearch(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []uint
	}{
		{"empty keeps order", "", []uint{1, 2, 3, 4}},
		{"whitespace is empty", "   ", []uint{1, 2, 3, 4}},
		{"title case-insensitive", "RUST", []uint{2}},
		{"content match", "go", []uint{1, 4}},
		{"tag with hash", "#html", []uint{3}},
		{"tag without hash", "concurrency", []uint{1}},
		{"hash alone matches nothing", "#", nil},
		{"no match", "python", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Search(sample(), tt.query)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, ids(got))
		})
	}
}

func TestSort(t *testing.T) {
	input := sample()

	assert.Equal(t, []uint{4, 3, 2, 1}, ids(Sort(input, SortRecent)))
	assert.Equal(t, []uint{2, 3, 1, 4}, ids(Sort(input, SortPopular)))
	assert.Equal(t, []uint{1, 2, 3, 4}, ids(input), "input must be untouched")
}

func TestParseSort(t *testing.T) {
	assert.Equal(t, SortRecent, ParseSort(""))
	assert.Equal(t, SortRecent, ParseSort("recent"))
	assert.Equal(t, SortPopular, ParseSort("Popular"))
	assert.Equal(t, SortPopular, ParseSort("top"))
	assert.Equal(t, SortRecent, ParseSort("whatever"))
}

func TestLikeOptimistically(t *testing.T) {
	input := sample()

	out, found := LikeOptimistically(input, 3)
	assert.True(t, found)
	assert.Equal(t, 6, out[2].Likes)
	assert.Equal(t, 5, input[2].Likes, "input must be untouched")

	out, found = LikeOptimistically(input, 99)
	assert.False(t, found)
	assert.Equal(t, input, out)
}
