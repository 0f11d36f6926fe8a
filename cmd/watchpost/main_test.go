package main

import (
	"testing"

	"devpress/internal/feed"

	"github.com/stretchr/testify/assert"
)

func TestHandle(t *testing.T) {
	items := []feed.Item{{ID: 7, Title: "Hello", Likes: 3}}

	items = handle([]byte(`{"type":"snapshot","postId":7,"payload":{"postId":7,"reactionCounts":{"like":2,"fire":2},"total":4}}`), items)
	assert.Equal(t, 4, items[0].Likes)

	items = handle([]byte(`{"type":"reaction","postId":7,"userId":2,"payload":{"type":"heart","reactionCounts":{"like":2,"fire":2,"heart":1}}}`), items)
	assert.Equal(t, 5, items[0].Likes)

	items = handle([]byte(`{"type":"comment","postId":7,"payload":{"content":"hi"}}`), items)
	assert.Equal(t, 5, items[0].Likes)

	items = handle([]byte(`not json`), items)
	assert.Equal(t, 5, items[0].Likes)
}
