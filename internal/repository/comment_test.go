package repository

import (
	"context"
	"regexp"
	"testing"

	"devpress/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentRepository_Create(t *testing.T) {
	db, mock := setupMockDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()

	comment := &models.Comment{Content: "Nice post!", PostID: 1, UserID: 1}

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "comments"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "likes_count"}).AddRow(1, 0))
	mock.ExpectCommit()

	err := repo.Create(ctx, comment)
	assert.NoError(t, err)
	assert.Equal(t, uint(1), comment.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommentRepository_ListByPost(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author, "Thread")
	other := createPost(t, db, author, "Elsewhere")

	for _, c := range []*models.Comment{
		{PostID: post.ID, UserID: reader.ID, Content: "first"},
		{PostID: post.ID, UserID: author.ID, Content: "second"},
		{PostID: other.ID, UserID: reader.ID, Content: "unrelated"},
	} {
		require.NoError(t, repo.Create(ctx, c))
	}

	comments, err := repo.ListByPost(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
	require.NotNil(t, comments[0].User)
	assert.Equal(t, "reader", comments[0].User.Username)
}

func TestCommentRepository_ToggleLike(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCommentRepository(db)
	ctx := context.Background()
	author := createUser(t, db, "author")
	reader := createUser(t, db, "reader")
	post := createPost(t, db, author, "Likes")

	comment := &models.Comment{PostID: post.ID, UserID: author.ID, Content: "like me"}
	require.NoError(t, repo.Create(ctx, comment))

	liked, count, err := repo.ToggleLike(ctx, comment.ID, reader.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)

	liked, count, err = repo.ToggleLike(ctx, comment.ID, author.ID)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 2, count)

	liked, count, err = repo.ToggleLike(ctx, comment.ID, reader.ID)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 1, count)

	stored, err := repo.GetByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.LikesCount)
	assert.True(t, stored.LikedBy(author.ID))
	assert.False(t, stored.LikedBy(reader.ID))

	_, _, err = repo.ToggleLike(ctx, 9999, reader.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
