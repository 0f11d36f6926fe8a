package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"devpress/internal/models"
	"devpress/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemoScenario(t *testing.T) {
	sc, err := DemoScenario()
	require.NoError(t, err)
	assert.Len(t, sc.Users, 4)
	assert.Len(t, sc.Posts, 4)
	assert.Equal(t, "heart", sc.Posts[0].Reactions["grace"])
	assert.True(t, sc.Posts[3].Draft)
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "unknown author",
			yaml:    "users:\n  - username: ada\nposts:\n  - author: bob\n    title: Hi\n",
			wantErr: `unknown user "bob"`,
		},
		{
			name:    "bad reaction",
			yaml:    "users:\n  - username: ada\n  - username: grace\nposts:\n  - author: ada\n    title: Hi\n    reactions:\n      grace: meh\n",
			wantErr: "reactions[grace]",
		},
		{
			name:    "duplicate user",
			yaml:    "users:\n  - username: ada\n  - username: ada\n",
			wantErr: `duplicate username "ada"`,
		},
		{
			name:    "unknown field",
			yaml:    "users:\n  - username: ada\n    admin: true\n",
			wantErr: "field admin not found",
		},
		{
			name:    "empty title",
			yaml:    "users:\n  - username: ada\nposts:\n  - author: ada\n    title: \"  \"\n",
			wantErr: "title is required",
		},
		{
			name:    "reserved username",
			yaml:    "users:\n  - username: admin\n",
			wantErr: "username is reserved",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - username: ada\n"), 0o600))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "ada", sc.Users[0].Username)

	_, err = LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyScenario(t *testing.T) {
	db := testutil.SQLiteDB(t)
	ctx := context.Background()

	sc, err := DemoScenario()
	require.NoError(t, err)

	sum, err := ApplyScenario(ctx, db, sc, Options{RandSeed: 5})
	require.NoError(t, err)
	assert.Equal(t, &Summary{Users: 4, Posts: 4, Reactions: 8, Favorites: 3, Comments: 3, CommentLikes: 3}, sum)

	var grace models.User
	require.NoError(t, db.Where("username = ?", "grace").First(&grace).Error)
	assert.Equal(t, "Grace Hopper", grace.DisplayName)
	require.NotNil(t, grace.Email)
	assert.Equal(t, "grace@devpress.local", *grace.Email)

	var ada models.User
	require.NoError(t, db.Where("username = ?", "ada").First(&ada).Error)
	var engine models.Post
	require.NoError(t, db.Where("title = ?", "Notes on the analytical engine").First(&engine).Error)
	assert.Equal(t, ada.ID, engine.AuthorID)
	assert.True(t, engine.Published)

	var reaction models.Reaction
	require.NoError(t, db.Where("post_id = ? AND user_id = ?", engine.ID, grace.ID).First(&reaction).Error)
	assert.Equal(t, models.ReactionHeart, reaction.Type)

	var draft models.Post
	require.NoError(t, db.Where("title = ?", "Priority displays and graceful overload").First(&draft).Error)
	assert.False(t, draft.Published)
	assert.Nil(t, draft.PublishedAt)

	again, err := ApplyScenario(ctx, db, sc, Options{RandSeed: 6})
	require.NoError(t, err)
	assert.Zero(t, again.Users)
	assert.Equal(t, 4, count(t, db, &models.User{}))
}
