package feed

import (
	"testing"
	"time"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/stretchr/testify/assert"
)

func TestFormatRelativeTime(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		age  time.Duration
		want string
	}{
		{"just now", 0, "0m"},
		{"two minutes", 125 * time.Second, "2m"},
		{"under an hour", 59*time.Minute + 59*time.Second, "59m"},
		{"exactly an hour", time.Hour, "1h"},
		{"under a day", 23*time.Hour + 59*time.Minute, "23h"},
		{"exactly a day", 24 * time.Hour, "1d"},
		{"three days", 72*time.Hour + 30*time.Minute, "3d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatRelativeTime(now.Add(-tt.age), now))
		})
	}
}

func TestFormatRelativeTimeZero(t *testing.T) {
	assert.Equal(t, "", FormatRelativeTime(time.Time{}, time.Now()))
}

func TestChunkIDs(t *testing.T) {
	ids := make([]uint, 25)
	for i := range ids {
		ids[i] = uint(i + 1)
	}

	chunks := ChunkIDs(ids, 10)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 10)
	assert.Len(t, chunks[1], 10)
	assert.Len(t, chunks[2], 5)
	assert.Equal(t, uint(1), chunks[0][0])
	assert.Equal(t, uint(25), chunks[2][4])
}

func TestChunkIDsExactMultiple(t *testing.T) {
	chunks := ChunkIDs([]uint{1, 2, 3, 4}, 2)
	assert.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
}

func TestChunkIDsEmpty(t *testing.T) {
	assert.Nil(t, ChunkIDs(nil, 10))
	assert.Nil(t, ChunkIDs([]uint{1}, 0))
}

func TestSortFeedItemsDesc(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	items := []FeedItem{
		{ID: 1, CreatedAt: base.Add(-3 * time.Hour)},
		{ID: 2, CreatedAt: base},
		{ID: 3, CreatedAt: base.Add(-1 * time.Hour)},
	}

	sortFeedItemsDesc(items)

	assert.Equal(t, uint(2), items[0].ID)
	assert.Equal(t, uint(3), items[1].ID)
	assert.Equal(t, uint(1), items[2].ID)
}

func TestNewFeedItemDenormalizesAuthor(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	post := models.Post{
		UserID:     7,
		Content:    "hello",
		LikesCount: 3,
		User: &models.User{
			Name:     "Ada Lovelace",
			Username: "ada",
			Avatar:   "/media/ada.png",
		},
	}
	post.ID = 42
	post.CreatedAt = now.Add(-2 * time.Minute)

	item := newFeedItem(&post, true, now)

	assert.Equal(t, uint(42), item.ID)
	assert.Equal(t, uint(7), item.AuthorID)
	assert.Equal(t, "Ada Lovelace", item.AuthorName)
	assert.Equal(t, "ada", item.AuthorUsername)
	assert.Equal(t, "/media/ada.png", item.AuthorAvatar)
	assert.Equal(t, "2m", item.Time)
	assert.True(t, item.Liked)
}
