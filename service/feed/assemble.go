package feed

import (
	"fmt"
	"sort"
	"time"

	"github.com/plumaapp/pluma-server/cmd/models"
	"gorm.io/gorm"
)

// followingChunkSize caps the number of author IDs per feed query. The
// original backend limited "value in list" filters to 10 elements; the limit
// is kept so feed queries stay small and the merge path stays exercised.
const followingChunkSize = 10

// FeedItem is a post joined with its author's display fields and the
// caller's like state — the shape the client renders directly.
type FeedItem struct {
	ID             uint           `json:"id"`
	AuthorID       uint           `json:"author_id"`
	AuthorName     string         `json:"author_name"`
	AuthorUsername string         `json:"author_username"`
	AuthorAvatar   string         `json:"author_avatar"`
	Content        string         `json:"content"`
	Images         []models.Image `json:"images,omitempty"`
	LikesCount     int            `json:"likes_count"`
	CommentsCount  int            `json:"comments_count"`
	RepostsCount   int            `json:"reposts_count"`
	Liked          bool           `json:"liked"`
	Time           string         `json:"time"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FormatRelativeTime renders the age of t at instant now: "12m" under an
// hour, "5h" under a day, "3d" after that.
func FormatRelativeTime(t, now time.Time) string {
	if t.IsZero() {
		return ""
	}

	diff := now.Sub(t)
	minutes := int(diff / time.Minute)
	hours := int(diff / time.Hour)
	days := int(diff / (24 * time.Hour))

	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	} else if hours < 24 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dd", days)
}

// ChunkIDs splits ids into slices of at most size elements.
func ChunkIDs(ids []uint, size int) [][]uint {
	if size <= 0 || len(ids) == 0 {
		return nil
	}

	chunks := make([][]uint, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}

func newFeedItem(post *models.Post, liked bool, now time.Time) FeedItem {
	item := FeedItem{
		ID:            post.ID,
		AuthorID:      post.UserID,
		Content:       post.Content,
		Images:        post.Images,
		LikesCount:    post.LikesCount,
		CommentsCount: post.CommentsCount,
		RepostsCount:  post.RepostsCount,
		Liked:         liked,
		Time:          FormatRelativeTime(post.CreatedAt, now),
		CreatedAt:     post.CreatedAt,
		UpdatedAt:     post.UpdatedAt,
	}
	if post.User != nil {
		item.AuthorName = post.User.Name
		item.AuthorUsername = post.User.Username
		item.AuthorAvatar = post.User.Avatar
	}
	return item
}

// buildFeedItems denormalizes author fields onto each post and resolves the
// viewer's like state with one batched query instead of a per-post lookup.
func buildFeedItems(db *gorm.DB, posts []models.Post, viewerID uint) ([]FeedItem, error) {
	liked, err := likedPostIDs(db, viewerID, postIDs(posts))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]FeedItem, 0, len(posts))
	for i := range posts {
		items = append(items, newFeedItem(&posts[i], liked[posts[i].ID], now))
	}
	return items, nil
}

func likedPostIDs(db *gorm.DB, viewerID uint, ids []uint) (map[uint]bool, error) {
	liked := make(map[uint]bool, len(ids))
	if len(ids) == 0 {
		return liked, nil
	}

	var likedIDs []uint
	if err := db.Model(&models.Like{}).
		Where("user_id = ? AND post_id IN ?", viewerID, ids).
		Pluck("post_id", &likedIDs).Error; err != nil {
		return nil, err
	}

	for _, id := range likedIDs {
		liked[id] = true
	}
	return liked, nil
}

func postIDs(posts []models.Post) []uint {
	ids := make([]uint, 0, len(posts))
	for _, p := range posts {
		ids = append(ids, p.ID)
	}
	return ids
}

// sortFeedItemsDesc orders merged chunk results newest first; per-chunk
// ordering is not globally merged, so the combined set must be re-sorted.
func sortFeedItemsDesc(items []FeedItem) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})
}
