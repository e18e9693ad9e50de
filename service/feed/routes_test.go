package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/cmd/utils"
	"github.com/plumaapp/pluma-server/service/notification"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{}, &models.Follow{},
		&models.Post{}, &models.Image{}, &models.Like{}, &models.Comment{},
		&models.Device{}, &models.NotificationHistory{},
	))
	return db
}

func newTestHandler(db *gorm.DB) *PostHandler {
	return NewPostHandler(db, notification.NewNotifier(db), models.NewHub())
}

func createTestUser(t *testing.T, db *gorm.DB, username string) *models.User {
	t.Helper()
	user := models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "x",
		Name:         "User " + username,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func createTestPost(t *testing.T, db *gorm.DB, userID uint, content string, createdAt time.Time) *models.Post {
	t.Helper()
	post := models.Post{
		UserID:  userID,
		Content: content,
	}
	post.CreatedAt = createdAt
	require.NoError(t, db.Create(&post).Error)
	return &post
}

func authedRequest(method, target string, body *bytes.Buffer, userID uint) *http.Request {
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, body)
	ctx := context.WithValue(req.Context(), utils.UserIDKey, userID)
	return req.WithContext(ctx)
}

func multipartBody(t *testing.T, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func TestCreatePost(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	author := createTestUser(t, db, "ada")

	body, contentType := multipartBody(t, map[string]string{"content": "first post"})
	req := authedRequest(http.MethodPost, "/api/v1/posts", body, author.ID)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreatePost(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)

	var post models.Post
	require.NoError(t, db.First(&post).Error)
	assert.Equal(t, "first post", post.Content)
	assert.Equal(t, author.ID, post.UserID)
}

func TestCreatePostRejectsOversizedContent(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	author := createTestUser(t, db, "ada")

	body, contentType := multipartBody(t, map[string]string{
		"content": strings.Repeat("a", models.MaxPostLength+1),
	})
	req := authedRequest(http.MethodPost, "/api/v1/posts", body, author.ID)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreatePost(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "cannot exceed 280 characters")

	// Rejected before any write.
	var count int64
	db.Model(&models.Post{}).Count(&count)
	assert.Zero(t, count)
}

func TestCreatePostRequiresContent(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	author := createTestUser(t, db, "ada")

	body, contentType := multipartBody(t, map[string]string{"content": "   "})
	req := authedRequest(http.MethodPost, "/api/v1/posts", body, author.ID)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()

	h.CreatePost(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Content is required")
}

func TestGetPostsExcludesOwnPosts(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	other := createTestUser(t, db, "grace")

	now := time.Now()
	createTestPost(t, db, viewer.ID, "mine", now.Add(-1*time.Minute))
	createTestPost(t, db, other.ID, "theirs", now.Add(-2*time.Minute))

	req := authedRequest(http.MethodGet, "/api/v1/posts", nil, viewer.ID)
	rec := httptest.NewRecorder()

	h.GetPosts(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Posts []FeedItem `json:"posts"`
		Total int64      `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "theirs", resp.Posts[0].Content)
	assert.Equal(t, "grace", resp.Posts[0].AuthorUsername)
	assert.Equal(t, int64(1), resp.Total)
}

func likeRequest(t *testing.T, postID, userID uint, path string, fn http.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	req := authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/%s", postID, path), nil, userID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(postID)})
	rec := httptest.NewRecorder()
	fn(rec, req)
	return rec
}

func TestLikeUnlikeRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	rec := likeRequest(t, post.ID, viewer.ID, "like", h.LikePost)
	require.Equal(t, http.StatusOK, rec.Code)

	var liked models.Post
	require.NoError(t, db.First(&liked, post.ID).Error)
	assert.Equal(t, 1, liked.LikesCount)

	rec = likeRequest(t, post.ID, viewer.ID, "unlike", h.UnlikePost)
	require.Equal(t, http.StatusOK, rec.Code)

	// Counter back to its original value, like row gone.
	var unliked models.Post
	require.NoError(t, db.First(&unliked, post.ID).Error)
	assert.Equal(t, 0, unliked.LikesCount)

	var likeCount int64
	db.Model(&models.Like{}).Count(&likeCount)
	assert.Zero(t, likeCount)
}

func TestLikeTogglesToUnlike(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	rec := likeRequest(t, post.ID, viewer.ID, "like", h.LikePost)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"liked"`)

	// A second like from the same user toggles the first one off.
	rec = likeRequest(t, post.ID, viewer.ID, "like", h.LikePost)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"action":"unliked"`)

	var post2 models.Post
	require.NoError(t, db.First(&post2, post.ID).Error)
	assert.Equal(t, 0, post2.LikesCount)
}

func TestDuplicateLikeRowRejected(t *testing.T) {
	db := setupTestDB(t)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	require.NoError(t, db.Create(&models.Like{UserID: viewer.ID, PostID: post.ID}).Error)

	// The composite unique index stops the concurrent double-tap from
	// inserting a second row for the same (user, post) pair.
	err := db.Create(&models.Like{UserID: viewer.ID, PostID: post.ID}).Error
	assert.ErrorIs(t, err, gorm.ErrDuplicatedKey)
}

func TestUnlikeWithoutLike(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	rec := likeRequest(t, post.ID, viewer.ID, "unlike", h.UnlikePost)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Post was not liked")
}

// countTableQueries registers a callback tallying SELECTs against one table.
func countTableQueries(t *testing.T, db *gorm.DB, table string, counter *int) {
	t.Helper()
	err := db.Callback().Query().After("gorm:query").Register("test_count_"+table, func(tx *gorm.DB) {
		if tx.Statement.Table == table {
			*counter++
		}
	})
	require.NoError(t, err)
}

func TestFollowingFeedEmptyWithoutPostQuery(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")

	var postQueries int
	countTableQueries(t, db, "posts", &postQueries)

	req := authedRequest(http.MethodGet, "/api/v1/posts/following", nil, viewer.ID)
	rec := httptest.NewRecorder()

	h.GetFollowingPosts(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Posts []FeedItem `json:"posts"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Posts)
	assert.Zero(t, resp.Total)
	assert.Zero(t, postQueries, "no posts query should be issued when following nobody")
}

func TestFollowingFeedChunksAndResorts(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "viewer")

	// 25 followed authors, one post each, creation times deliberately
	// scrambled across chunks.
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		author := createTestUser(t, db, fmt.Sprintf("author%02d", i))
		require.NoError(t, db.Create(&models.Follow{FollowerID: viewer.ID, FolloweeID: author.ID}).Error)
		createTestPost(t, db, author.ID, fmt.Sprintf("post %d", i), base.Add(time.Duration((i*7)%25)*time.Minute))
	}

	var postQueries int
	countTableQueries(t, db, "posts", &postQueries)

	req := authedRequest(http.MethodGet, "/api/v1/posts/following", nil, viewer.ID)
	rec := httptest.NewRecorder()

	h.GetFollowingPosts(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Posts []FeedItem `json:"posts"`
		Total int        `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Posts, 25)
	assert.Equal(t, 3, postQueries, "25 followed IDs should issue exactly 3 chunk queries")

	for i := 1; i < len(resp.Posts); i++ {
		assert.False(t, resp.Posts[i].CreatedAt.After(resp.Posts[i-1].CreatedAt),
			"merged feed must be sorted by created_at descending")
	}
}

func TestAddCommentIncrementsCounter(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	payload := bytes.NewBufferString(`{"content":"nice post"}`)
	req := authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), payload, viewer.ID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(post.ID)})
	rec := httptest.NewRecorder()

	h.AddComment(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)

	var item CommentItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "nice post", item.Content)
	assert.Equal(t, "ada", item.AuthorUsername)

	var updated models.Post
	require.NoError(t, db.First(&updated, post.ID).Error)
	assert.Equal(t, 1, updated.CommentsCount)
}

func TestAddCommentRejectsEmpty(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	payload := bytes.NewBufferString(`{"content":"  "}`)
	req := authedRequest(http.MethodPost, fmt.Sprintf("/api/v1/posts/%d/comments", post.ID), payload, viewer.ID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(post.ID)})
	rec := httptest.NewRecorder()

	h.AddComment(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Comment cannot be empty")
}

func TestGetCommentsFiltersByPost(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post1 := createTestPost(t, db, author.ID, "one", time.Now())
	post2 := createTestPost(t, db, author.ID, "two", time.Now())

	require.NoError(t, db.Create(&models.Comment{UserID: viewer.ID, PostID: post1.ID, Content: "on one"}).Error)
	require.NoError(t, db.Create(&models.Comment{UserID: viewer.ID, PostID: post2.ID, Content: "on two"}).Error)

	req := authedRequest(http.MethodGet, fmt.Sprintf("/api/v1/posts/%d/comments", post1.ID), nil, viewer.ID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(post1.ID)})
	rec := httptest.NewRecorder()

	h.GetComments(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Comments []CommentItem `json:"comments"`
		Total    int64         `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Comments, 1)
	assert.Equal(t, "on one", resp.Comments[0].Content)
	assert.Equal(t, int64(1), resp.Total)
}

func TestDeletePostRequiresOwnership(t *testing.T) {
	db := setupTestDB(t)
	h := newTestHandler(db)
	viewer := createTestUser(t, db, "ada")
	author := createTestUser(t, db, "grace")
	post := createTestPost(t, db, author.ID, "hello", time.Now())

	req := authedRequest(http.MethodDelete, fmt.Sprintf("/api/v1/posts/%d", post.ID), nil, viewer.ID)
	req = mux.SetURLVars(req, map[string]string{"id": fmt.Sprint(post.ID)})
	rec := httptest.NewRecorder()

	h.DeletePost(rec, req)

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
