package feed

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// CommentItem carries a comment with its author's display fields attached.
type CommentItem struct {
	ID             uint      `json:"id"`
	PostID         uint      `json:"post_id"`
	AuthorID       uint      `json:"author_id"`
	AuthorName     string    `json:"author_name"`
	AuthorUsername string    `json:"author_username"`
	AuthorAvatar   string    `json:"author_avatar"`
	Content        string    `json:"content"`
	Time           string    `json:"time"`
	CreatedAt      time.Time `json:"created_at"`
}

// AddComment creates a comment and bumps the post's comment counter in the
// same transaction.
func (h *PostHandler) AddComment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	postID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	var commentRequest struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&commentRequest); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	content := strings.TrimSpace(commentRequest.Content)
	if content == "" {
		http.Error(w, "Comment cannot be empty", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(content) > models.MaxPostLength {
		http.Error(w, fmt.Sprintf("Comment cannot exceed %d characters", models.MaxPostLength), http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.db.First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	tx := h.db.Begin()

	comment := models.Comment{
		UserID:  userID,
		PostID:  uint(postID),
		Content: content,
	}

	if err := tx.Create(&comment).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating comment", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("comments_count", gorm.Expr("comments_count + ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating comments count", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error saving comment", http.StatusInternalServerError)
		return
	}

	h.db.Preload("User").First(&comment, comment.ID)

	if post.UserID != userID {
		go h.notifier.PushToUser(post.UserID, "New comment", "Someone commented on your post",
			map[string]interface{}{"post_id": post.ID, "comment_id": comment.ID})
	}
	h.hub.Broadcast(models.FeedEvent{Type: "comment.created", PostID: post.ID, ActorID: userID})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(newCommentItem(&comment, time.Now()))
}

// GetComments retrieves a post's comments, newest first, with pagination.
// The query filters by post_id at the database, so cost scales with the
// post's comment volume rather than the whole platform's.
func (h *PostHandler) GetComments(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	postID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid post ID", http.StatusBadRequest)
		return
	}

	var post models.Post
	if err := h.db.First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	var comments []models.Comment
	var total int64

	query := h.db.Model(&models.Comment{}).Where("post_id = ?", postID).Preload("User")
	query.Count(&total)

	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&comments).Error; err != nil {
		http.Error(w, "Error retrieving comments", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	items := make([]CommentItem, 0, len(comments))
	for i := range comments {
		items = append(items, newCommentItem(&comments[i], now))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"comments":    items,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// DeleteComment removes the caller's own comment and decrements the counter
func (h *PostHandler) DeleteComment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	commentID, err := strconv.ParseUint(vars["commentId"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid comment ID", http.StatusBadRequest)
		return
	}

	var comment models.Comment
	if err := h.db.First(&comment, commentID).Error; err != nil {
		http.Error(w, "Comment not found", http.StatusNotFound)
		return
	}

	if comment.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	tx := h.db.Begin()

	if err := tx.Delete(&comment).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting comment", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.Post{}).Where("id = ?", comment.PostID).
		UpdateColumn("comments_count", gorm.Expr("comments_count - ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating comments count", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error deleting comment", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Comment deleted successfully",
	})
}

func newCommentItem(comment *models.Comment, now time.Time) CommentItem {
	item := CommentItem{
		ID:        comment.ID,
		PostID:    comment.PostID,
		AuthorID:  comment.UserID,
		Content:   comment.Content,
		Time:      FormatRelativeTime(comment.CreatedAt, now),
		CreatedAt: comment.CreatedAt,
	}
	if comment.User != nil {
		item.AuthorName = comment.User.Name
		item.AuthorUsername = comment.User.Username
		item.AuthorAvatar = comment.User.Avatar
	}
	return item
}
