package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/cmd/utils"
	"github.com/plumaapp/pluma-server/service/notification"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type PostHandler struct {
	db       *gorm.DB
	notifier *notification.Notifier
	hub      *models.Hub
}

func NewPostHandler(db *gorm.DB, notifier *notification.Notifier, hub *models.Hub) *PostHandler {
	return &PostHandler{db: db, notifier: notifier, hub: hub}
}

func (h *PostHandler) RegisterRoutes(router *mux.Router) {
	// Post routes
	router.HandleFunc("/posts", utils.AuthMiddleware(h.CreatePost)).Methods("POST")
	router.HandleFunc("/posts", utils.AuthMiddleware(h.GetPosts)).Methods("GET")
	router.HandleFunc("/posts/following", utils.AuthMiddleware(h.GetFollowingPosts)).Methods("GET")
	router.HandleFunc("/posts/{id}", utils.AuthMiddleware(h.GetPost)).Methods("GET")
	router.HandleFunc("/posts/{id}", utils.AuthMiddleware(h.DeletePost)).Methods("DELETE")

	// Like routes
	router.HandleFunc("/posts/{id}/like", utils.AuthMiddleware(h.LikePost)).Methods("POST")
	router.HandleFunc("/posts/{id}/unlike", utils.AuthMiddleware(h.UnlikePost)).Methods("POST")

	// Comment routes
	router.HandleFunc("/posts/{id}/comments", utils.AuthMiddleware(h.AddComment)).Methods("POST")
	router.HandleFunc("/posts/{id}/comments", utils.AuthMiddleware(h.GetComments)).Methods("GET")
	router.HandleFunc("/posts/{id}/comments/{commentId}", utils.AuthMiddleware(h.DeleteComment)).Methods("DELETE")
}

// CreatePost creates a new post with optional media attachments
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	err = r.ParseMultipartForm(50 << 20)
	if err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	content := strings.TrimSpace(r.FormValue("content"))
	if content == "" {
		http.Error(w, "Content is required", http.StatusBadRequest)
		return
	}
	if utf8.RuneCountInString(content) > models.MaxPostLength {
		http.Error(w, fmt.Sprintf("Content cannot exceed %d characters", models.MaxPostLength), http.StatusBadRequest)
		return
	}

	tx := h.db.Begin()

	post := models.Post{
		UserID:  userID,
		Content: content,
	}

	if err := tx.Create(&post).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error creating post", http.StatusInternalServerError)
		return
	}

	files := r.MultipartForm.File["media"]
	for i, fileHeader := range files {
		file, err := fileHeader.Open()
		if err != nil {
			tx.Rollback()
			http.Error(w, "Error processing media", http.StatusInternalServerError)
			return
		}
		defer file.Close()

		mediaURL, mediaType, err := utils.SaveMedia(file, fileHeader)
		if err != nil {
			tx.Rollback()
			http.Error(w, fmt.Sprintf("Error saving media: %v", err), http.StatusInternalServerError)
			return
		}

		image := models.Image{
			PostID:    post.ID,
			URL:       mediaURL,
			MediaType: mediaType,
			Caption:   r.FormValue(fmt.Sprintf("caption_%d", i)),
		}

		if err := tx.Create(&image).Error; err != nil {
			tx.Rollback()
			utils.DeleteMedia(mediaURL)
			http.Error(w, "Error saving media record", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error saving post", http.StatusInternalServerError)
		return
	}

	h.db.Preload("User").Preload("Images").First(&post, post.ID)

	h.hub.Broadcast(models.FeedEvent{Type: "post.created", PostID: post.ID, ActorID: userID})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(post)
}

// GetPosts retrieves the main feed: everyone's posts except the caller's
// own, newest first, with author fields and like state attached.
func (h *PostHandler) GetPosts(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize := 10

	var posts []models.Post
	var total int64

	query := h.db.Model(&models.Post{}).
		Where("user_id <> ?", userID).
		Preload("User").Preload("Images")
	query.Count(&total)

	if err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&posts).Error; err != nil {
		http.Error(w, "Error retrieving posts", http.StatusInternalServerError)
		return
	}

	items, err := buildFeedItems(h.db, posts, userID)
	if err != nil {
		http.Error(w, "Error assembling feed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"posts":       items,
		"total":       total,
		"page":        page,
		"page_size":   pageSize,
		"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
	})
}

// GetFollowingPosts retrieves posts authored by users the caller follows.
// Author IDs are queried in chunks of at most ten and the merged result is
// re-sorted, since per-chunk ordering is not globally merged.
func (h *PostHandler) GetFollowingPosts(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var followingIDs []uint
	if err := h.db.Model(&models.Follow{}).
		Where("follower_id = ?", userID).
		Pluck("followee_id", &followingIDs).Error; err != nil {
		http.Error(w, "Error retrieving following list", http.StatusInternalServerError)
		return
	}

	// Following no one: answer without touching the posts table.
	if len(followingIDs) == 0 {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"posts": []FeedItem{},
			"total": 0,
		})
		return
	}

	var posts []models.Post
	for _, chunk := range ChunkIDs(followingIDs, followingChunkSize) {
		var chunkPosts []models.Post
		if err := h.db.
			Where("user_id IN ?", chunk).
			Order("created_at DESC").
			Preload("User").Preload("Images").
			Find(&chunkPosts).Error; err != nil {
			http.Error(w, "Error retrieving posts", http.StatusInternalServerError)
			return
		}
		posts = append(posts, chunkPosts...)
	}

	items, err := buildFeedItems(h.db, posts, userID)
	if err != nil {
		http.Error(w, "Error assembling feed", http.StatusInternalServerError)
		return
	}
	sortFeedItemsDesc(items)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"posts": items,
		"total": len(items),
	})
}

// GetPost retrieves a single post as a feed item
func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
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

	var post models.Post
	if err := h.db.Preload("User").Preload("Images").First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	items, err := buildFeedItems(h.db, []models.Post{post}, userID)
	if err != nil {
		http.Error(w, "Error assembling post", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(items[0])
}

// DeletePost deletes the caller's post along with its likes, comments and media
func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
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

	var post models.Post
	if err := h.db.Preload("Images").First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	if post.UserID != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	tx := h.db.Begin()

	if err := tx.Unscoped().Where("post_id = ?", postID).Delete(&models.Like{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting likes", http.StatusInternalServerError)
		return
	}

	if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting comments", http.StatusInternalServerError)
		return
	}

	if err := tx.Where("post_id = ?", postID).Delete(&models.Image{}).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting media records", http.StatusInternalServerError)
		return
	}

	if err := tx.Delete(&post).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error deleting post", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error deleting post", http.StatusInternalServerError)
		return
	}

	for _, image := range post.Images {
		utils.DeleteMedia(image.URL)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Post deleted successfully",
	})
}

// LikePost toggles the caller's like: liking an already-liked post removes
// the like (the behavior the client exposes as tap/untap). The like row and
// counter move in the same transaction.
func (h *PostHandler) LikePost(w http.ResponseWriter, r *http.Request) {
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

	var post models.Post
	if err := h.db.First(&post, postID).Error; err != nil {
		http.Error(w, "Post not found", http.StatusNotFound)
		return
	}

	var existingLike models.Like
	result := h.db.Where("user_id = ? AND post_id = ?", userID, postID).First(&existingLike)
	if result.Error == nil {
		// Toggle: already liked, so unlike.
		if err := h.removeLike(userID, uint(postID)); err != nil {
			http.Error(w, "Error unliking post", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Post unliked successfully",
			"action":  "unliked",
		})
		return
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		http.Error(w, "Error liking post", http.StatusInternalServerError)
		return
	}

	tx := h.db.Begin()

	like := models.Like{
		UserID: userID,
		PostID: uint(postID),
	}

	if err := tx.Create(&like).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Concurrent double-tap: the unique index rejects the second
			// insert instead of double-counting.
			http.Error(w, "Post already liked", http.StatusConflict)
			return
		}
		http.Error(w, "Error liking post", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("likes_count", gorm.Expr("likes_count + ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating likes count", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error liking post", http.StatusInternalServerError)
		return
	}

	if post.UserID != userID {
		go h.notifier.PushToUser(post.UserID, "New like", "Someone liked your post",
			map[string]interface{}{"post_id": post.ID, "liker_id": userID})
	}
	h.hub.Broadcast(models.FeedEvent{Type: "post.liked", PostID: post.ID, ActorID: userID})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Post liked successfully",
		"action":  "liked",
	})
}

// UnlikePost removes the caller's like from a post
func (h *PostHandler) UnlikePost(w http.ResponseWriter, r *http.Request) {
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

	var existingLike models.Like
	if err := h.db.Where("user_id = ? AND post_id = ?", userID, postID).First(&existingLike).Error; err != nil {
		http.Error(w, "Post was not liked", http.StatusBadRequest)
		return
	}

	if err := h.removeLike(userID, uint(postID)); err != nil {
		http.Error(w, "Error unliking post", http.StatusInternalServerError)
		return
	}

	h.hub.Broadcast(models.FeedEvent{Type: "post.unliked", PostID: uint(postID), ActorID: userID})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "Post unliked successfully",
		"action":  "unliked",
	})
}

// removeLike deletes the like row and decrements the counter atomically.
func (h *PostHandler) removeLike(userID, postID uint) error {
	tx := h.db.Begin()

	// Hard delete so the unique index allows a future re-like.
	result := tx.Unscoped().Where("user_id = ? AND post_id = ?", userID, postID).Delete(&models.Like{})
	if result.Error != nil {
		tx.Rollback()
		return result.Error
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		return gorm.ErrRecordNotFound
	}

	if err := tx.Model(&models.Post{}).Where("id = ?", postID).
		UpdateColumn("likes_count", gorm.Expr("likes_count - ?", 1)).Error; err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
