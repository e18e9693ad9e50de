package user

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/plumaapp/pluma-server/cmd/models"
	"github.com/plumaapp/pluma-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

// FollowListItem is the display shape for followers/following lists.
type FollowListItem struct {
	ID          uint   `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
	Avatar      string `json:"avatar"`
	IsFollowing bool   `json:"is_following"`
}

// FollowUser creates the follow edge and bumps both counters in a single
// transaction, so a crash can never leave the graph asymmetric.
func (h *Handler) FollowUser(w http.ResponseWriter, r *http.Request) {
	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	targetID64, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	targetID := uint(targetID64)

	if targetID == callerID {
		http.Error(w, "You can't follow yourself", http.StatusBadRequest)
		return
	}

	var caller, target models.User
	if err := h.db.First(&caller, callerID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err := h.db.First(&target, targetID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	tx := h.db.Begin()

	follow := models.Follow{
		FollowerID: callerID,
		FolloweeID: targetID,
	}

	if err := tx.Create(&follow).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			http.Error(w, "Already following this user", http.StatusConflict)
			return
		}
		http.Error(w, "Error following user", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.User{}).Where("id = ?", callerID).
		UpdateColumn("following_count", gorm.Expr("following_count + ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating following count", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.User{}).Where("id = ?", targetID).
		UpdateColumn("followers_count", gorm.Expr("followers_count + ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating followers count", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error following user", http.StatusInternalServerError)
		return
	}

	go h.notifier.PushToUser(targetID, "New follower",
		fmt.Sprintf("%s started following you", caller.Name),
		map[string]interface{}{"follower_id": callerID})
	h.hub.NotifyUser(targetID, models.FeedEvent{Type: "user.followed", ActorID: callerID})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User followed successfully",
	})
}

// UnfollowUser removes the edge and decrements both counters in one
// transaction; the round trip leaves both users exactly as they were.
func (h *Handler) UnfollowUser(w http.ResponseWriter, r *http.Request) {
	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	targetID64, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	targetID := uint(targetID64)

	tx := h.db.Begin()

	// Hard delete keeps the unique index free for a later re-follow.
	result := tx.Unscoped().Where("follower_id = ? AND followee_id = ?", callerID, targetID).Delete(&models.Follow{})
	if result.Error != nil {
		tx.Rollback()
		http.Error(w, "Error unfollowing user", http.StatusInternalServerError)
		return
	}
	if result.RowsAffected == 0 {
		tx.Rollback()
		http.Error(w, "Not following this user", http.StatusBadRequest)
		return
	}

	if err := tx.Model(&models.User{}).Where("id = ?", callerID).
		UpdateColumn("following_count", gorm.Expr("following_count - ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating following count", http.StatusInternalServerError)
		return
	}

	if err := tx.Model(&models.User{}).Where("id = ?", targetID).
		UpdateColumn("followers_count", gorm.Expr("followers_count - ?", 1)).Error; err != nil {
		tx.Rollback()
		http.Error(w, "Error updating followers count", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit().Error; err != nil {
		http.Error(w, "Error unfollowing user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User unfollowed successfully",
	})
}

// GetFollowers lists the users following {id}, with the caller's own follow
// state for each entry resolved in one batched query.
func (h *Handler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	h.followList(w, r, "follows.followee_id", "follows.follower_id")
}

// GetFollowing lists the users {id} follows.
func (h *Handler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	h.followList(w, r, "follows.follower_id", "follows.followee_id")
}

func (h *Handler) followList(w http.ResponseWriter, r *http.Request, anchorColumn, memberColumn string) {
	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var target models.User
	if err := h.db.First(&target, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	var users []models.User
	if err := h.db.
		Joins(fmt.Sprintf("JOIN follows ON %s = users.id", memberColumn)).
		Where(fmt.Sprintf("%s = ?", anchorColumn), userID).
		Order("follows.created_at DESC").
		Find(&users).Error; err != nil {
		http.Error(w, "Error retrieving follow list", http.StatusInternalServerError)
		return
	}

	followingSet, err := h.followingSet(callerID, userIDs(users))
	if err != nil {
		http.Error(w, "Error retrieving follow list", http.StatusInternalServerError)
		return
	}

	items := make([]FollowListItem, 0, len(users))
	for _, u := range users {
		items = append(items, FollowListItem{
			ID:          u.ID,
			Name:        u.Name,
			Username:    u.Username,
			Avatar:      u.Avatar,
			IsFollowing: followingSet[u.ID],
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users": items,
		"total": len(items),
	})
}

// followingSet resolves which of candidateIDs the caller follows.
func (h *Handler) followingSet(callerID uint, candidateIDs []uint) (map[uint]bool, error) {
	set := make(map[uint]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return set, nil
	}

	var followedIDs []uint
	if err := h.db.Model(&models.Follow{}).
		Where("follower_id = ? AND followee_id IN ?", callerID, candidateIDs).
		Pluck("followee_id", &followedIDs).Error; err != nil {
		return nil, err
	}

	for _, id := range followedIDs {
		set[id] = true
	}
	return set, nil
}

func userIDs(users []models.User) []uint {
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids
}

// RepairFollowCounts recomputes a user's denormalized counters from the edge
// rows. Counter drift should no longer happen now that edges and counters
// commit together, but the repair pass stays available for operators.
func (h *Handler) RepairFollowCounts(w http.ResponseWriter, r *http.Request) {
	callerID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	userID, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}
	if uint(userID) != callerID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var user models.User
	if err := h.db.First(&user, userID).Error; err != nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	var followersCount, followingCount int64
	if err := h.db.Model(&models.Follow{}).Where("followee_id = ?", userID).Count(&followersCount).Error; err != nil {
		http.Error(w, "Error counting followers", http.StatusInternalServerError)
		return
	}
	if err := h.db.Model(&models.Follow{}).Where("follower_id = ?", userID).Count(&followingCount).Error; err != nil {
		http.Error(w, "Error counting following", http.StatusInternalServerError)
		return
	}

	if err := h.db.Model(&models.User{}).Where("id = ?", userID).Updates(map[string]interface{}{
		"followers_count": followersCount,
		"following_count": followingCount,
	}).Error; err != nil {
		http.Error(w, "Error repairing follow counts", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"message":         "Follow counts repaired",
		"followers_count": followersCount,
		"following_count": followingCount,
	})
}
