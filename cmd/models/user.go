package models

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	gorm.Model
	Username     string `gorm:"column:username;size:50;not null;uniqueIndex" json:"username"`
	Email        string `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null" json:"-"`
	Name         string `gorm:"column:name;size:255;not null" json:"name"`
	Avatar       string `gorm:"column:avatar;size:500" json:"avatar,omitempty"`
	Bio          string `gorm:"column:bio;type:text" json:"bio,omitempty"`

	// Denormalized counters, kept in step with the follows table inside the
	// follow/unfollow transactions. RepairFollowCounts recomputes them from
	// the edge rows.
	FollowersCount int `gorm:"column:followers_count;default:0" json:"followers_count"`
	FollowingCount int `gorm:"column:following_count;default:0" json:"following_count"`

	Refresh               string    `gorm:"column:refresh_token;size:255" json:"-"`
	RefreshTokenExpiredAt time.Time `gorm:"column:refresh_token_expired_at" json:"-"`

	Posts []Post `gorm:"foreignKey:UserID" json:"posts,omitempty"`
}

// Follow is one directed edge of the social graph. The composite unique
// index is the insert-if-absent primitive: a duplicate follow fails at the
// database instead of racing a check-then-act query.
type Follow struct {
	gorm.Model
	FollowerID uint  `gorm:"column:follower_id;not null;uniqueIndex:idx_follower_followee" json:"follower_id"`
	FolloweeID uint  `gorm:"column:followee_id;not null;index;uniqueIndex:idx_follower_followee" json:"followee_id"`
	Follower   *User `gorm:"foreignKey:FollowerID" json:"follower,omitempty"`
	Followee   *User `gorm:"foreignKey:FolloweeID" json:"followee,omitempty"`
}

func (Follow) TableName() string {
	return "follows"
}

type PasswordResetToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    uint      `gorm:"not null"`
	Token     string    `gorm:"not null"`
	ExpiresAt time.Time `gorm:"not null"`
}
