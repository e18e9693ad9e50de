package models

import "gorm.io/gorm"

// MaxPostLength caps post and comment content.
const MaxPostLength = 280

type Post struct {
	gorm.Model
	UserID        uint      `gorm:"column:user_id;not null;index" json:"user_id"`
	Content       string    `gorm:"column:content;type:text;not null" json:"content"`
	LikesCount    int       `gorm:"column:likes_count;default:0" json:"likes_count"`
	CommentsCount int       `gorm:"column:comments_count;default:0" json:"comments_count"`
	RepostsCount  int       `gorm:"column:reposts_count;default:0" json:"reposts_count"`
	User          *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Images        []Image   `gorm:"foreignKey:PostID" json:"images,omitempty"`
	Likes         []Like    `gorm:"foreignKey:PostID" json:"likes,omitempty"`
	Comments      []Comment `gorm:"foreignKey:PostID" json:"comments,omitempty"`
}

type Image struct {
	gorm.Model
	PostID    uint   `gorm:"column:post_id;not null;index" json:"post_id"`
	URL       string `gorm:"column:url;not null" json:"url"`
	MediaType string `gorm:"column:media_type;size:20" json:"media_type,omitempty"`
	Caption   string `gorm:"column:caption" json:"caption,omitempty"`
}

// Like rows are unique per (user, post). A concurrent double-tap hits the
// index and surfaces as a conflict instead of a duplicate row.
type Like struct {
	gorm.Model
	UserID uint  `gorm:"column:user_id;not null;uniqueIndex:idx_user_post" json:"user_id"`
	PostID uint  `gorm:"column:post_id;not null;index;uniqueIndex:idx_user_post" json:"post_id"`
	User   *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

type Comment struct {
	gorm.Model
	UserID  uint   `gorm:"column:user_id;not null" json:"user_id"`
	PostID  uint   `gorm:"column:post_id;not null;index" json:"post_id"`
	Content string `gorm:"column:content;type:text;not null" json:"content"`
	User    *User  `gorm:"foreignKey:UserID" json:"user,omitempty"`
}
