package models

import "time"

// Comment is a reply to a post. PostHash is denormalized from the parent post
// at creation time so comment lookups by hash skip the post table; it is
// never updated afterwards.
type Comment struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"index;not null" json:"post_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	PostHash  string    `gorm:"size:64;index;not null" json:"post_hash"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
}
