package models

import "time"

// Post is a forum post. Public addressing always goes through PostHash, an
// opaque identifier assigned once at creation; the numeric ID never leaves
// the database layer except inside JSON payloads for display.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Title       string    `gorm:"size:120;not null" json:"title"`
	Description string    `gorm:"type:text" json:"description"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	FileName    string    `gorm:"size:255" json:"file_path"`
	FileType    string    `gorm:"size:50" json:"file_type"`
	PostHash    string    `gorm:"size:64;uniqueIndex;not null" json:"post_hash"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
	Comments    []Comment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"comments,omitempty"`
}
