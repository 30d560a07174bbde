package models

import "time"

// ShareFile is a file a user registered for sharing. One row per (user, path).
type ShareFile struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"uniqueIndex:idx_share_files_user_path;not null" json:"user_id"`
	FilePath  string    `gorm:"uniqueIndex:idx_share_files_user_path;size:500;not null" json:"file_path"`
	FileName  string    `gorm:"size:255;not null" json:"file_name"`
	FileSize  int64     `gorm:"default:0" json:"file_size"`
	FileType  string    `gorm:"size:50;default:other" json:"file_type"`
	HasShare  bool      `gorm:"default:false" json:"has_share"`
	CreatedAt time.Time `json:"share_time"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ShareFile) TableName() string { return "share_files" }

// Share is a public link to a ShareFile.
type Share struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"index;not null" json:"user_id"`
	FileID         uint       `gorm:"index;not null" json:"file_id"`
	File           *ShareFile `gorm:"foreignKey:FileID" json:"file,omitempty"`
	ShareName      string     `gorm:"size:255;not null" json:"share_name"`
	ShareCode      string     `gorm:"uniqueIndex;size:16;not null" json:"share_code"`
	AccessPassword string     `gorm:"size:255" json:"-"` // bcrypt hash, empty when public
	ViewCount      int64      `gorm:"default:0" json:"view_count"`
	DownloadCount  int64      `gorm:"default:0" json:"download_count"`
	Extension      string     `gorm:"type:text" json:"extension"` // JSON object
	CreatedAt      time.Time  `json:"created_time"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (Share) TableName() string { return "shares" }

func (s *Share) HasPassword() bool { return s.AccessPassword != "" }
