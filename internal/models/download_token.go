package models

import "time"

// DownloadToken is an opaque, usage-budgeted bearer credential for one file.
type DownloadToken struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Token       string    `gorm:"uniqueIndex;size:64;not null" json:"token"`
	ShareCode   string    `gorm:"index;size:16;not null" json:"share_code"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	FilePath    string    `gorm:"size:500;not null" json:"-"`
	FileName    string    `gorm:"size:255;not null" json:"file_name"`
	CreatedTime time.Time `gorm:"index;not null" json:"created_time"`
	ExpiresAt   time.Time `gorm:"index;not null" json:"expires_at"`
	MaxUses     int       `gorm:"default:5;not null" json:"max_uses"`
	UsedCount   int       `gorm:"default:0;not null" json:"used_count"`
	IsActive    bool      `gorm:"index;not null" json:"is_active"`
}

func (DownloadToken) TableName() string { return "download_tokens" }

func (t *DownloadToken) RemainingUses() int {
	if t.UsedCount >= t.MaxUses {
		return 0
	}
	return t.MaxUses - t.UsedCount
}
