package gatestatedb

import (
	"time"

	"gorm.io/gorm"
)

// SQLiteMember represents a tracked group member
type SQLiteMember struct {
	gorm.Model
	ChatID        int64  `gorm:"uniqueIndex:idx_chat_user"`
	UserID        int64  `gorm:"uniqueIndex:idx_chat_user"`
	Address       string `gorm:"index"`
	State         string `gorm:"index"` // pending, verified, restricted, kicked
	PolicyHash    string `gorm:"index"`
	DMFailure     bool
	LastCheckedAt *time.Time
}

// SQLiteJoinRequest represents a join-request lifecycle record
type SQLiteJoinRequest struct {
	gorm.Model
	ChatID      int64     `gorm:"index:idx_join_chat_user"`
	UserID      int64     `gorm:"index:idx_join_chat_user"`
	Status      string    `gorm:"index"` // pending, approved, declined, expired
	RequestedAt time.Time `gorm:"index"`
	ExpiresAt   time.Time `gorm:"index"`
	ProcessedAt *time.Time
}

// SQLitePolicy represents a group's active admission policy
type SQLitePolicy struct {
	gorm.Model
	ChatID             int64  `gorm:"uniqueIndex"`
	Kind               string `gorm:"index"` // basic or token
	Asset              string
	MinAmount          string
	IncludeUnconfirmed bool
	OnFail             string
	Hash               string `gorm:"index"`
}

// SQLiteChallenge represents a signing challenge
type SQLiteChallenge struct {
	gorm.Model
	ChatID    int64  `gorm:"index:idx_challenge_chat_user"`
	UserID    int64  `gorm:"index:idx_challenge_chat_user"`
	Challenge string `gorm:"uniqueIndex"`
	Status    string `gorm:"index"` // unused, used, expired
	UsedAt    *time.Time
	ExpiredAt *time.Time
}

// SQLiteAuditLog stores append-only audit events
type SQLiteAuditLog struct {
	gorm.Model
	ChatID   int64  `gorm:"index"`
	UserID   *int64 `gorm:"index"`
	Level    string `gorm:"index"`
	Event    string `gorm:"index"`
	Metadata string
}
