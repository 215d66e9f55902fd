package gatestatedb

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/bitgate/gatekeeper/internal/policy"
)

// DB is the global SQLite database instance
var DB *gorm.DB

// ErrAlreadyResolved is returned when a join request or challenge is
// acted on after it reached a terminal state. Callers treat it as a
// benign no-op.
var ErrAlreadyResolved = errors.New("record already resolved")

// ErrNotFound wraps gorm's record-not-found for callers outside this package.
var ErrNotFound = gorm.ErrRecordNotFound

// InitSQLiteDB initializes the SQLite database
func InitSQLiteDB(dbPath string) error {
	var err error

	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %v", err)
		}
	}

	// Configure GORM to be less verbose
	config := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Error),
	}

	DB, err = gorm.Open(sqlite.Open(dbPath), config)
	if err != nil {
		return fmt.Errorf("failed to open database: %v", err)
	}

	err = DB.AutoMigrate(
		&SQLiteMember{},
		&SQLiteJoinRequest{},
		&SQLitePolicy{},
		&SQLiteChallenge{},
		&SQLiteAuditLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %v", err)
	}

	log.Println("SQLite database initialized successfully")
	return nil
}

func memberFromSQLite(row SQLiteMember) Member {
	return Member{
		ChatID:        row.ChatID,
		UserID:        row.UserID,
		Address:       row.Address,
		State:         row.State,
		PolicyHash:    row.PolicyHash,
		DMFailure:     row.DMFailure,
		LastCheckedAt: row.LastCheckedAt,
	}
}

// UpsertMemberInSQLite creates or updates the member keyed by (chat, user).
func UpsertMemberInSQLite(m Member) error {
	row := SQLiteMember{
		ChatID:        m.ChatID,
		UserID:        m.UserID,
		Address:       m.Address,
		State:         m.State,
		PolicyHash:    m.PolicyHash,
		DMFailure:     m.DMFailure,
		LastCheckedAt: m.LastCheckedAt,
	}
	return DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"address", "state", "policy_hash", "dm_failure", "last_checked_at", "updated_at",
		}),
	}).Create(&row).Error
}

// GetMemberFromSQLite looks up one member record.
func GetMemberFromSQLite(chatID, userID int64) (*Member, error) {
	var row SQLiteMember
	result := DB.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&row)
	if result.Error != nil {
		return nil, result.Error
	}
	m := memberFromSQLite(row)
	return &m, nil
}

// GetMembersForChatFromSQLite returns the full tracked snapshot of a group.
func GetMembersForChatFromSQLite(chatID int64) ([]Member, error) {
	var rows []SQLiteMember
	result := DB.Where("chat_id = ?", chatID).Find(&rows)
	if result.Error != nil {
		return nil, result.Error
	}
	members := make([]Member, len(rows))
	for i, row := range rows {
		members[i] = memberFromSQLite(row)
	}
	return members, nil
}

// RemoveMemberFromSQLite logically deletes a member on a leave event.
func RemoveMemberFromSQLite(chatID, userID int64) error {
	return DB.Where("chat_id = ? AND user_id = ?", chatID, userID).Delete(&SQLiteMember{}).Error
}

// StampMemberInSQLite records an evaluation: state, policy hash and check
// time in one write, keyed by (chat, user) so concurrent sweep workers
// never touch each other's rows.
func StampMemberInSQLite(chatID, userID int64, state, policyHash string) error {
	now := time.Now()
	return DB.Model(&SQLiteMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Updates(map[string]interface{}{
			"state":           state,
			"policy_hash":     policyHash,
			"last_checked_at": &now,
		}).Error
}

// SetMemberDMFailureInSQLite flags or clears a failed direct message.
func SetMemberDMFailureInSQLite(chatID, userID int64, failed bool) error {
	return DB.Model(&SQLiteMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Update("dm_failure", failed).Error
}

// CreateJoinRequestInSQLite opens a pending join request unless one is
// already open for the pair.
func CreateJoinRequestInSQLite(chatID, userID int64, ttl time.Duration) (*JoinRequest, error) {
	var existing SQLiteJoinRequest
	err := DB.Where("chat_id = ? AND user_id = ? AND status = ?", chatID, userID, JoinStatusPending).
		First(&existing).Error
	if err == nil {
		jr := joinRequestFromSQLite(existing)
		return &jr, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now()
	row := SQLiteJoinRequest{
		ChatID:      chatID,
		UserID:      userID,
		Status:      JoinStatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(ttl),
	}
	if err := DB.Create(&row).Error; err != nil {
		return nil, err
	}
	jr := joinRequestFromSQLite(row)
	return &jr, nil
}

func joinRequestFromSQLite(row SQLiteJoinRequest) JoinRequest {
	return JoinRequest{
		ChatID:      row.ChatID,
		UserID:      row.UserID,
		Status:      row.Status,
		RequestedAt: row.RequestedAt,
		ExpiresAt:   row.ExpiresAt,
		ProcessedAt: row.ProcessedAt,
	}
}

// GetOpenJoinRequestFromSQLite returns the pending request for the pair.
func GetOpenJoinRequestFromSQLite(chatID, userID int64) (*JoinRequest, error) {
	var row SQLiteJoinRequest
	err := DB.Where("chat_id = ? AND user_id = ? AND status = ?", chatID, userID, JoinStatusPending).
		First(&row).Error
	if err != nil {
		return nil, err
	}
	jr := joinRequestFromSQLite(row)
	return &jr, nil
}

// ResolveJoinRequestInSQLite moves the pending request to a terminal
// status. The status is re-checked inside the update so a late resolution
// of an already-processed request is reported as ErrAlreadyResolved.
func ResolveJoinRequestInSQLite(chatID, userID int64, status string) error {
	now := time.Now()
	result := DB.Model(&SQLiteJoinRequest{}).
		Where("chat_id = ? AND user_id = ? AND status = ?", chatID, userID, JoinStatusPending).
		Updates(map[string]interface{}{
			"status":       status,
			"processed_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// ExpireOldJoinRequestsInSQLite sweeps pending requests past their deadline.
func ExpireOldJoinRequestsInSQLite() (int64, error) {
	now := time.Now()
	result := DB.Model(&SQLiteJoinRequest{}).
		Where("status = ? AND expires_at < ?", JoinStatusPending, now).
		Updates(map[string]interface{}{
			"status":       JoinStatusExpired,
			"processed_at": &now,
		})
	return result.RowsAffected, result.Error
}

// PurgeTerminalJoinRequestsInSQLite deletes terminal requests older than
// the retention window.
func PurgeTerminalJoinRequestsInSQLite(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	result := DB.Unscoped().
		Where("status IN ? AND processed_at < ?",
			[]string{JoinStatusApproved, JoinStatusDeclined, JoinStatusExpired}, cutoff).
		Delete(&SQLiteJoinRequest{})
	return result.RowsAffected, result.Error
}

// SetPolicyInSQLite replaces the group's active policy.
func SetPolicyInSQLite(chatID int64, p policy.Policy) error {
	row := SQLitePolicy{
		ChatID:             chatID,
		Kind:               string(p.Kind),
		Asset:              p.Asset,
		MinAmount:          p.MinAmount,
		IncludeUnconfirmed: p.IncludeUnconfirmed,
		OnFail:             string(p.OnFail),
		Hash:               p.Hash(),
	}
	return DB.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chat_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "asset", "min_amount", "include_unconfirmed", "on_fail", "hash", "updated_at",
		}),
	}).Create(&row).Error
}

// GetPolicyFromSQLite returns the group's active policy, if any.
func GetPolicyFromSQLite(chatID int64) (*StoredPolicy, error) {
	var row SQLitePolicy
	if err := DB.Where("chat_id = ?", chatID).First(&row).Error; err != nil {
		return nil, err
	}
	return &StoredPolicy{
		ChatID: row.ChatID,
		Policy: policy.Policy{
			Kind:               policy.Kind(row.Kind),
			Asset:              row.Asset,
			MinAmount:          row.MinAmount,
			IncludeUnconfirmed: row.IncludeUnconfirmed,
			OnFail:             policy.OnFail(row.OnFail),
		},
		Hash: row.Hash,
	}, nil
}

// SaveChallengeToSQLite stores a freshly issued signing challenge.
func SaveChallengeToSQLite(challenge Challenge) error {
	row := SQLiteChallenge{
		ChatID:    challenge.ChatID,
		UserID:    challenge.UserID,
		Challenge: challenge.Text,
		Status:    ChallengeStatusUnused,
	}
	return DB.Create(&row).Error
}

// GetChallengeFromSQLite looks up a challenge by its text.
func GetChallengeFromSQLite(text string) (*Challenge, error) {
	var row SQLiteChallenge
	if err := DB.Where("challenge = ?", text).First(&row).Error; err != nil {
		return nil, err
	}
	return &Challenge{
		ChatID:    row.ChatID,
		UserID:    row.UserID,
		Text:      row.Challenge,
		Status:    row.Status,
		CreatedAt: row.CreatedAt,
		UsedAt:    row.UsedAt,
		ExpiredAt: row.ExpiredAt,
	}, nil
}

// MarkChallengeAsUsedInSQLite consumes a challenge exactly once.
func MarkChallengeAsUsedInSQLite(text string) error {
	now := time.Now()
	result := DB.Model(&SQLiteChallenge{}).
		Where("challenge = ? AND status = ?", text, ChallengeStatusUnused).
		Updates(map[string]interface{}{
			"status":  ChallengeStatusUsed,
			"used_at": &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyResolved
	}
	return nil
}

// ExpireOldChallengesInSQLite expires unused challenges older than maxAge.
func ExpireOldChallengesInSQLite(maxAge time.Duration) (int64, error) {
	now := time.Now()
	result := DB.Model(&SQLiteChallenge{}).
		Where("status = ? AND created_at < ?", ChallengeStatusUnused, now.Add(-maxAge)).
		Updates(map[string]interface{}{
			"status":     ChallengeStatusExpired,
			"expired_at": &now,
		})
	return result.RowsAffected, result.Error
}

// AppendAuditLogToSQLite writes one append-only audit record. Audit
// failures are logged, never propagated; auditing must not break flows.
func AppendAuditLogToSQLite(entry AuditEntry) {
	row := SQLiteAuditLog{
		ChatID:   entry.ChatID,
		UserID:   entry.UserID,
		Level:    entry.Level,
		Event:    entry.Event,
		Metadata: entry.Metadata,
	}
	if err := DB.Create(&row).Error; err != nil {
		log.Printf("Error appending audit log: %v", err)
	}
}
