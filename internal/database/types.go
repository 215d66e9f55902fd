package gatestatedb

import (
	"time"

	"github.com/bitgate/gatekeeper/internal/policy"
)

const (
	MemberStatePending    = "pending"
	MemberStateVerified   = "verified"
	MemberStateRestricted = "restricted"
	MemberStateKicked     = "kicked"

	JoinStatusPending  = "pending"
	JoinStatusApproved = "approved"
	JoinStatusDeclined = "declined"
	JoinStatusExpired  = "expired"

	ChallengeStatusUnused  = "unused"
	ChallengeStatusUsed    = "used"
	ChallengeStatusExpired = "expired"
)

// Member is the tracked per-group membership record. A member whose
// PolicyHash differs from the group's current policy hash is grandfathered
// and exempt from automatic checks.
type Member struct {
	ChatID        int64
	UserID        int64
	Address       string
	State         string
	PolicyHash    string
	DMFailure     bool
	LastCheckedAt *time.Time
}

// JoinRequest tracks one pending admission. There is at most one
// non-terminal request per (chat, user).
type JoinRequest struct {
	ChatID      int64
	UserID      int64
	Status      string
	RequestedAt time.Time
	ExpiresAt   time.Time
	ProcessedAt *time.Time
}

// StoredPolicy pairs a group's active policy with its precomputed hash.
type StoredPolicy struct {
	ChatID int64
	Policy policy.Policy
	Hash   string
}

// Challenge is a single-use signing challenge issued to a joining user.
type Challenge struct {
	ChatID    int64
	UserID    int64
	Text      string
	Status    string
	CreatedAt time.Time
	UsedAt    *time.Time
	ExpiredAt *time.Time
}

// AuditEntry is one append-only audit log record.
type AuditEntry struct {
	ChatID   int64
	UserID   *int64
	Level    string
	Event    string
	Metadata string
}
