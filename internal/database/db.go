package gatestatedb

import (
	"time"

	"github.com/bitgate/gatekeeper/internal/policy"
)

// Helper wrapper functions that redirect to the SQLite implementations.
// Callers go through these so a second backend can be slotted in without
// touching the engine.

func UpsertMember(m Member) error {
	return UpsertMemberInSQLite(m)
}

func GetMember(chatID, userID int64) (*Member, error) {
	return GetMemberFromSQLite(chatID, userID)
}

func GetMembersForChat(chatID int64) ([]Member, error) {
	return GetMembersForChatFromSQLite(chatID)
}

func RemoveMember(chatID, userID int64) error {
	return RemoveMemberFromSQLite(chatID, userID)
}

func StampMember(chatID, userID int64, state, policyHash string) error {
	return StampMemberInSQLite(chatID, userID, state, policyHash)
}

func SetMemberDMFailure(chatID, userID int64, failed bool) error {
	return SetMemberDMFailureInSQLite(chatID, userID, failed)
}

func CreateJoinRequest(chatID, userID int64, ttl time.Duration) (*JoinRequest, error) {
	return CreateJoinRequestInSQLite(chatID, userID, ttl)
}

func GetOpenJoinRequest(chatID, userID int64) (*JoinRequest, error) {
	return GetOpenJoinRequestFromSQLite(chatID, userID)
}

func ResolveJoinRequest(chatID, userID int64, status string) error {
	return ResolveJoinRequestInSQLite(chatID, userID, status)
}

func ExpireOldJoinRequests() (int64, error) {
	return ExpireOldJoinRequestsInSQLite()
}

func PurgeTerminalJoinRequests(olderThan time.Duration) (int64, error) {
	return PurgeTerminalJoinRequestsInSQLite(olderThan)
}

func SetPolicy(chatID int64, p policy.Policy) error {
	return SetPolicyInSQLite(chatID, p)
}

func GetPolicy(chatID int64) (*StoredPolicy, error) {
	return GetPolicyFromSQLite(chatID)
}

func SaveChallenge(challenge Challenge) error {
	return SaveChallengeToSQLite(challenge)
}

func GetChallenge(text string) (*Challenge, error) {
	return GetChallengeFromSQLite(text)
}

func MarkChallengeAsUsed(text string) error {
	return MarkChallengeAsUsedInSQLite(text)
}

func ExpireOldChallenges(maxAge time.Duration) (int64, error) {
	return ExpireOldChallengesInSQLite(maxAge)
}

func AppendAuditLog(entry AuditEntry) {
	AppendAuditLogToSQLite(entry)
}
