// Package platform declares the narrow contracts the compliance engine
// uses to act on the chat platform, plus an HTTP bridge implementation
// that forwards actions to a bot process. The engine only needs these
// calls, each blocking, retryable and individually time-boundable
// through its context.
package platform

import "context"

// Chat performs side-effecting group actions. Implementations must treat
// double-resolution as a no-op: approving an already-approved join request
// is not an error.
type Chat interface {
	Approve(ctx context.Context, chatID, userID int64) error
	Decline(ctx context.Context, chatID, userID int64) error
	Restrict(ctx context.Context, chatID, userID int64) error
	Unrestrict(ctx context.Context, chatID, userID int64) error
	Remove(ctx context.Context, chatID, userID int64) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
	MemberCount(ctx context.Context, chatID int64) (int, error)
}

// Notifier delivers best-effort direct messages. A failure (commonly the
// user blocking DMs) is reported back so the caller can record it; it is
// never a verification failure.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}
