// Package compliance converts verified address claims into admit/deny
// decisions and keeps per-member state: verification, grandfathering,
// join-request lifecycle and enforcement sweeps.
package compliance

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/bitgate/gatekeeper/internal/balance"
	gatestatedb "github.com/bitgate/gatekeeper/internal/database"
	"github.com/bitgate/gatekeeper/internal/logger"
	"github.com/bitgate/gatekeeper/internal/platform"
	"github.com/bitgate/gatekeeper/internal/policy"
	"github.com/bitgate/gatekeeper/lib/verify"
)

// Outcome is the user-visible result of a claim, precise enough for the
// UI layer to show an accurate message without leaking internals.
type Outcome string

const (
	OutcomeVerified            Outcome = "verified"
	OutcomeBadSignature        Outcome = "bad_signature"
	OutcomeInsufficientBalance Outcome = "insufficient_balance"
	OutcomeNoJoinRequest       Outcome = "no_join_request"
)

// Engine wires the verification dispatcher and policy evaluator to the
// chat platform and store. All methods are safe for concurrent use; the
// engine itself holds no mutable state.
type Engine struct {
	Chat             platform.Chat
	Notifier         platform.Notifier
	Source           balance.Source
	Params           *chaincfg.Params
	Mode             verify.Mode
	Concurrency      int
	JoinRequestTTL   time.Duration
	RequireChallenge bool
}

// DefaultConcurrency bounds in-flight member checks during a sweep so one
// slow balance lookup cannot serialize a whole group.
const DefaultConcurrency = 10

const defaultJoinRequestTTL = 48 * time.Hour

// NewEngine applies defaults for unset tuning fields.
func NewEngine(chat platform.Chat, notifier platform.Notifier, source balance.Source,
	params *chaincfg.Params, mode verify.Mode) *Engine {
	return &Engine{
		Chat:           chat,
		Notifier:       notifier,
		Source:         source,
		Params:         params,
		Mode:           mode,
		Concurrency:    DefaultConcurrency,
		JoinRequestTTL: defaultJoinRequestTTL,
	}
}

func (e *Engine) concurrency() int {
	if e.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return e.Concurrency
}

func (e *Engine) joinRequestTTL() time.Duration {
	if e.JoinRequestTTL <= 0 {
		return defaultJoinRequestTTL
	}
	return e.JoinRequestTTL
}

// HandleJoin records a join event: a pending member, an open join request
// and a fresh signing challenge delivered by best-effort DM.
func (e *Engine) HandleJoin(ctx context.Context, chatID, userID int64) (*gatestatedb.Challenge, error) {
	member, err := gatestatedb.GetMember(chatID, userID)
	if err != nil || member == nil {
		member = &gatestatedb.Member{ChatID: chatID, UserID: userID, State: gatestatedb.MemberStatePending}
	}
	if member.State != gatestatedb.MemberStateVerified {
		member.State = gatestatedb.MemberStatePending
	}
	if err := gatestatedb.UpsertMember(*member); err != nil {
		return nil, fmt.Errorf("save member: %v", err)
	}

	if _, err := gatestatedb.CreateJoinRequest(chatID, userID, e.joinRequestTTL()); err != nil {
		return nil, fmt.Errorf("open join request: %v", err)
	}

	challenge, err := e.issueChallenge(chatID, userID)
	if err != nil {
		return nil, err
	}

	if e.Notifier != nil {
		text := fmt.Sprintf("To join, sign this message with your wallet and send back the signature:\n%s", challenge.Text)
		if err := e.Notifier.Notify(ctx, userID, text); err != nil {
			logger.Error("DM delivery failed for user ", userID, ": ", err)
			if err := gatestatedb.SetMemberDMFailure(chatID, userID, true); err != nil {
				logger.Error("Error recording dm failure: ", err)
			}
		}
	}

	gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
		ChatID: chatID, UserID: &userID, Level: "info", Event: "join_request_opened",
	})
	return challenge, nil
}

func (e *Engine) issueChallenge(chatID, userID int64) (*gatestatedb.Challenge, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate challenge: %v", err)
	}
	challenge := gatestatedb.Challenge{
		ChatID: chatID,
		UserID: userID,
		Text:   fmt.Sprintf("bitgate-verify:%d:%d:%s", chatID, userID, hex.EncodeToString(buf)),
		Status: gatestatedb.ChallengeStatusUnused,
	}
	if err := gatestatedb.SaveChallenge(challenge); err != nil {
		return nil, fmt.Errorf("save challenge: %v", err)
	}
	return &challenge, nil
}

// SubmitClaim verifies an ownership claim against the group's policy and
// resolves the member's join request. A bad signature leaves the request
// open so the user can retry until it expires; a verified signature that
// fails the token policy declines it.
func (e *Engine) SubmitClaim(ctx context.Context, chatID, userID int64, addr, message, signature string) (Outcome, verify.Result, error) {
	if _, err := gatestatedb.GetOpenJoinRequest(chatID, userID); err != nil {
		if errors.Is(err, gatestatedb.ErrNotFound) {
			// Late responses to an expired or already-resolved request are
			// no-ops, but a tracked member may still re-verify.
			if member, merr := gatestatedb.GetMember(chatID, userID); merr != nil || member == nil {
				return OutcomeNoJoinRequest, verify.Result{}, nil
			}
		} else {
			return "", verify.Result{}, fmt.Errorf("load join request: %v", err)
		}
	}

	if e.RequireChallenge {
		challenge, err := gatestatedb.GetChallenge(message)
		if err != nil || challenge.Status != gatestatedb.ChallengeStatusUnused ||
			challenge.ChatID != chatID || challenge.UserID != userID {
			return OutcomeBadSignature, verify.Result{}, nil
		}
	}

	result := verify.Verify(addr, message, signature, verify.Options{Mode: e.Mode, Params: e.Params})
	if !result.Valid {
		gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
			ChatID: chatID, UserID: &userID, Level: "warn", Event: "claim_rejected",
			Metadata: result.Details,
		})
		return OutcomeBadSignature, result, nil
	}

	// Single-use: consume the challenge only after the signature held up.
	if err := gatestatedb.MarkChallengeAsUsed(message); err != nil &&
		!errors.Is(err, gatestatedb.ErrNotFound) && !errors.Is(err, gatestatedb.ErrAlreadyResolved) {
		return "", result, fmt.Errorf("consume challenge: %v", err)
	}

	stored, err := gatestatedb.GetPolicy(chatID)
	if err != nil && !errors.Is(err, gatestatedb.ErrNotFound) {
		return "", result, fmt.Errorf("load policy: %v", err)
	}
	active := policy.Policy{Kind: policy.KindBasic, OnFail: policy.FailRestrict}
	if stored != nil {
		active = stored.Policy
	}

	passes := true
	if !active.Basic() {
		rows, err := e.Source.FetchBalanceRows(ctx, addr, active.Asset, balance.Options{
			Verbose:            true,
			IncludeUnconfirmed: active.IncludeUnconfirmed,
		})
		if err != nil {
			// Upstream faults surface distinguishably; they are not a
			// balance verdict.
			return "", result, fmt.Errorf("balance lookup: %w", err)
		}
		passes, err = policy.Passes(rows, active)
		if err != nil {
			return "", result, fmt.Errorf("evaluate policy: %v", err)
		}
	}

	if !passes {
		e.resolveJoin(ctx, chatID, userID, gatestatedb.JoinStatusDeclined)
		gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
			ChatID: chatID, UserID: &userID, Level: "info", Event: "claim_declined_balance",
		})
		return OutcomeInsufficientBalance, result, nil
	}

	e.resolveJoin(ctx, chatID, userID, gatestatedb.JoinStatusApproved)

	wasRestricted := false
	if member, err := gatestatedb.GetMember(chatID, userID); err == nil && member != nil {
		wasRestricted = member.State == gatestatedb.MemberStateRestricted
	}

	now := time.Now()
	err = gatestatedb.UpsertMember(gatestatedb.Member{
		ChatID:        chatID,
		UserID:        userID,
		Address:       addr,
		State:         gatestatedb.MemberStateVerified,
		PolicyHash:    active.Hash(),
		DMFailure:     false, // successful re-verification clears the flag
		LastCheckedAt: &now,
	})
	if err != nil {
		return "", result, fmt.Errorf("save member: %v", err)
	}

	if wasRestricted {
		if err := e.Chat.Unrestrict(ctx, chatID, userID); err != nil {
			logger.Error("Error unrestricting re-verified member: ", err)
		}
	}

	gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
		ChatID: chatID, UserID: &userID, Level: "info", Event: "member_verified",
		Metadata: fmt.Sprintf("method=%s type=%s", result.Method, result.AddressType),
	})
	return OutcomeVerified, result, nil
}

// resolveJoin applies a terminal join status plus the matching chat
// action. Acting on an already-resolved request is benign.
func (e *Engine) resolveJoin(ctx context.Context, chatID, userID int64, status string) {
	err := gatestatedb.ResolveJoinRequest(chatID, userID, status)
	if errors.Is(err, gatestatedb.ErrAlreadyResolved) || errors.Is(err, gatestatedb.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error("Error resolving join request: ", err)
		return
	}

	var action error
	switch status {
	case gatestatedb.JoinStatusApproved:
		action = e.Chat.Approve(ctx, chatID, userID)
	case gatestatedb.JoinStatusDeclined:
		action = e.Chat.Decline(ctx, chatID, userID)
	}
	if action != nil {
		logger.Error("Error applying join action ", status, ": ", action)
	}
}

// HandleLeave removes the member record on a leave event.
func (e *Engine) HandleLeave(chatID, userID int64) error {
	gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
		ChatID: chatID, UserID: &userID, Level: "info", Event: "member_left",
	})
	return gatestatedb.RemoveMember(chatID, userID)
}
