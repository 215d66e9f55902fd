package compliance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bitgate/gatekeeper/internal/balance"
	gatestatedb "github.com/bitgate/gatekeeper/internal/database"
	"github.com/bitgate/gatekeeper/internal/logger"
	"github.com/bitgate/gatekeeper/internal/policy"
)

// EnforceReport summarizes one enforcement sweep.
type EnforceReport struct {
	Evaluated     int `json:"evaluated"`
	Compliant     int `json:"compliant"`
	NonCompliant  int `json:"non_compliant"`
	SkippedAdmins int `json:"skipped_admins"`
	Errors        int `json:"errors"`
}

// RecheckReport is the read-only counterpart: counts only, no mutations
// and no destructive actions.
type RecheckReport struct {
	Compliant     int `json:"compliant"`
	NonCompliant  int `json:"non_compliant"`
	Grandfathered int `json:"grandfathered"`
	Untracked     int `json:"untracked"`
	Errors        int `json:"errors"`
}

// checkMember evaluates one member against the active policy. Upstream
// failures are reported as errors, not as a balance verdict.
func (e *Engine) checkMember(ctx context.Context, member gatestatedb.Member, active policy.Policy) (bool, error) {
	if member.Address == "" || member.State == gatestatedb.MemberStatePending {
		return false, nil
	}
	if active.Basic() {
		return true, nil
	}
	rows, err := e.Source.FetchBalanceRows(ctx, member.Address, active.Asset, balance.Options{
		Verbose:            true,
		IncludeUnconfirmed: active.IncludeUnconfirmed,
	})
	if err != nil {
		return false, err
	}
	return policy.Passes(rows, active)
}

// Enforce sweeps every tracked member of a group against the live policy,
// regardless of grandfathering, and stamps the live policy hash on every
// member it evaluates. Administrators and creators are skipped
// unconditionally. One member's failure never aborts the batch.
func (e *Engine) Enforce(ctx context.Context, chatID int64) (EnforceReport, error) {
	var report EnforceReport

	stored, err := gatestatedb.GetPolicy(chatID)
	if err != nil {
		if errors.Is(err, gatestatedb.ErrNotFound) {
			return report, fmt.Errorf("no active policy for chat %d", chatID)
		}
		return report, fmt.Errorf("load policy: %v", err)
	}
	active := stored.Policy
	currentHash := stored.Hash

	// Fixed snapshot: the sweep works over the membership as it was at
	// sweep start.
	members, err := gatestatedb.GetMembersForChat(chatID)
	if err != nil {
		return report, fmt.Errorf("load members: %v", err)
	}

	sem := semaphore.NewWeighted(int64(e.concurrency()))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, member := range members {
		if member.State == gatestatedb.MemberStateKicked {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			report.Errors++
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(member gatestatedb.Member) {
			defer wg.Done()
			defer sem.Release(1)

			tally := func(update func(*EnforceReport)) {
				mu.Lock()
				defer mu.Unlock()
				update(&report)
			}

			admin, err := e.Chat.IsAdmin(ctx, chatID, member.UserID)
			if err != nil {
				logger.Error("Admin check failed for user ", member.UserID, ": ", err)
				tally(func(r *EnforceReport) { r.Errors++ })
				return
			}
			if admin {
				tally(func(r *EnforceReport) { r.SkippedAdmins++ })
				return
			}

			passes, err := e.checkMember(ctx, member, active)
			if err != nil {
				// Left unresolved for the next sweep: no stamp, no action.
				logger.Error("Member check failed for user ", member.UserID, ": ", err)
				tally(func(r *EnforceReport) { r.Errors++ })
				return
			}

			if passes {
				if member.State == gatestatedb.MemberStateRestricted {
					if err := e.Chat.Unrestrict(ctx, chatID, member.UserID); err != nil {
						logger.Error("Error unrestricting user ", member.UserID, ": ", err)
					}
				}
				if err := gatestatedb.StampMember(chatID, member.UserID, gatestatedb.MemberStateVerified, currentHash); err != nil {
					logger.Error("Error stamping member: ", err)
					tally(func(r *EnforceReport) { r.Errors++ })
					return
				}
				tally(func(r *EnforceReport) { r.Evaluated++; r.Compliant++ })
				return
			}

			state := gatestatedb.MemberStateRestricted
			action := e.Chat.Restrict
			if active.OnFail == policy.FailKick {
				state = gatestatedb.MemberStateKicked
				action = e.Chat.Remove
			}
			if err := action(ctx, chatID, member.UserID); err != nil {
				logger.Error("Enforcement action failed for user ", member.UserID, ": ", err)
				tally(func(r *EnforceReport) { r.Errors++ })
				return
			}
			if err := gatestatedb.StampMember(chatID, member.UserID, state, currentHash); err != nil {
				logger.Error("Error stamping member: ", err)
				tally(func(r *EnforceReport) { r.Errors++ })
				return
			}

			if e.Notifier != nil {
				text := fmt.Sprintf("Your membership no longer meets the group's token policy (%s %s required).",
					active.MinAmount, active.Asset)
				if err := e.Notifier.Notify(ctx, member.UserID, text); err != nil {
					if derr := gatestatedb.SetMemberDMFailure(chatID, member.UserID, true); derr != nil {
						logger.Error("Error recording dm failure: ", derr)
					}
				}
			}
			tally(func(r *EnforceReport) { r.Evaluated++; r.NonCompliant++ })
		}(member)
	}
	wg.Wait()

	gatestatedb.AppendAuditLog(gatestatedb.AuditEntry{
		ChatID: chatID, Level: "info", Event: "enforce_sweep",
		Metadata: fmt.Sprintf("evaluated=%d compliant=%d noncompliant=%d admins=%d errors=%d",
			report.Evaluated, report.Compliant, report.NonCompliant, report.SkippedAdmins, report.Errors),
	})
	return report, nil
}

// Recheck reports compliance counts without mutating member state or
// sending any destructive action. Grandfathered members are counted but
// not evaluated.
func (e *Engine) Recheck(ctx context.Context, chatID int64) (RecheckReport, error) {
	var report RecheckReport

	stored, err := gatestatedb.GetPolicy(chatID)
	if err != nil {
		if errors.Is(err, gatestatedb.ErrNotFound) {
			return report, fmt.Errorf("no active policy for chat %d", chatID)
		}
		return report, fmt.Errorf("load policy: %v", err)
	}

	members, err := gatestatedb.GetMembersForChat(chatID)
	if err != nil {
		return report, fmt.Errorf("load members: %v", err)
	}

	// Main-loop counters stay local while workers run; they merge into
	// the report after the wait.
	tracked := 0
	grandfathered := 0
	acquireErrors := 0
	sem := semaphore.NewWeighted(int64(e.concurrency()))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, member := range members {
		if member.State == gatestatedb.MemberStateKicked {
			continue
		}
		tracked++

		if member.State == gatestatedb.MemberStateVerified && member.PolicyHash != stored.Hash {
			grandfathered++
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			acquireErrors++
			break
		}
		wg.Add(1)
		go func(member gatestatedb.Member) {
			defer wg.Done()
			defer sem.Release(1)

			passes, err := e.checkMember(ctx, member, stored.Policy)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Errors++
			case passes:
				report.Compliant++
			default:
				report.NonCompliant++
			}
		}(member)
	}
	wg.Wait()

	report.Grandfathered = grandfathered
	report.Errors += acquireErrors

	if total, err := e.Chat.MemberCount(ctx, chatID); err == nil && total > tracked {
		report.Untracked = total - tracked
	} else if err != nil {
		logger.Error("Member count lookup failed: ", err)
	}

	return report, nil
}

// RunMaintenance expires overdue join requests and stale challenges and
// purges terminal requests past the retention window. It is driven by a
// periodic ticker, not per-request timers.
func (e *Engine) RunMaintenance(purgeAfter, challengeMaxAge time.Duration) {
	if n, err := gatestatedb.ExpireOldJoinRequests(); err != nil {
		logger.Error("Error expiring join requests: ", err)
	} else if n > 0 {
		logger.Info("Expired ", n, " overdue join requests")
	}

	if n, err := gatestatedb.PurgeTerminalJoinRequests(purgeAfter); err != nil {
		logger.Error("Error purging join requests: ", err)
	} else if n > 0 {
		logger.Info("Purged ", n, " terminal join requests")
	}

	if n, err := gatestatedb.ExpireOldChallenges(challengeMaxAge); err != nil {
		logger.Error("Error expiring challenges: ", err)
	} else if n > 0 {
		logger.Info("Expired ", n, " stale challenges")
	}
}
