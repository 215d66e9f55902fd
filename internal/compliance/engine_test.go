package compliance

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitgate/gatekeeper/internal/balance"
	gatestatedb "github.com/bitgate/gatekeeper/internal/database"
	"github.com/bitgate/gatekeeper/internal/policy"
	"github.com/bitgate/gatekeeper/lib/address"
	"github.com/bitgate/gatekeeper/lib/msghash"
	"github.com/bitgate/gatekeeper/lib/verify"
)

type fakeChat struct {
	mu           sync.Mutex
	admins       map[int64]bool
	approved     []int64
	declined     []int64
	restricted   []int64
	unrestricted []int64
	removed      []int64
	memberCount  int
}

func (f *fakeChat) record(list *[]int64, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	*list = append(*list, userID)
	return nil
}

func (f *fakeChat) Approve(_ context.Context, _, userID int64) error {
	return f.record(&f.approved, userID)
}
func (f *fakeChat) Decline(_ context.Context, _, userID int64) error {
	return f.record(&f.declined, userID)
}
func (f *fakeChat) Restrict(_ context.Context, _, userID int64) error {
	return f.record(&f.restricted, userID)
}
func (f *fakeChat) Unrestrict(_ context.Context, _, userID int64) error {
	return f.record(&f.unrestricted, userID)
}
func (f *fakeChat) Remove(_ context.Context, _, userID int64) error {
	return f.record(&f.removed, userID)
}
func (f *fakeChat) IsAdmin(_ context.Context, _, userID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.admins[userID], nil
}
func (f *fakeChat) MemberCount(_ context.Context, _ int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.memberCount, nil
}

func (f *fakeChat) restrictedUsers() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.restricted...)
}

type fakeSource struct {
	mu       sync.Mutex
	balances map[string][]policy.Row
	failing  map[string]bool
}

func (f *fakeSource) FetchBalanceRows(_ context.Context, addr, _ string, _ balance.Options) ([]policy.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[addr] {
		return nil, balance.ErrUpstream
	}
	return f.balances[addr], nil
}

type fakeNotifier struct {
	mu      sync.Mutex
	failing map[int64]bool
	sent    []int64
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing[userID] {
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, userID)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *fakeChat, *fakeSource, *fakeNotifier) {
	t.Helper()
	require.NoError(t, gatestatedb.InitSQLiteDB(filepath.Join(t.TempDir(), "gate.db")))

	chat := &fakeChat{admins: map[int64]bool{}}
	source := &fakeSource{balances: map[string][]policy.Row{}, failing: map[string]bool{}}
	notifier := &fakeNotifier{failing: map[int64]bool{}}
	engine := NewEngine(chat, notifier, source, &chaincfg.MainNetParams, verify.ModePermissive)
	return engine, chat, source, notifier
}

const testChat = int64(-100123)

func seedVerifiedMember(t *testing.T, userID int64, addr, policyHash string) {
	t.Helper()
	require.NoError(t, gatestatedb.UpsertMember(gatestatedb.Member{
		ChatID:     testChat,
		UserID:     userID,
		Address:    addr,
		State:      gatestatedb.MemberStateVerified,
		PolicyHash: policyHash,
	}))
}

func tokenPolicy(onFail policy.OnFail) policy.Policy {
	return policy.Policy{
		Kind:      policy.KindToken,
		Asset:     "XCP",
		MinAmount: "1.0",
		OnFail:    onFail,
	}
}

func TestEnforceRestrictsOnlyNonCompliantNonAdmins(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	active := tokenPolicy(policy.FailRestrict)
	require.NoError(t, gatestatedb.SetPolicy(testChat, active))

	chat.admins[1] = true
	seedVerifiedMember(t, 1, "addrAdmin", "old-hash")
	seedVerifiedMember(t, 2, "addrRich", "old-hash")
	seedVerifiedMember(t, 3, "addrPoor", "old-hash")
	source.balances["addrAdmin"] = nil
	source.balances["addrRich"] = []policy.Row{{Quantity: 100000000, Divisible: true}}
	source.balances["addrPoor"] = []policy.Row{{Quantity: 99999999, Divisible: true}}

	report, err := engine.Enforce(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Evaluated)
	assert.Equal(t, 1, report.Compliant)
	assert.Equal(t, 1, report.NonCompliant)
	assert.Equal(t, 1, report.SkippedAdmins)
	assert.Equal(t, 0, report.Errors)
	assert.Equal(t, []int64{3}, chat.restrictedUsers())
	assert.Empty(t, chat.removed)

	// Admin untouched, evaluated members stamped with the live hash.
	admin, err := gatestatedb.GetMember(testChat, 1)
	require.NoError(t, err)
	assert.Equal(t, "old-hash", admin.PolicyHash)
	assert.Equal(t, gatestatedb.MemberStateVerified, admin.State)

	rich, err := gatestatedb.GetMember(testChat, 2)
	require.NoError(t, err)
	assert.Equal(t, active.Hash(), rich.PolicyHash)
	assert.Equal(t, gatestatedb.MemberStateVerified, rich.State)

	poor, err := gatestatedb.GetMember(testChat, 3)
	require.NoError(t, err)
	assert.Equal(t, active.Hash(), poor.PolicyHash)
	assert.Equal(t, gatestatedb.MemberStateRestricted, poor.State)
}

func TestEnforceKickPolicyRemoves(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailKick)))

	seedVerifiedMember(t, 7, "addrPoor", "")
	source.balances["addrPoor"] = []policy.Row{{Quantity: 1, Divisible: true}}

	report, err := engine.Enforce(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NonCompliant)
	assert.Equal(t, []int64{7}, chat.removed)

	member, err := gatestatedb.GetMember(testChat, 7)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.MemberStateKicked, member.State)
}

func TestEnforceBalanceErrorLeavesMemberUnresolved(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailRestrict)))

	seedVerifiedMember(t, 4, "addrFlaky", "old-hash")
	seedVerifiedMember(t, 5, "addrRich", "old-hash")
	source.failing["addrFlaky"] = true
	source.balances["addrRich"] = []policy.Row{{Quantity: 200000000, Divisible: true}}

	report, err := engine.Enforce(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 1, report.Compliant)
	assert.Empty(t, chat.restrictedUsers())

	// The failed member keeps its old hash for the next sweep.
	flaky, err := gatestatedb.GetMember(testChat, 4)
	require.NoError(t, err)
	assert.Equal(t, "old-hash", flaky.PolicyHash)
}

func TestGrandfatheringLifecycle(t *testing.T) {
	engine, _, source, _ := newTestEngine(t)
	oldPolicy := tokenPolicy(policy.FailRestrict)
	seedVerifiedMember(t, 9, "addrPoor", oldPolicy.Hash())
	source.balances["addrPoor"] = []policy.Row{{Quantity: 1, Divisible: true}}

	// Replace the policy; the member is now grandfathered.
	newPolicy := tokenPolicy(policy.FailRestrict)
	newPolicy.MinAmount = "2.0"
	require.NoError(t, gatestatedb.SetPolicy(testChat, newPolicy))

	report, err := engine.Recheck(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Grandfathered)
	assert.Equal(t, 0, report.NonCompliant)

	// An enforce sweep stamps the live hash and ends the exemption.
	_, err = engine.Enforce(context.Background(), testChat)
	require.NoError(t, err)

	report, err = engine.Recheck(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Grandfathered)
	assert.Equal(t, 1, report.NonCompliant)
}

func TestRecheckIsReadOnly(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailRestrict)))

	current, err := gatestatedb.GetPolicy(testChat)
	require.NoError(t, err)
	seedVerifiedMember(t, 11, "addrPoor", current.Hash)
	source.balances["addrPoor"] = nil
	chat.memberCount = 5

	report, err := engine.Recheck(context.Background(), testChat)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NonCompliant)
	assert.Equal(t, 4, report.Untracked)
	assert.Empty(t, chat.restrictedUsers())
	assert.Empty(t, chat.removed)

	member, err := gatestatedb.GetMember(testChat, 11)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.MemberStateVerified, member.State)
}

func signClaim(t *testing.T, priv *btcec.PrivateKey, message string) (string, string) {
	t.Helper()
	addr, err := address.DeriveP2WPKH(priv.PubKey(), &chaincfg.MainNetParams)
	require.NoError(t, err)
	hash := msghash.LegacyMessage(message)
	sig, err := ecdsa.SignCompact(priv, hash[:], true)
	require.NoError(t, err)
	recID := (sig[0] - 27) & 3
	sig[0] = 39 + recID
	return addr, base64.StdEncoding.EncodeToString(sig)
}

func TestJoinAndClaimLifecycle(t *testing.T) {
	engine, chat, source, notifier := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailRestrict)))

	challenge, err := engine.HandleJoin(context.Background(), testChat, 21)
	require.NoError(t, err)
	require.NotNil(t, challenge)
	assert.Equal(t, []int64{21}, notifier.sent)

	member, err := gatestatedb.GetMember(testChat, 21)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.MemberStatePending, member.State)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, sig := signClaim(t, priv, challenge.Text)
	source.balances[addr] = []policy.Row{{Quantity: 100000000, Divisible: true}}

	outcome, result, err := engine.SubmitClaim(context.Background(), testChat, 21, addr, challenge.Text, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
	assert.True(t, result.Valid)
	assert.Equal(t, []int64{21}, chat.approved)

	member, err = gatestatedb.GetMember(testChat, 21)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.MemberStateVerified, member.State)
	assert.Equal(t, addr, member.Address)

	// The consumed challenge cannot be replayed.
	stored, err := gatestatedb.GetChallenge(challenge.Text)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.ChallengeStatusUsed, stored.Status)

	// A late duplicate claim is benign: no second approve action.
	outcome, _, err = engine.SubmitClaim(context.Background(), testChat, 21, addr, challenge.Text, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
	assert.Equal(t, []int64{21}, chat.approved)
}

func TestSubmitClaimOutcomes(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailRestrict)))

	_, err := engine.HandleJoin(context.Background(), testChat, 31)
	require.NoError(t, err)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, sig := signClaim(t, priv, "test")

	// Bad signature: the join request stays open for a retry.
	outcome, _, err := engine.SubmitClaim(context.Background(), testChat, 31, addr, "wrong", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBadSignature, outcome)
	_, err = gatestatedb.GetOpenJoinRequest(testChat, 31)
	assert.NoError(t, err)

	// Upstream failure surfaces as an error, not a verdict.
	source.failing[addr] = true
	_, _, err = engine.SubmitClaim(context.Background(), testChat, 31, addr, "test", sig)
	assert.ErrorIs(t, err, balance.ErrUpstream)
	_, err = gatestatedb.GetOpenJoinRequest(testChat, 31)
	assert.NoError(t, err)

	// Insufficient balance declines the request.
	source.failing[addr] = false
	source.balances[addr] = []policy.Row{{Quantity: 1, Divisible: true}}
	outcome, _, err = engine.SubmitClaim(context.Background(), testChat, 31, addr, "test", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInsufficientBalance, outcome)
	assert.Equal(t, []int64{31}, chat.declined)
}

func TestDMFailureRecordedAndClearedOnReverify(t *testing.T) {
	engine, _, source, notifier := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, policy.Policy{Kind: policy.KindBasic, OnFail: policy.FailRestrict}))
	notifier.failing[41] = true

	_, err := engine.HandleJoin(context.Background(), testChat, 41)
	require.NoError(t, err)

	member, err := gatestatedb.GetMember(testChat, 41)
	require.NoError(t, err)
	assert.True(t, member.DMFailure)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, sig := signClaim(t, priv, "test")
	source.balances[addr] = nil

	outcome, _, err := engine.SubmitClaim(context.Background(), testChat, 41, addr, "test", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)

	member, err = gatestatedb.GetMember(testChat, 41)
	require.NoError(t, err)
	assert.False(t, member.DMFailure)
}

func TestReverificationUnrestricts(t *testing.T) {
	engine, chat, source, _ := newTestEngine(t)
	require.NoError(t, gatestatedb.SetPolicy(testChat, tokenPolicy(policy.FailRestrict)))

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, sig := signClaim(t, priv, "test")
	require.NoError(t, gatestatedb.UpsertMember(gatestatedb.Member{
		ChatID: testChat, UserID: 51, Address: addr,
		State: gatestatedb.MemberStateRestricted, DMFailure: true,
	}))
	source.balances[addr] = []policy.Row{{Quantity: 100000000, Divisible: true}}

	outcome, _, err := engine.SubmitClaim(context.Background(), testChat, 51, addr, "test", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
	assert.Equal(t, []int64{51}, chat.unrestricted)

	member, err := gatestatedb.GetMember(testChat, 51)
	require.NoError(t, err)
	assert.Equal(t, gatestatedb.MemberStateVerified, member.State)
	assert.False(t, member.DMFailure)
}

func TestJoinRequestExpiryAndLateResolution(t *testing.T) {
	_, _, _, _ = newTestEngine(t)

	_, err := gatestatedb.CreateJoinRequest(testChat, 61, -time.Minute)
	require.NoError(t, err)

	n, err := gatestatedb.ExpireOldJoinRequests()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A late approval of the expired request is a benign no-op.
	err = gatestatedb.ResolveJoinRequest(testChat, 61, gatestatedb.JoinStatusApproved)
	assert.ErrorIs(t, err, gatestatedb.ErrAlreadyResolved)
}

func TestRequireChallengeRejectsUnknownMessage(t *testing.T) {
	engine, _, source, _ := newTestEngine(t)
	engine.RequireChallenge = true
	require.NoError(t, gatestatedb.SetPolicy(testChat, policy.Policy{Kind: policy.KindBasic, OnFail: policy.FailRestrict}))

	challenge, err := engine.HandleJoin(context.Background(), testChat, 71)
	require.NoError(t, err)

	priv, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	addr, sig := signClaim(t, priv, "test")
	source.balances[addr] = nil

	outcome, _, err := engine.SubmitClaim(context.Background(), testChat, 71, addr, "test", sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeBadSignature, outcome)

	addr, sig = signClaim(t, priv, challenge.Text)
	outcome, _, err = engine.SubmitClaim(context.Background(), testChat, 71, addr, challenge.Text, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeVerified, outcome)
}
