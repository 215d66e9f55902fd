package api

import (
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/sync/semaphore"

	"github.com/bitgate/gatekeeper/internal/compliance"
)

type API struct {
	Engine      *compliance.Engine
	ChainParams *chaincfg.Params
	Name        string

	// Limiter bounds in-flight claim and challenge requests. Verification
	// burns CPU on signature math and may fan out to balance backends, so
	// excess load is shed with 429 instead of queued.
	Limiter *semaphore.Weighted
}

type ClaimRequest struct {
	ChatID    int64  `json:"chat_id"`
	UserID    int64  `json:"user_id"`
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type ClaimResponse struct {
	Outcome     string `json:"outcome"`
	Valid       bool   `json:"valid"`
	Method      string `json:"method,omitempty"`
	AddressType string `json:"address_type,omitempty"`
	Message     string `json:"message,omitempty"`
}

type ChallengeRequest struct {
	ChatID int64 `json:"chat_id"`
	UserID int64 `json:"user_id"`
}

type ChallengeResponse struct {
	Challenge string `json:"challenge"`
}

type PolicyRequest struct {
	ChatID             int64  `json:"chat_id"`
	Kind               string `json:"kind"`
	Asset              string `json:"asset,omitempty"`
	MinAmount          string `json:"min_amount,omitempty"`
	IncludeUnconfirmed bool   `json:"include_unconfirmed"`
	OnFail             string `json:"on_fail"`
}

type PolicyResponse struct {
	ChatID             int64  `json:"chat_id"`
	Kind               string `json:"kind"`
	Asset              string `json:"asset,omitempty"`
	MinAmount          string `json:"min_amount,omitempty"`
	IncludeUnconfirmed bool   `json:"include_unconfirmed"`
	OnFail             string `json:"on_fail"`
	Hash               string `json:"hash"`
}

type StatusResponse struct {
	ChatID        int64  `json:"chat_id"`
	UserID        int64  `json:"user_id"`
	State         string `json:"state"`
	Address       string `json:"address,omitempty"`
	Grandfathered bool   `json:"grandfathered"`
	LastCheckedAt string `json:"last_checked_at,omitempty"`
}

type contextKey string
