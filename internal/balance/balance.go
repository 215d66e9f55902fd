// Package balance fetches ledger balances for a verified address. Two
// sources are provided: a Counterparty-style HTTP API for ledger-layer
// assets and an Electrum server for plain BTC. Either way the core only
// sees rows of atomic quantities.
package balance

import (
	"context"
	"errors"

	"github.com/bitgate/gatekeeper/internal/policy"
)

// ErrUpstream marks a balance lookup that failed for infrastructure
// reasons. Enforcement treats the member as unresolved for this check,
// but the failure must stay distinguishable from "holds too little".
var ErrUpstream = errors.New("balance: upstream failure")

// Options tunes a lookup.
type Options struct {
	Verbose            bool
	IncludeUnconfirmed bool
}

// Source is the balance-query contract the compliance engine consumes.
type Source interface {
	FetchBalanceRows(ctx context.Context, address, asset string, opts Options) ([]policy.Row, error)
}
