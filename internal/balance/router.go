package balance

import (
	"context"
	"strings"

	"github.com/bitgate/gatekeeper/internal/policy"
)

// Router dispatches balance lookups by asset: plain BTC goes to the
// Electrum backend, everything else to the Counterparty backend.
type Router struct {
	BTC   Source
	Token Source
}

func (r *Router) FetchBalanceRows(ctx context.Context, address, asset string, opts Options) ([]policy.Row, error) {
	if strings.EqualFold(asset, "BTC") && r.BTC != nil {
		return r.BTC.FetchBalanceRows(ctx, address, asset, opts)
	}
	return r.Token.FetchBalanceRows(ctx, address, asset, opts)
}
