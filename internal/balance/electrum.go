package balance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/checksum0/go-electrum/electrum"

	"github.com/bitgate/gatekeeper/internal/policy"
	"github.com/bitgate/gatekeeper/lib/address"
)

// ElectrumConfig describes the server an ElectrumSource talks to.
type ElectrumConfig struct {
	ServerAddr string
	UseSSL     bool
}

// ElectrumSource serves BTC balance lookups through an Electrum server.
// It only answers for the "BTC" asset; the quantity unit is the satoshi.
type ElectrumSource struct {
	Client *electrum.Client
	Params *chaincfg.Params
}

// NewElectrumSource dials the configured Electrum server.
func NewElectrumSource(config ElectrumConfig, params *chaincfg.Params) (*ElectrumSource, error) {
	ctx := context.Background()
	var client *electrum.Client
	var err error
	if config.UseSSL {
		client, err = electrum.NewClientSSL(ctx, config.ServerAddr, nil)
	} else {
		client, err = electrum.NewClientTCP(ctx, config.ServerAddr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect electrum: %v", ErrUpstream, err)
	}
	return &ElectrumSource{Client: client, Params: params}, nil
}

// FetchBalanceRows returns the confirmed (and optionally unconfirmed)
// satoshi balance of address as divisible rows.
func (s *ElectrumSource) FetchBalanceRows(ctx context.Context, addr, asset string, opts Options) ([]policy.Row, error) {
	if !strings.EqualFold(asset, "BTC") {
		return nil, fmt.Errorf("%w: electrum source only serves BTC, not %q", ErrUpstream, asset)
	}

	scriptHash, err := ElectrumScriptHash(addr, s.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := s.Client.GetBalance(ctx, scriptHash)
	if err != nil {
		return nil, fmt.Errorf("%w: electrum get_balance: %v", ErrUpstream, err)
	}

	rows := []policy.Row{{Quantity: uint64(result.Confirmed), Divisible: true}}
	if opts.IncludeUnconfirmed && result.Unconfirmed > 0 {
		rows = append(rows, policy.Row{Quantity: uint64(result.Unconfirmed), Divisible: true})
	}
	return rows, nil
}

// ElectrumScriptHash converts an address into the reversed SHA256 of its
// scriptPubKey, the key Electrum servers index by.
func ElectrumScriptHash(addr string, params *chaincfg.Params) (string, error) {
	script, err := address.PayToAddrScript(addr, params)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(script)
	for i, j := 0, len(sum)-1; i < j; i, j = i+1, j-1 {
		sum[i], sum[j] = sum[j], sum[i]
	}
	return hex.EncodeToString(sum[:]), nil
}
