package balance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterpartyFetchBalanceRows(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/addresses/1TestAddr/balances/XCP", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("verbose"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": []map[string]interface{}{
				{"asset": "XCP", "quantity": 100000000, "asset_info": map[string]bool{"divisible": true}},
				{"asset": "XCP", "quantity": 5, "asset_info": map[string]bool{"divisible": true}},
			},
		})
	}))
	defer server.Close()

	source := NewCounterpartySource(server.URL)
	rows, err := source.FetchBalanceRows(context.Background(), "1TestAddr", "XCP", Options{Verbose: true})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, uint64(100000000), rows[0].Quantity)
	assert.True(t, rows[0].Divisible)
	assert.Equal(t, uint64(5), rows[1].Quantity)
}

func TestCounterpartyUpstreamFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend down", http.StatusBadGateway)
	}))
	defer server.Close()

	source := NewCounterpartySource(server.URL)
	_, err := source.FetchBalanceRows(context.Background(), "1TestAddr", "XCP", Options{})
	assert.ErrorIs(t, err, ErrUpstream)

	// API-level error payloads are upstream failures too.
	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "asset not found"},
		})
	}))
	defer errServer.Close()

	source = NewCounterpartySource(errServer.URL)
	_, err = source.FetchBalanceRows(context.Background(), "1TestAddr", "NOPE", Options{})
	assert.ErrorIs(t, err, ErrUpstream)

	// Unreachable endpoint.
	source = NewCounterpartySource("http://127.0.0.1:1")
	_, err = source.FetchBalanceRows(context.Background(), "1TestAddr", "XCP", Options{})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestElectrumScriptHash(t *testing.T) {
	hash, err := ElectrumScriptHash("bc1qhmfed7sgtc25m4p4md5eyvqnel6pf09wwsvx2r", &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Len(t, hash, 64)

	again, err := ElectrumScriptHash("bc1qhmfed7sgtc25m4p4md5eyvqnel6pf09wwsvx2r", &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	_, err = ElectrumScriptHash("not-an-address", &chaincfg.MainNetParams)
	assert.Error(t, err)
}
