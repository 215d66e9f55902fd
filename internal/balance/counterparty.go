package balance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/bitgate/gatekeeper/internal/policy"
)

const defaultLookupTimeout = 10 * time.Second

// CounterpartySource queries a Counterparty API node for per-address
// asset balances.
type CounterpartySource struct {
	Endpoint string
	Client   *http.Client
	Timeout  time.Duration
}

// NewCounterpartySource returns a source against the given API base URL,
// e.g. "https://api.counterparty.io:4000".
func NewCounterpartySource(endpoint string) *CounterpartySource {
	return &CounterpartySource{
		Endpoint: endpoint,
		Client:   http.DefaultClient,
		Timeout:  defaultLookupTimeout,
	}
}

type counterpartyBalance struct {
	Asset     string `json:"asset"`
	Quantity  uint64 `json:"quantity"`
	AssetInfo struct {
		Divisible bool `json:"divisible"`
	} `json:"asset_info"`
}

type counterpartyResponse struct {
	Result []counterpartyBalance `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// FetchBalanceRows fetches all balance rows of asset held by address.
// Non-success responses propagate as ErrUpstream; retry policy belongs to
// the caller.
func (s *CounterpartySource) FetchBalanceRows(ctx context.Context, address, asset string, opts Options) ([]policy.Row, error) {
	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultLookupTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := fmt.Sprintf("%s/v2/addresses/%s/balances/%s", s.Endpoint,
		url.PathEscape(address), url.PathEscape(asset))
	query := url.Values{}
	if opts.Verbose {
		query.Set("verbose", "true")
	}
	if opts.IncludeUnconfirmed {
		query.Set("show_unconfirmed", "true")
	}
	if encoded := query.Encode(); encoded != "" {
		reqURL += "?" + encoded
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status code %d", ErrUpstream, resp.StatusCode)
	}

	var decoded counterpartyResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrUpstream, decoded.Error.Message)
	}

	rows := make([]policy.Row, 0, len(decoded.Result))
	for _, entry := range decoded.Result {
		rows = append(rows, policy.Row{
			Quantity:  entry.Quantity,
			Divisible: entry.AssetInfo.Divisible,
		})
	}
	return rows, nil
}
