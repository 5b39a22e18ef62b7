// Package explorer is an HTTP client for an Etherscan-compatible explorer
// API, used by the pair inspector for source verification, contract
// creation lookup, incoming-tx listing, and by the strategy's gas gate for
// the base fee oracle. Grounded on the distilled spec's §6 External
// Interfaces; uses stdlib net/http directly since neither the teacher nor
// any example in the pack carries a third-party HTTP client for this kind
// of REST call (justified standard-library use, see DESIGN.md).
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultTimeout is the per-call HTTP deadline, per spec §5
// ("each external HTTP call carries a timeout, default 10s").
const DefaultTimeout = 10 * time.Second

// Client round-robins across a pool of API keys, matching the original's
// `select_api_key` counter in helpers/gas.py.
type Client struct {
	baseURL string
	keys    []string
	next    uint64
	http    *http.Client
}

// New builds an explorer Client. keys must be non-empty.
func New(baseURL string, keys []string) *Client {
	return &Client{
		baseURL: baseURL,
		keys:    keys,
		http:    &http.Client{Timeout: DefaultTimeout},
	}
}

func (c *Client) selectAPIKey() string {
	if len(c.keys) == 0 {
		return ""
	}
	i := atomic.AddUint64(&c.next, 1) - 1
	return c.keys[i%uint64(len(c.keys))]
}

func (c *Client) get(ctx context.Context, params url.Values, out interface{}) error {
	params.Set("apikey", c.selectAPIKey())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("build explorer request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("EXPLORER_UNAVAILABLE: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("EXPLORER_UNAVAILABLE: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode explorer response: %w", err)
	}
	return nil
}

// GasOracleResult is the subset of `module=gastracker&action=gasoracle`
// this module reads.
type GasOracleResult struct {
	SuggestBaseFee string `json:"suggestBaseFee"`
}

type gasOracleEnvelope struct {
	Result GasOracleResult `json:"result"`
}

// GasOracle returns result.suggestBaseFee as a decimal gwei value.
func (c *Client) GasOracle(ctx context.Context) (decimal.Decimal, error) {
	var env gasOracleEnvelope
	params := url.Values{"module": {"gastracker"}, "action": {"gasoracle"}}
	if err := c.get(ctx, params, &env); err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(env.Result.SuggestBaseFee)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse suggestBaseFee %q: %w", env.Result.SuggestBaseFee, err)
	}
	return d, nil
}

// SourceCodeResult is the subset of `getsourcecode`'s result[0] used by
// the verification step.
type SourceCodeResult struct {
	SourceCode   string `json:"SourceCode"`
	ContractName string `json:"ContractName"`
	Library      string `json:"Library"`
}

type sourceCodeEnvelope struct {
	Status string             `json:"status"`
	Result []SourceCodeResult `json:"result"`
}

// GetSourceCode fetches verification data for address.
func (c *Client) GetSourceCode(ctx context.Context, address string) (SourceCodeResult, bool, error) {
	var env sourceCodeEnvelope
	params := url.Values{"module": {"contract"}, "action": {"getsourcecode"}, "address": {address}}
	if err := c.get(ctx, params, &env); err != nil {
		return SourceCodeResult{}, false, err
	}
	if env.Status != "1" || len(env.Result) == 0 {
		return SourceCodeResult{}, false, nil
	}
	return env.Result[0], true, nil
}

type contractCreationResult struct {
	TxHash string `json:"txHash"`
}

type contractCreationEnvelope struct {
	Status string                    `json:"status"`
	Result []contractCreationResult `json:"result"`
}

// GetContractCreation returns the creation tx hash for address.
func (c *Client) GetContractCreation(ctx context.Context, address string) (string, error) {
	var env contractCreationEnvelope
	params := url.Values{"module": {"contract"}, "action": {"getcontractcreation"}, "contractaddresses": {address}}
	if err := c.get(ctx, params, &env); err != nil {
		return "", err
	}
	if env.Status != "1" || len(env.Result) == 0 {
		return "", fmt.Errorf("EXPLORER_UNAVAILABLE: no creation tx for %s", address)
	}
	return env.Result[0].TxHash, nil
}

// TxListEntry is one row of `module=account&action=txlist`.
type TxListEntry struct {
	Hash             string `json:"hash"`
	To               string `json:"to"`
	MethodID         string `json:"methodId"`
	TxReceiptStatus  string `json:"txreceipt_status"`
	BlockNumber      string `json:"blockNumber"`
}

type txListEnvelope struct {
	Status string        `json:"status"`
	Result []TxListEntry `json:"result"`
}

// TxList lists transactions to/from address between startBlock and
// endBlock (inclusive), newest first, matching the original's
// `startblock=…&endblock=…&sort=desc` usage.
func (c *Client) TxList(ctx context.Context, address string, startBlock, endBlock uint64, offset int) ([]TxListEntry, error) {
	var env txListEnvelope
	params := url.Values{
		"module":     {"account"},
		"action":     {"txlist"},
		"address":    {address},
		"startblock": {strconv.FormatUint(startBlock, 10)},
		"endblock":   {strconv.FormatUint(endBlock, 10)},
		"page":       {"1"},
		"offset":     {strconv.Itoa(offset)},
		"sort":       {"desc"},
	}
	if err := c.get(ctx, params, &env); err != nil {
		return nil, err
	}
	// status "0" with an empty result set means "no transactions found",
	// not an error; only a transport failure above is EXPLORER_UNAVAILABLE.
	return env.Result, nil
}
