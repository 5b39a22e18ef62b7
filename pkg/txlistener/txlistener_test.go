package txlistener

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
)

type rpcRequest struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// notFoundRPCServer answers every eth_getTransactionReceipt call with a
// null result, simulating a transaction that never gets mined.
func notFoundRPCServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  nil,
		})
	}))
}

func TestWaitForTransaction_Timeout(t *testing.T) {
	server := notFoundRPCServer(t)
	defer server.Close()

	client, err := ethclient.Dial(server.URL)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}

	listener := NewTxListener(client,
		WithPollInterval(10*time.Millisecond),
		WithTimeout(50*time.Millisecond),
	)

	_, err = listener.WaitForTransaction(context.Background(), common.HexToHash("0x01"))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestWaitForTransaction_ContextCancelled(t *testing.T) {
	server := notFoundRPCServer(t)
	defer server.Close()

	client, err := ethclient.Dial(server.URL)
	if err != nil {
		t.Fatalf("dial test server: %v", err)
	}

	listener := NewTxListener(client, WithPollInterval(10*time.Millisecond), WithTimeout(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = listener.WaitForTransaction(ctx, common.HexToHash("0x01"))
	assert.Error(t, err)
}

func TestOptions_Defaults(t *testing.T) {
	listener := NewTxListener(nil)
	assert.Equal(t, defaultPollInterval, listener.pollInterval)
	assert.Equal(t, defaultTimeout, listener.timeout)
}
