package altstore

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nullAccountsServer answers getMultipleAccounts with a null account for
// every requested key and counts the requests.
func nullAccountsServer(t *testing.T, requests *atomic.Int32) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "getMultipleAccounts" || len(req.Params) == 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		var keys []string
		if err := json.Unmarshal(req.Params[0], &keys); err != nil {
			http.Error(w, "bad params", http.StatusBadRequest)
			return
		}

		value := make([]any, len(keys))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":{"context":{"slot":1},"value":%s}}`, req.ID, mustJSON(t, value))
	}))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)

	return data
}

func TestRPCFetcherChunksAndSkipsMissing(t *testing.T) {
	var requests atomic.Int32

	srv := nullAccountsServer(t, &requests)
	defer srv.Close()

	tables := make([]solana.PublicKey, maxAccountsPerRequest+5)
	for i := range tables {
		tables[i] = solana.PublicKey{byte(i), byte(i >> 8), 0x42}
	}

	fetched, err := NewRPCFetcher(srv.URL, logrus.New()).FetchTables(context.Background(), tables)
	require.NoError(t, err)

	assert.Empty(t, fetched)
	assert.Equal(t, int32(2), requests.Load())
}

func TestRPCFetcherError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewRPCFetcher(srv.URL, logrus.New()).FetchTables(context.Background(), []solana.PublicKey{testKey(1)})
	assert.Error(t, err)
}
