package altstore

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"
)

// maxAccountsPerRequest is the getMultipleAccounts limit.
const maxAccountsPerRequest = 100

// RPCFetcher fetches lookup tables from a Solana JSON-RPC endpoint.
type RPCFetcher struct {
	client *rpc.Client
	log    logrus.FieldLogger
}

// NewRPCFetcher creates a fetcher for the given endpoint.
func NewRPCFetcher(endpoint string, log logrus.FieldLogger) *RPCFetcher {
	return &RPCFetcher{
		client: rpc.New(endpoint),
		log:    log.WithField("component", "alt-fetcher"),
	}
}

// FetchTables loads tables in chunks. Missing accounts and accounts that do
// not decode as lookup tables are skipped.
func (f *RPCFetcher) FetchTables(ctx context.Context, tables []solana.PublicKey) (map[solana.PublicKey][]solana.PublicKey, error) {
	fetched := make(map[solana.PublicKey][]solana.PublicKey, len(tables))

	for start := 0; start < len(tables); start += maxAccountsPerRequest {
		chunk := tables[start:min(start+maxAccountsPerRequest, len(tables))]

		result, err := f.client.GetMultipleAccounts(ctx, chunk...)
		if err != nil {
			return nil, fmt.Errorf("failed to get lookup table accounts: %w", err)
		}

		for i, account := range result.Value {
			if i >= len(chunk) {
				break
			}

			if account == nil || account.Data == nil {
				f.log.WithField("table", chunk[i]).Debug("Lookup table not found")
				continue
			}

			state, err := addresslookuptable.DecodeAddressLookupTableState(account.Data.GetBinary())
			if err != nil {
				f.log.WithError(err).WithField("table", chunk[i]).Warn("Failed to decode lookup table")
				continue
			}

			fetched[chunk[i]] = state.Addresses
		}
	}

	return fetched, nil
}
