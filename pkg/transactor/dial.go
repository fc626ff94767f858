package transactor

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// Dial connects to a JSON-RPC endpoint over httpClient, so chain calls share
// its retry and proxy behaviour.
func Dial(ctx context.Context, rawURL string, httpClient *http.Client) (*ethclient.Client, error) {
	opts := []rpc.ClientOption{}
	if httpClient != nil {
		opts = append(opts, rpc.WithHTTPClient(httpClient))
	}
	c, err := rpc.DialOptions(ctx, rawURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc %s: %w", rawURL, err)
	}
	return ethclient.NewClient(c), nil
}
