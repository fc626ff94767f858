// Package quote requests bridge routes from the Superbridge API. Routes are
// treated as opaque, untrusted transaction descriptors.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"testnet-automation/pkg/httpclient"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog"
)

const (
	DefaultURL  = "https://api.superbridge.app/api/v2/bridge/routes"
	DefaultHost = "odyssey-fba0638ec5f46615.testnets.rollbridge.app"

	// Gas price hints sent when a chain's price cannot be read.
	DefaultFromGasPrice = 378787194
	DefaultToGasPrice   = 1000000302

	nativeToken = "0x0000000000000000000000000000000000000000"
	userAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
)

var ErrInvalidRoute = errors.New("invalid route")

type Request struct {
	Amount       *big.Int
	FromChainID  *big.Int
	ToChainID    *big.Int
	Sender       common.Address
	Recipient    common.Address
	FromGasPrice *big.Int
	ToGasPrice   *big.Int
}

// Route is the initiating transaction of one quoted bridge path.
type Route struct {
	To      *common.Address
	Data    []byte
	Value   *big.Int
	ChainID *big.Int
}

// Validate checks that every field needed to build the transaction is
// present. It does not judge whether the route is sensible.
func (r Route) Validate() error {
	switch {
	case r.To == nil:
		return fmt.Errorf("%w: missing to", ErrInvalidRoute)
	case r.Value == nil:
		return fmt.Errorf("%w: missing value", ErrInvalidRoute)
	case r.ChainID == nil:
		return fmt.Errorf("%w: missing chain id", ErrInvalidRoute)
	}
	return nil
}

type Quoter interface {
	Routes(ctx context.Context, req Request) ([]Route, error)
}

// Executor is satisfied by *httpclient.Client.
type Executor interface {
	Execute(ctx context.Context, method, rawURL string, opts httpclient.Options) httpclient.Result
}

type Client struct {
	http Executor
	url  string
	host string
}

func NewClient(http Executor, url, host string) *Client {
	if url == "" {
		url = DefaultURL
	}
	if host == "" {
		host = DefaultHost
	}
	return &Client{http: http, url: url, host: host}
}

type payload struct {
	Host              string `json:"host"`
	Amount            string `json:"amount"`
	FromChainID       string `json:"fromChainId"`
	ToChainID         string `json:"toChainId"`
	FromTokenAddress  string `json:"fromTokenAddress"`
	ToTokenAddress    string `json:"toTokenAddress"`
	FromTokenDecimals int    `json:"fromTokenDecimals"`
	ToTokenDecimals   int    `json:"toTokenDecimals"`
	FromGasPrice      string `json:"fromGasPrice"`
	ToGasPrice        string `json:"toGasPrice"`
	Graffiti          string `json:"graffiti"`
	Recipient         string `json:"recipient"`
	Sender            string `json:"sender"`
	ForceViaL1        bool   `json:"forceViaL1"`
}

type response struct {
	Results []struct {
		Result *struct {
			InitiatingTransaction *struct {
				To      *common.Address `json:"to"`
				Data    string          `json:"data"`
				Value   *Number         `json:"value"`
				ChainID *Number         `json:"chainId"`
			} `json:"initiatingTransaction"`
		} `json:"result"`
	} `json:"results"`
}

func (c *Client) Routes(ctx context.Context, req Request) ([]Route, error) {
	if req.Amount == nil || req.FromChainID == nil || req.ToChainID == nil {
		return nil, errors.New("quote request is missing amount or chain ids")
	}
	body := payload{
		Host:              c.host,
		Amount:            req.Amount.String(),
		FromChainID:       req.FromChainID.String(),
		ToChainID:         req.ToChainID.String(),
		FromTokenAddress:  nativeToken,
		ToTokenAddress:    nativeToken,
		FromTokenDecimals: 18,
		ToTokenDecimals:   18,
		FromGasPrice:      priceOrDefault(req.FromGasPrice, DefaultFromGasPrice),
		ToGasPrice:        priceOrDefault(req.ToGasPrice, DefaultToGasPrice),
		Graffiti:          "superbridge",
		Recipient:         req.Recipient.Hex(),
		Sender:            req.Sender.Hex(),
	}

	origin := "https://" + c.host
	res := c.http.Execute(ctx, http.MethodPost, c.url, httpclient.Options{
		JSON: body,
		Headers: map[string]string{
			"Accept":          "application/json, text/plain, */*",
			"Accept-Language": "en-US,en;q=0.9",
			"Cache-Control":   "no-cache",
			"Origin":          origin,
			"Referer":         origin + "/",
			"User-Agent":      userAgent,
		},
	})
	if !res.Success {
		return nil, fmt.Errorf("failed to request bridge routes: %w", res.Err)
	}
	if res.Response.StatusCode >= 300 {
		return nil, fmt.Errorf("bridge routes request returned status %d: %s",
			res.Response.StatusCode, snippet(res.Response.Body))
	}

	var decoded response
	if err := json.Unmarshal(res.Response.Body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode bridge routes: %w", err)
	}

	routes := make([]Route, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		var route Route
		if r.Result != nil && r.Result.InitiatingTransaction != nil {
			tx := r.Result.InitiatingTransaction
			route.To = tx.To
			route.Value = tx.Value.Int()
			route.ChainID = tx.ChainID.Int()
			if tx.Data != "" {
				data, err := hexutil.Decode(tx.Data)
				if err != nil {
					return nil, fmt.Errorf("%w: bad calldata: %v", ErrInvalidRoute, err)
				}
				route.Data = data
			}
		}
		routes = append(routes, route)
	}
	zerolog.Ctx(ctx).Debug().Int("routes", len(routes)).Msg("received bridge routes")
	return routes, nil
}

func priceOrDefault(p *big.Int, def int64) string {
	if p == nil || p.Sign() <= 0 {
		return big.NewInt(def).String()
	}
	return p.String()
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
