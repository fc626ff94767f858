package shared

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Chain int

const (
	Sepolia Chain = iota
	Ithaca
)

func (c Chain) String() string {
	switch c {
	case Sepolia:
		return "Sepolia"
	case Ithaca:
		return "Ithaca"
	default:
		return "unknown"
	}
}

const (
	SepoliaChainID = 11155111
	IthacaChainID  = 911867
)

// Network binds a chain to the parameters needed to talk to it.
type Network struct {
	Chain       Chain
	ChainID     *big.Int
	RPCURL      string
	ExplorerURL string
}

func DefaultNetwork(c Chain) Network {
	switch c {
	case Sepolia:
		return Network{
			Chain:       Sepolia,
			ChainID:     big.NewInt(SepoliaChainID),
			RPCURL:      "https://ethereum-sepolia-rpc.publicnode.com",
			ExplorerURL: "https://sepolia.etherscan.io",
		}
	default:
		return Network{
			Chain:       Ithaca,
			ChainID:     big.NewInt(IthacaChainID),
			RPCURL:      "https://odyssey.ithaca.xyz",
			ExplorerURL: "https://odyssey-explorer.ithaca.xyz",
		}
	}
}

func (n Network) TxURL(hash common.Hash) string {
	if n.ExplorerURL == "" {
		return hash.Hex()
	}
	return strings.TrimRight(n.ExplorerURL, "/") + "/tx/" + hash.Hex()
}
