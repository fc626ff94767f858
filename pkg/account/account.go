package account

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"testnet-automation/pkg/shared"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidKey    = errors.New("invalid private key")
	ErrChainMismatch = errors.New("transaction chain id does not match account chain")
)

// Account is a signing identity bound to one network. It is never shared
// between wallets.
type Account struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	network    shared.Network
}

func FromPrivateKey(key string, network shared.Network) (*Account, error) {
	key = strings.TrimSpace(key)
	key = strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X")
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}
	pk, err := crypto.HexToECDSA(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if network.ChainID == nil || network.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("network %s has no chain id", network.Chain)
	}
	return &Account{
		privateKey: pk,
		address:    addressOf(&pk.PublicKey),
		network:    network,
	}, nil
}

func addressOf(pub *ecdsa.PublicKey) common.Address {
	pubKeyBytes := crypto.FromECDSAPub(pub)
	hash := sha3.NewLegacyKeccak256()
	hash.Write(pubKeyBytes[1:])
	return common.BytesToAddress(hash.Sum(nil)[12:])
}

func (a *Account) Address() common.Address { return a.address }

func (a *Account) Network() shared.Network { return a.network }

// For binds the same key to another network.
func (a *Account) For(network shared.Network) *Account {
	return &Account{privateKey: a.privateKey, address: a.address, network: network}
}

// SignTx signs tx for the account's network. A typed transaction carrying
// a different chain id is refused; legacy transactions get the account's
// chain id from the EIP-155 signer.
func (a *Account) SignTx(tx *types.Transaction) (*types.Transaction, error) {
	if tx.Type() != types.LegacyTxType && tx.ChainId().Cmp(a.network.ChainID) != 0 {
		return nil, fmt.Errorf("%w: tx %s, account %s", ErrChainMismatch, tx.ChainId(), a.network.ChainID)
	}
	signed, err := types.SignTx(tx, types.NewEIP155Signer(a.network.ChainID), a.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signed, nil
}
