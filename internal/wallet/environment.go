package wallet

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var (
	// ErrDeclined is returned by an environment when the human refuses a prompt.
	ErrDeclined = errors.New("wallet: request declined")
	// ErrUnknownChain is returned by SwitchChain for a chain the environment has never been told about.
	ErrUnknownChain = errors.New("wallet: unrecognized chain")
	// ErrNoAccounts is returned when the environment holds no usable account.
	ErrNoAccounts = errors.New("wallet: no accounts available")
)

// Currency describes a network's native unit, as passed when adding a network.
type Currency struct {
	Name     string `yaml:"name"`
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// Network identifies a chain by id, with what an environment needs to add it.
type Network struct {
	ChainID  uint64   `yaml:"chain_id"`
	Name     string   `yaml:"name"`
	RPCURL   string   `yaml:"rpc_url"`
	Currency Currency `yaml:"currency"`
}

func (n Network) ChainIDBig() *big.Int {
	return new(big.Int).SetUint64(n.ChainID)
}

type ChangeKind int

const (
	AccountChanged ChangeKind = iota + 1
	NetworkChanged
)

func (k ChangeKind) String() string {
	switch k {
	case AccountChanged:
		return "accountsChanged"
	case NetworkChanged:
		return "chainChanged"
	}
	return "unknown"
}

// Change is an externally initiated identity or network switch.
type Change struct {
	Kind    ChangeKind
	Account common.Address
	ChainID uint64
}

// Environment is the external signing agent. It owns the keys, the set of
// known networks and the active selection; every method may prompt a human.
type Environment interface {
	// RequestAccounts asks for authorization and returns the authorized accounts,
	// active one first.
	RequestAccounts(ctx context.Context) ([]common.Address, error)
	// Accounts returns the already-authorized accounts without prompting.
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (uint64, error)
	SwitchChain(ctx context.Context, chainID uint64) error
	AddChain(ctx context.Context, n Network) error
	SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
	Subscribe(fn func(Change)) (cancel func())
}
