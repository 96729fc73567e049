// Package wallet manages the signing identity and target network the
// coordinators act under.
//
// The active account and network belong to the external environment and may
// change at any time, so Session never caches them: every Account and Signer
// call re-reads the environment.
package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"medshare/pkg/fault"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Signer signs transactions as one account on one chain.
type Signer interface {
	Address() common.Address
	ChainID() *big.Int
	SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error)
}

// SignerSource hands out a signer for the currently active identity.
type SignerSource interface {
	Signer(ctx context.Context) (Signer, error)
}

type Session struct {
	env Environment

	mu        sync.Mutex
	listeners map[int]func(Change)
	nextID    int
	cancelEnv func()
}

// NewSession wraps env. A nil env models a host with no signing environment:
// every operation then fails with EnvironmentMissing.
func NewSession(env Environment) *Session {
	s := &Session{env: env, listeners: make(map[int]func(Change))}
	if env != nil {
		s.cancelEnv = env.Subscribe(s.relay)
	}
	return s
}

// Connect requests authorization and returns the active account.
func (s *Session) Connect(ctx context.Context) (common.Address, error) {
	if s.env == nil {
		return common.Address{}, fault.New(fault.EnvironmentMissing, fault.StageWallet, "no signing environment is installed")
	}
	accounts, err := s.env.RequestAccounts(ctx)
	if err != nil {
		if errors.Is(err, ErrDeclined) {
			return common.Address{}, fault.New(fault.UserRejected, fault.StageWallet, "account access was declined")
		}
		return common.Address{}, fault.Wrap(fault.EnvironmentMissing, fault.StageWallet, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, fault.New(fault.EnvironmentMissing, fault.StageWallet, "no accounts found")
	}
	logger.Log.Info("wallet connected", zap.String("account", accounts[0].Hex()))
	return accounts[0], nil
}

// EnsureNetwork makes target the active network, registering it with the
// environment first when the environment does not know it.
func (s *Session) EnsureNetwork(ctx context.Context, target Network) error {
	if s.env == nil {
		return fault.New(fault.EnvironmentMissing, fault.StageWallet, "no signing environment is installed")
	}
	current, err := s.env.ChainID(ctx)
	if err != nil {
		return fault.Wrap(fault.NetworkMismatch, fault.StageWallet, err)
	}
	if current == target.ChainID {
		return nil
	}

	err = s.env.SwitchChain(ctx, target.ChainID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrDeclined):
		return fault.New(fault.UserRejected, fault.StageWallet, "network switch was declined")
	case !errors.Is(err, ErrUnknownChain):
		return fault.Wrap(fault.NetworkMismatch, fault.StageWallet, err)
	}

	logger.Log.Info("adding network to signing environment",
		zap.Uint64("chain_id", target.ChainID),
		zap.String("name", target.Name),
	)
	if err := s.env.AddChain(ctx, target); err != nil {
		return fault.Newf(fault.NetworkMismatch, fault.StageWallet, "please add and switch to the %s network: %v", target.Name, err)
	}
	if err := s.env.SwitchChain(ctx, target.ChainID); err != nil {
		return fault.Newf(fault.NetworkMismatch, fault.StageWallet, "please switch to the %s network: %v", target.Name, err)
	}
	return nil
}

// Account returns the currently active, already authorized account.
func (s *Session) Account(ctx context.Context) (common.Address, error) {
	if s.env == nil {
		return common.Address{}, fault.New(fault.EnvironmentMissing, fault.StageWallet, "no signing environment is installed")
	}
	accounts, err := s.env.Accounts(ctx)
	if err != nil {
		return common.Address{}, fault.Wrap(fault.EnvironmentMissing, fault.StageWallet, err)
	}
	if len(accounts) == 0 {
		return common.Address{}, fault.New(fault.EnvironmentMissing, fault.StageWallet, "wallet is not connected")
	}
	return accounts[0], nil
}

// Signer returns a signer bound to the account and chain active right now.
func (s *Session) Signer(ctx context.Context) (Signer, error) {
	account, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := s.env.ChainID(ctx)
	if err != nil {
		return nil, fault.Wrap(fault.NetworkMismatch, fault.StageWallet, err)
	}
	return &sessionSigner{env: s.env, account: account, chainID: new(big.Int).SetUint64(chainID)}, nil
}

// OnChange registers fn for account and network changes made outside this
// process's control.
func (s *Session) OnChange(fn func(Change)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Session) Close() {
	if s.cancelEnv != nil {
		s.cancelEnv()
	}
}

func (s *Session) relay(c Change) {
	logger.Log.Info("signing environment changed",
		zap.String("kind", c.Kind.String()),
		zap.String("account", c.Account.Hex()),
		zap.Uint64("chain_id", c.ChainID),
	)
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

type sessionSigner struct {
	env     Environment
	account common.Address
	chainID *big.Int
}

func (s *sessionSigner) Address() common.Address { return s.account }

func (s *sessionSigner) ChainID() *big.Int { return new(big.Int).Set(s.chainID) }

func (s *sessionSigner) SignTx(ctx context.Context, tx *types.Transaction) (*types.Transaction, error) {
	return s.env.SignTx(ctx, s.account, tx, s.chainID)
}
