package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
)

// KeyEnvironment is a signing environment backed by private keys held in
// process memory, loaded from configuration.
type KeyEnvironment struct {
	mu         sync.Mutex
	keys       map[common.Address]*ecdsa.PrivateKey
	order      []common.Address
	selected   common.Address
	authorized bool
	networks   map[uint64]Network
	active     uint64
	approver   Approver
	listeners  map[int]func(Change)
	nextID     int
}

// NewKeyEnvironment loads hex-encoded secp256k1 keys. The first key becomes
// the selected account and active is the initially active chain, which must
// be among networks.
func NewKeyEnvironment(hexKeys []string, networks []Network, active uint64, approver Approver) (*KeyEnvironment, error) {
	if len(hexKeys) == 0 {
		return nil, ErrNoAccounts
	}
	if approver == nil {
		approver = AutoApprove
	}
	env := &KeyEnvironment{
		keys:      make(map[common.Address]*ecdsa.PrivateKey),
		networks:  make(map[uint64]Network),
		active:    active,
		approver:  approver,
		listeners: make(map[int]func(Change)),
	}
	for i, hk := range hexKeys {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hk), "0x"))
		if err != nil {
			return nil, fmt.Errorf("signer key %d: %w", i, err)
		}
		addr := crypto.PubkeyToAddress(key.PublicKey)
		if _, dup := env.keys[addr]; dup {
			continue
		}
		env.keys[addr] = key
		env.order = append(env.order, addr)
	}
	env.selected = env.order[0]
	for _, n := range networks {
		env.networks[n.ChainID] = n
	}
	logger.Log.Info("signing environment ready",
		zap.Int("accounts", len(env.order)),
		zap.Uint64("chain_id", active),
	)
	return env, nil
}

func (e *KeyEnvironment) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	e.mu.Lock()
	selected, authorized := e.selected, e.authorized
	e.mu.Unlock()
	if authorized {
		return e.Accounts(ctx)
	}

	ok, err := e.approver.Approve(ctx, Prompt{Kind: PromptConnect, Account: selected})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDeclined
	}
	e.mu.Lock()
	e.authorized = true
	e.mu.Unlock()
	return e.Accounts(ctx)
}

func (e *KeyEnvironment) Accounts(context.Context) ([]common.Address, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.authorized {
		return nil, nil
	}
	out := []common.Address{e.selected}
	for _, a := range e.order {
		if a != e.selected {
			out = append(out, a)
		}
	}
	return out, nil
}

func (e *KeyEnvironment) ChainID(context.Context) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active, nil
}

func (e *KeyEnvironment) SwitchChain(ctx context.Context, chainID uint64) error {
	e.mu.Lock()
	_, known := e.networks[chainID]
	current := e.active
	e.mu.Unlock()
	if !known {
		return ErrUnknownChain
	}
	if current == chainID {
		return nil
	}
	ok, err := e.approver.Approve(ctx, Prompt{Kind: PromptSwitchChain, ChainID: chainID})
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	e.mu.Lock()
	e.active = chainID
	e.mu.Unlock()
	e.emit(Change{Kind: NetworkChanged, ChainID: chainID})
	return nil
}

func (e *KeyEnvironment) AddChain(ctx context.Context, n Network) error {
	if n.ChainID == 0 {
		return errors.New("wallet: chain id required")
	}
	ok, err := e.approver.Approve(ctx, Prompt{Kind: PromptAddChain, ChainID: n.ChainID, Detail: n.Name})
	if err != nil {
		return err
	}
	if !ok {
		return ErrDeclined
	}
	e.mu.Lock()
	e.networks[n.ChainID] = n
	e.mu.Unlock()
	return nil
}

// SelectAccount makes account the active one, as a human would in a wallet UI.
func (e *KeyEnvironment) SelectAccount(account common.Address) error {
	e.mu.Lock()
	if _, ok := e.keys[account]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("wallet: unknown account %s", account.Hex())
	}
	changed := e.selected != account
	e.selected = account
	e.mu.Unlock()
	if changed {
		e.emit(Change{Kind: AccountChanged, Account: account})
	}
	return nil
}

func (e *KeyEnvironment) SignTx(ctx context.Context, account common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	e.mu.Lock()
	key, ok := e.keys[account]
	authorized := e.authorized
	e.mu.Unlock()
	if !ok || !authorized {
		return nil, fmt.Errorf("wallet: account %s is not authorized", account.Hex())
	}

	detail := fmt.Sprintf("to=%s value=%s gas=%d", addrOrNone(tx.To()), tx.Value().String(), tx.Gas())
	approved, err := e.approver.Approve(ctx, Prompt{
		Kind:    PromptTransaction,
		Account: account,
		ChainID: chainID.Uint64(),
		Detail:  detail,
	})
	if err != nil {
		return nil, err
	}
	if !approved {
		return nil, ErrDeclined
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}

func (e *KeyEnvironment) Subscribe(fn func(Change)) (cancel func()) {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[id] = fn
	e.mu.Unlock()
	return func() {
		e.mu.Lock()
		delete(e.listeners, id)
		e.mu.Unlock()
	}
}

func (e *KeyEnvironment) emit(c Change) {
	e.mu.Lock()
	fns := make([]func(Change), 0, len(e.listeners))
	for _, fn := range e.listeners {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}

func addrOrNone(a *common.Address) string {
	if a == nil {
		return "(create)"
	}
	return a.Hex()
}
