package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"
	"testing"

	"medshare/pkg/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localhost = Network{
	ChainID:  1337,
	Name:     "Localhost 8545",
	RPCURL:   "http://127.0.0.1:8545",
	Currency: Currency{Name: "ETH", Symbol: "ETH", Decimals: 18},
}

func newKeyHex(t *testing.T) (string, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return hex.EncodeToString(crypto.FromECDSA(key)), crypto.PubkeyToAddress(key.PublicKey)
}

func decline(kinds ...PromptKind) Approver {
	return ApproverFunc(func(_ context.Context, p Prompt) (bool, error) {
		for _, k := range kinds {
			if p.Kind == k {
				return false, nil
			}
		}
		return true, nil
	})
}

func TestConnectWithoutEnvironment(t *testing.T) {
	s := NewSession(nil)
	_, err := s.Connect(context.Background())
	assert.Equal(t, fault.EnvironmentMissing, fault.KindOf(err))

	_, err = s.Signer(context.Background())
	assert.Equal(t, fault.EnvironmentMissing, fault.KindOf(err))
}

func TestConnectDeclined(t *testing.T) {
	k, _ := newKeyHex(t)
	env, err := NewKeyEnvironment([]string{k}, []Network{localhost}, 1337, decline(PromptConnect))
	require.NoError(t, err)

	_, err = NewSession(env).Connect(context.Background())
	assert.Equal(t, fault.UserRejected, fault.KindOf(err))
}

func TestSignerRequiresConnection(t *testing.T) {
	k, addr := newKeyHex(t)
	env, err := NewKeyEnvironment([]string{k}, []Network{localhost}, 1337, AutoApprove)
	require.NoError(t, err)
	s := NewSession(env)

	_, err = s.Signer(context.Background())
	assert.Equal(t, fault.EnvironmentMissing, fault.KindOf(err))

	got, err := s.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, got)

	signer, err := s.Signer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, addr, signer.Address())
	assert.Equal(t, int64(1337), signer.ChainID().Int64())
}

func TestSignerFollowsAccountSwitch(t *testing.T) {
	k1, a1 := newKeyHex(t)
	k2, a2 := newKeyHex(t)
	env, err := NewKeyEnvironment([]string{k1, k2}, []Network{localhost}, 1337, AutoApprove)
	require.NoError(t, err)
	s := NewSession(env)
	_, err = s.Connect(context.Background())
	require.NoError(t, err)

	var changes []Change
	cancel := s.OnChange(func(c Change) { changes = append(changes, c) })
	defer cancel()

	signer, err := s.Signer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a1, signer.Address())

	require.NoError(t, env.SelectAccount(a2))
	signer, err = s.Signer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, a2, signer.Address())

	require.Len(t, changes, 1)
	assert.Equal(t, AccountChanged, changes[0].Kind)
	assert.Equal(t, a2, changes[0].Account)
}

func TestSignTxDeclinedAndSigned(t *testing.T) {
	k, addr := newKeyHex(t)
	declining := true
	approver := ApproverFunc(func(_ context.Context, p Prompt) (bool, error) {
		return !(p.Kind == PromptTransaction && declining), nil
	})
	env, err := NewKeyEnvironment([]string{k}, []Network{localhost}, 1337, approver)
	require.NoError(t, err)
	s := NewSession(env)
	_, err = s.Connect(context.Background())
	require.NoError(t, err)
	signer, err := s.Signer(context.Background())
	require.NoError(t, err)

	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	tx := types.NewTx(&types.LegacyTx{Nonce: 0, To: &to, Gas: 21000, GasPrice: big.NewInt(1), Value: big.NewInt(0)})

	_, err = signer.SignTx(context.Background(), tx)
	assert.ErrorIs(t, err, ErrDeclined)

	declining = false
	signed, err := signer.SignTx(context.Background(), tx)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), signed)
	require.NoError(t, err)
	assert.Equal(t, addr, from)
}

func TestEnsureNetworkAddsUnknownChain(t *testing.T) {
	k, _ := newKeyHex(t)
	mainnet := Network{ChainID: 1, Name: "Ethereum"}
	env, err := NewKeyEnvironment([]string{k}, []Network{mainnet}, 1, AutoApprove)
	require.NoError(t, err)
	s := NewSession(env)

	var changes []Change
	s.OnChange(func(c Change) { changes = append(changes, c) })

	require.NoError(t, s.EnsureNetwork(context.Background(), localhost))
	id, _ := env.ChainID(context.Background())
	assert.Equal(t, uint64(1337), id)
	require.Len(t, changes, 1)
	assert.Equal(t, NetworkChanged, changes[0].Kind)

	// Already on target: no prompt, no change.
	require.NoError(t, s.EnsureNetwork(context.Background(), localhost))
	assert.Len(t, changes, 1)
}

func TestEnsureNetworkFailsWhenAddRefused(t *testing.T) {
	k, _ := newKeyHex(t)
	env, err := NewKeyEnvironment([]string{k}, []Network{{ChainID: 1, Name: "Ethereum"}}, 1, decline(PromptAddChain))
	require.NoError(t, err)

	err = NewSession(env).EnsureNetwork(context.Background(), localhost)
	assert.Equal(t, fault.NetworkMismatch, fault.KindOf(err))
	assert.True(t, strings.Contains(err.Error(), "Localhost 8545"))
}

func TestEnsureNetworkSwitchDeclined(t *testing.T) {
	k, _ := newKeyHex(t)
	env, err := NewKeyEnvironment([]string{k}, []Network{{ChainID: 1}, localhost}, 1, decline(PromptSwitchChain))
	require.NoError(t, err)

	err = NewSession(env).EnsureNetwork(context.Background(), localhost)
	assert.Equal(t, fault.UserRejected, fault.KindOf(err))
}

type brokenEnv struct{ Environment }

func (brokenEnv) ChainID(context.Context) (uint64, error) { return 0, errors.New("rpc down") }
func (brokenEnv) Subscribe(func(Change)) func()          { return func() {} }

func TestEnsureNetworkChainIDError(t *testing.T) {
	err := NewSession(brokenEnv{}).EnsureNetwork(context.Background(), localhost)
	assert.Equal(t, fault.NetworkMismatch, fault.KindOf(err))
}

func TestNewKeyEnvironmentRejectsBadInput(t *testing.T) {
	_, err := NewKeyEnvironment(nil, nil, 1337, nil)
	assert.ErrorIs(t, err, ErrNoAccounts)

	_, err = NewKeyEnvironment([]string{"not-hex"}, nil, 1337, nil)
	assert.Error(t, err)
}
