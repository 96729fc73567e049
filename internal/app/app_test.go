package app

import (
	"context"
	"encoding/hex"
	"testing"

	"medshare/config"
	"medshare/internal/document/model"
	"medshare/internal/eventbus"
	"medshare/internal/wallet"
	"medshare/pkg/fault"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func devnetConfig(t *testing.T) *config.Config {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	cfg := config.Default()
	cfg.Wallet.Keys = []string{hex.EncodeToString(crypto.FromECDSA(key))}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestDevnetAppUploads(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, devnetConfig(t), wallet.AutoApprove)
	require.NoError(t, err)
	defer a.Close()

	account, err := a.Connect(ctx)
	require.NoError(t, err)

	var uploaded []eventbus.Event
	defer a.Bus.Subscribe(eventbus.DocumentUploaded, func(e eventbus.Event) { uploaded = append(uploaded, e) })()

	attempt, err := a.Uploads.Upload(ctx, model.File{Name: "labs.txt", MediaType: "text/plain", Data: []byte("hemoglobin 14.1")}, nil)
	require.NoError(t, err)
	assert.Equal(t, model.StateConfirmed, attempt.State)
	require.Len(t, uploaded, 1)
	assert.Equal(t, account, uploaded[0].Account)

	data, meta, ok, err := a.Blobs.Get(ctx, attempt.Fingerprint)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hemoglobin 14.1", string(data))
	assert.Equal(t, "labs.txt", meta.Name)

	owner, err := a.Ledger.DocumentOwner(ctx, attempt.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, account, owner)
	assert.Nil(t, a.Activity)
}

func TestNewWithoutKeys(t *testing.T) {
	cfg := config.Default()
	_, err := New(context.Background(), cfg, wallet.AutoApprove)
	fe, ok := fault.As(err)
	require.True(t, ok)
	assert.Equal(t, fault.EnvironmentMissing, fe.Kind)
}

func TestPinataWithoutCredentials(t *testing.T) {
	cfg := devnetConfig(t)
	cfg.Store.Backend = config.BackendPinata
	_, err := New(context.Background(), cfg, wallet.AutoApprove)
	assert.Equal(t, fault.StoreUnavailable, fault.KindOf(err))
}
