package cmd

import (
	"bytes"
	"context"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(append([]string{"--config", "", "--env-file", "", "--yes"}, args...))
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func devnetEnv(t *testing.T) string {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	dir := filepath.Join(t.TempDir(), "devnet")
	t.Setenv("MEDSHARE_SIGNER_KEYS", hex.EncodeToString(crypto.FromECDSA(key)))
	t.Setenv("MEDSHARE_LEDGER_BACKEND", "devnet")
	t.Setenv("MEDSHARE_STORE_BACKEND", "devnet")
	t.Setenv("MEDSHARE_DEVNET_PATH", dir)
	t.Setenv("MEDSHARE_STORE_DEVNET_PATH", dir)
	return crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func TestFeeCommand(t *testing.T) {
	devnetEnv(t)
	out, err := run(t, "fee")
	require.NoError(t, err)
	assert.Contains(t, out, "0.01 ETH (10000000000000000 wei)")
}

func TestUploadThenList(t *testing.T) {
	account := devnetEnv(t)
	path := filepath.Join(t.TempDir(), "labs.txt")
	require.NoError(t, os.WriteFile(path, []byte("hemoglobin 14.1"), 0o600))

	out, err := run(t, "upload", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Document registered")
	assert.Contains(t, out, "confirmed")

	out, err = run(t, "documents", "--view", "patient")
	require.NoError(t, err)
	assert.Contains(t, out, account)
	assert.Contains(t, out, "/ipfs/Qm")

	out, err = run(t, "wallet")
	require.NoError(t, err)
	assert.Contains(t, out, account)
}

func TestShareRejectsBadAddress(t *testing.T) {
	devnetEnv(t)
	_, err := run(t, "share", "QmScan", "dr-dana")
	assert.ErrorContains(t, err, "not an address")
}

func TestStoreCheckOnDevnet(t *testing.T) {
	devnetEnv(t)
	out, err := run(t, "store", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "no credentials to check")
}
