package router

import (
	"context"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	handlers "medshare/handler"
	"medshare/internal/contentstore"
	"medshare/internal/devnet"
	docHandler "medshare/internal/document"
	"medshare/internal/ledger"
	"medshare/socket"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedFee struct {
	ledger.Reader
}

func (fixedFee) CurrentFee(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func newServer(t *testing.T) (*httptest.Server, *devnet.Blobs) {
	t.Helper()
	store, err := devnet.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	blobs := devnet.NewBlobs(store)

	h := Setup(&docHandler.DocumentHandler{}, handlers.NewHealthHandler(fixedFee{}), socket.NewHub(), Options{JWTSecret: "secret", Blobs: blobs})
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return server, blobs
}

func TestRoutesRequireToken(t *testing.T) {
	server, _ := newServer(t)
	for _, path := range []string{"/api/session", "/api/documents", "/api/documents/share", "/api/activity", "/ws"} {
		resp, err := http.Get(server.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}
}

func TestHealthIsPublic(t *testing.T) {
	server, _ := newServer(t)
	resp, err := http.Get(server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServesLocalBlobs(t *testing.T) {
	server, blobs := newServer(t)
	data := []byte("hemoglobin 14.1")
	fp, err := blobs.Put(context.Background(), data, contentstore.Metadata{Name: "labs.txt", MediaType: "text/plain", Size: int64(len(data))})
	require.NoError(t, err)

	resp, err := http.Get(contentstore.GatewayURL(server.URL, fp))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, body)

	resp, err = http.Get(server.URL + "/ipfs/QmMissing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
