package socket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"medshare/internal/eventbus"
	"medshare/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	patient = common.HexToAddress("0x00000000000000000000000000000000000000A1")
	doctor  = common.HexToAddress("0x00000000000000000000000000000000000000D1")
)

// Reads messages until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) WSMessage {
	t.Helper()
	for {
		var msg WSMessage
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		_, p, err := conn.ReadMessage()
		require.NoError(t, err, "Failed waiting for %s", msgType)
		require.NoError(t, json.Unmarshal(p, &msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub()
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("account"))
	}))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, wsURL string, account common.Address, view string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?account="+account.Hex()+"&view="+view, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	readUntil(t, conn, SessionType)
	return conn
}

func TestHubIntegration(t *testing.T) {
	hub, wsURL := startHub(t)
	bus := eventbus.New()
	defer hub.Attach(bus)()

	patientTab := dial(t, wsURL, patient, ViewPatient)
	patientPhone := dial(t, wsURL, patient, ViewPatient)
	doctorTab := dial(t, wsURL, doctor, ViewDoctor)

	presence := readUntil(t, patientTab, PresenceUpdateType)
	var statuses []ViewStatus
	require.NoError(t, json.Unmarshal(presence.Payload, &statuses))
	if len(statuses) == 1 {
		// First update was our own join.
		presence = readUntil(t, patientTab, PresenceUpdateType)
		require.NoError(t, json.Unmarshal(presence.Payload, &statuses))
	}
	assert.Len(t, statuses, 2)
	assert.Equal(t, 2, hub.Views(patient.Hex()))

	bus.Publish(eventbus.Event{
		Name:        eventbus.DocumentShared,
		Fingerprint: "QmScan",
		Account:     patient,
		Doctor:      doctor,
		TxHash:      common.HexToHash("0x01"),
	})

	for _, conn := range []*websocket.Conn{patientTab, patientPhone, doctorTab} {
		msg := readUntil(t, conn, string(eventbus.DocumentShared))
		var e eventbus.Event
		require.NoError(t, json.Unmarshal(msg.Payload, &e))
		assert.Equal(t, "QmScan", e.Fingerprint)
		assert.Equal(t, patient, e.Account)
		assert.Equal(t, doctor, e.Doctor)
	}
}

func TestUploadEventStaysInOwnersRoom(t *testing.T) {
	hub, wsURL := startHub(t)
	bus := eventbus.New()
	detach := hub.Attach(bus)

	patientTab := dial(t, wsURL, patient, ViewPatient)
	doctorTab := dial(t, wsURL, doctor, ViewDoctor)

	bus.Publish(eventbus.Event{Name: eventbus.DocumentUploaded, Fingerprint: "QmLabs", Account: patient})
	msg := readUntil(t, patientTab, string(eventbus.DocumentUploaded))
	assert.Equal(t, RoomKey(patient.Hex()), msg.Account)

	detach()
	assert.Equal(t, 0, bus.Subscribers(eventbus.DocumentUploaded))

	doctorTab.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	for {
		_, p, err := doctorTab.ReadMessage()
		if err != nil {
			break
		}
		assert.NotContains(t, string(p), string(eventbus.DocumentUploaded))
	}
}

func TestRefreshRelaysToSiblingViews(t *testing.T) {
	_, wsURL := startHub(t)

	first := dial(t, wsURL, patient, ViewPatient)
	second := dial(t, wsURL, patient, ViewPatient)

	require.NoError(t, first.WriteJSON(WSMessage{Type: RefreshType, Account: doctor.Hex()}))
	msg := readUntil(t, second, RefreshType)
	assert.Equal(t, RoomKey(patient.Hex()), msg.Account, "room is taken from the connection, not the message")
}

func TestAnnounceReachesEveryRoom(t *testing.T) {
	hub, wsURL := startHub(t)
	patientTab := dial(t, wsURL, patient, ViewPatient)
	doctorTab := dial(t, wsURL, doctor, ViewDoctor)

	next := common.HexToAddress("0x00000000000000000000000000000000000000B2")
	hub.Announce(wallet.Change{Kind: wallet.AccountChanged, Account: next})

	for _, conn := range []*websocket.Conn{patientTab, doctorTab} {
		msg := readUntil(t, conn, SessionChangedType)
		var change SessionChange
		require.NoError(t, json.Unmarshal(msg.Payload, &change))
		assert.Equal(t, "accountsChanged", change.Kind)
		assert.Equal(t, next.Hex(), change.Account)
	}
}

func TestServeWsRejectsUnknownView(t *testing.T) {
	_, wsURL := startHub(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?account="+patient.Hex()+"&view=admin", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
