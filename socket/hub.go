// Package socket pushes event bus notifications to connected views over
// WebSocket, so a view in another tab or on another screen refreshes after a
// ledger-mutating action.
package socket

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"medshare/internal/eventbus"
	"medshare/internal/wallet"
	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
)

const (
	SessionType        = "SESSION"         // Sent once when a view connects
	PresenceUpdateType = "PRESENCE_UPDATE" // A view of the same account joined or left
	RefreshType        = "VIEW_REFRESH"    // A view asks its sibling views to re-query
	SessionChangedType = "SESSION_CHANGED" // The signing account or network changed

	ViewPatient = "patient"
	ViewDoctor  = "doctor"
)

// WSMessage is the envelope for everything sent over the socket. For bus
// events Type is the event name and Payload the event.
type WSMessage struct {
	Type    string          `json:"type"`
	Account string          `json:"account"`
	Payload json.RawMessage `json:"payload,omitempty"`

	from *Client
}

type ViewStatus struct {
	View        string    `json:"view"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Hub keeps one room per account. A bus event is delivered to the room of
// the acting account and, for shares and revocations, the doctor's room.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	mu         sync.Mutex
	Presence   map[string]map[*Client]ViewStatus // account -> view -> status
	done       chan struct{}
}

type Client struct {
	ID      string
	Hub     *Hub
	Conn    *websocket.Conn
	Account string
	View    string
	Send    chan []byte
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Presence:   make(map[string]map[*Client]ViewStatus),
		done:       make(chan struct{}),
	}
}

// RoomKey normalizes an account address into a room name.
func RoomKey(account string) string {
	return strings.ToLower(account)
}

// Attach forwards every bus event to the hub. The bus calls handlers
// synchronously, so forwarding never blocks: when the broadcast queue is full
// the event is dropped for socket clients and logged.
func (h *Hub) Attach(bus *eventbus.Bus) (detach func()) {
	var cancels []func()
	for _, name := range eventbus.All() {
		cancels = append(cancels, bus.Subscribe(name, h.forward))
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (h *Hub) forward(e eventbus.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling event %s: %v", e.Name, err)
		return
	}
	targets := []common.Address{e.Account}
	if e.Doctor != (common.Address{}) && e.Doctor != e.Account {
		targets = append(targets, e.Doctor)
	}
	for _, target := range targets {
		msg := WSMessage{Type: string(e.Name), Account: RoomKey(target.Hex()), Payload: payload}
		select {
		case h.Broadcast <- msg:
		default:
			logger.Sugar.Warnf("Broadcast queue full, dropping %s for %s", e.Name, msg.Account)
		}
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.Account] == nil {
				h.Rooms[client.Account] = make(map[*Client]bool)
				h.Presence[client.Account] = make(map[*Client]ViewStatus)
			}
			h.Rooms[client.Account][client] = true
			h.Presence[client.Account][client] = ViewStatus{View: client.View, ConnectedAt: time.Now().UTC()}
			h.mu.Unlock()

			hello, _ := json.Marshal(map[string]interface{}{"view": client.View, "events": eventbus.All()})
			sessionMsg, _ := json.Marshal(WSMessage{Type: SessionType, Account: client.Account, Payload: hello})
			client.Send <- sessionMsg

			h.broadcastPresenceUpdate(client.Account)

		case client := <-h.Unregister:
			h.mu.Lock()
			account := client.Account
			if _, ok := h.Rooms[account][client]; ok {
				delete(h.Rooms[account], client)
				delete(h.Presence[account], client)
				close(client.Send)

				if len(h.Rooms[account]) == 0 {
					delete(h.Rooms, account)
					delete(h.Presence, account)
					logger.Sugar.Infof("Closed empty room: %s", account)
				}
			}
			_, stillOpen := h.Rooms[account]
			h.mu.Unlock()

			if stillOpen {
				h.broadcastPresenceUpdate(account)
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.Account]))
			for client := range h.Rooms[msg.Account] {
				if client != msg.from {
					clientsToSend = append(clientsToSend, client)
				}
			}
			h.mu.Unlock()

			var lagging []*Client
			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					logger.Sugar.Warnf("Client %s (%s, %s view) send buffer is full. Dropping it.", client.ID, client.Account, client.View)
					lagging = append(lagging, client)
				}
			}
			for _, client := range lagging {
				client.Conn.Close()
			}
		}
	}
}

// SessionChange is the payload of a SESSION_CHANGED message.
type SessionChange struct {
	Kind    string `json:"kind"`
	Account string `json:"account,omitempty"`
	ChainID uint64 `json:"chain_id,omitempty"`
}

// Announce tells every connected view that the signing session changed, so
// views drop cached documents and re-query.
func (h *Hub) Announce(c wallet.Change) {
	change := SessionChange{Kind: c.Kind.String(), ChainID: c.ChainID}
	if c.Account != (common.Address{}) {
		change.Account = c.Account.Hex()
	}
	payload, err := json.Marshal(change)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling session change: %v", err)
		return
	}

	// Sent under the lock: Run closes Send only while holding it.
	h.mu.Lock()
	defer h.mu.Unlock()
	for account, clients := range h.Rooms {
		msg, _ := json.Marshal(WSMessage{Type: SessionChangedType, Account: account, Payload: payload})
		for client := range clients {
			select {
			case client.Send <- msg:
			default:
				logger.Sugar.Warnf("Client %s send buffer was full during session change.", client.ID)
			}
		}
	}
}

// Views returns how many views are connected for account.
func (h *Hub) Views(account string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[RoomKey(account)])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.Rooms {
		for client := range clients {
			client.Conn.Close()
		}
	}
}

func (h *Hub) broadcastPresenceUpdate(account string) {
	var statuses []ViewStatus
	var clientsToSend []*Client

	h.mu.Lock()
	if _, ok := h.Presence[account]; ok {
		statuses = make([]ViewStatus, 0, len(h.Presence[account]))
		for _, status := range h.Presence[account] {
			statuses = append(statuses, status)
		}
		clientsToSend = make([]*Client, 0, len(h.Rooms[account]))
		for client := range h.Rooms[account] {
			clientsToSend = append(clientsToSend, client)
		}
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}

	payload, err := json.Marshal(statuses)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	broadcastPayload, _ := json.Marshal(WSMessage{Type: PresenceUpdateType, Account: account, Payload: payload})

	for _, client := range clientsToSend {
		select {
		case client.Send <- broadcastPayload:
		default:
			logger.Sugar.Warnf("Client %s send buffer was full during presence update.", client.Account)
		}
	}
}
