// Package eventbus is the in-process publish/subscribe bus that lets
// independent views refresh after a ledger-mutating action.
//
// Dispatch is synchronous: Publish calls every handler registered for the
// event name, in subscription order, before it returns. A handler that panics
// is logged and skipped; the remaining handlers still run. Nothing is
// persisted.
package eventbus

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"medshare/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

type Name string

const (
	DocumentUploaded Name = "DOCUMENT_UPLOADED"
	DocumentShared   Name = "DOCUMENT_SHARED"
	AccessRevoked    Name = "DOCUMENT_ACCESS_REVOKED"
	DoctorRegistered Name = "DOCTOR_REGISTERED"
)

// Event is the payload every subscriber receives. Account is the account that
// performed the action; Doctor is set for share/revoke and doctor registration.
type Event struct {
	Name        Name           `json:"type"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Account     common.Address `json:"account"`
	Doctor      common.Address `json:"doctor"`
	TxHash      common.Hash    `json:"tx_hash"`
	At          time.Time      `json:"at"`
}

// MarshalJSON leaves doctor out when it is the zero address.
func (e Event) MarshalJSON() ([]byte, error) {
	type plain Event
	out := struct {
		plain
		Doctor *common.Address `json:"doctor,omitempty"`
	}{plain: plain(e)}
	if e.Doctor != (common.Address{}) {
		out.Doctor = &e.Doctor
	}
	return json.Marshal(out)
}

type Handler func(Event)

// Publisher is what coordinators depend on; tests inject a recorder.
type Publisher interface {
	Publish(Event)
}

type subscription struct {
	id      uint64
	handler Handler
	active  atomic.Bool
}

type Bus struct {
	mu     sync.Mutex
	subs   map[Name][]*subscription
	nextID uint64
}

func New() *Bus {
	return &Bus{subs: make(map[Name][]*subscription)}
}

// Subscribe registers h for name and returns the function that removes it.
// Calling the returned function more than once is harmless.
func (b *Bus) Subscribe(name Name, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, handler: h}
	sub.active.Store(true)
	// Copy-on-write so an in-flight dispatch keeps iterating its own snapshot.
	list := make([]*subscription, 0, len(b.subs[name])+1)
	list = append(list, b.subs[name]...)
	b.subs[name] = append(list, sub)
	b.mu.Unlock()

	return func() { b.remove(name, sub) }
}

func (b *Bus) remove(name Name, sub *subscription) {
	if !sub.active.Swap(false) {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.subs[name]
	list := make([]*subscription, 0, len(current))
	for _, s := range current {
		if s != sub {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		delete(b.subs, name)
		return
	}
	b.subs[name] = list
}

// Publish dispatches e to the handlers subscribed to e.Name at the moment of
// the call. A handler removed during dispatch is not called afterwards;
// handlers added during dispatch first see the next event.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	b.mu.Lock()
	snapshot := b.subs[e.Name]
	b.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		b.invoke(sub, e)
	}
}

// Subscribers reports how many handlers are registered for name.
func (b *Bus) Subscribers(name Name) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}

func (b *Bus) invoke(sub *subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("event handler panicked",
				zap.String("event", string(e.Name)),
				zap.Uint64("subscription", sub.id),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(e)
}

// All lists every event name the bus carries.
func All() []Name {
	return []Name{DocumentUploaded, DocumentShared, AccessRevoked, DoctorRegistered}
}
