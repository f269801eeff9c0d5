// Package sockettest provides an in-process socket.Link for component tests.
package sockettest

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"DMProject/service/socket"
)

type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Bus records emissions and delivers events synchronously on the caller goroutine.
type Bus struct {
	mu         sync.Mutex
	userID     string
	connected  bool
	connects   int
	connectErr error
	emitted    []Emitted
	nextID     uint64
	handlers   map[string]map[uint64]socket.Handler
	subs       map[socket.Subscription]uint64
}

func New(userID string) *Bus {
	return &Bus{
		userID:   userID,
		handlers: map[string]map[uint64]socket.Handler{},
		subs:     map[socket.Subscription]uint64{},
	}
}

// FailConnect makes subsequent Connect calls return err.
func (b *Bus) FailConnect(err error) {
	b.mu.Lock()
	b.connectErr = err
	b.mu.Unlock()
}

// Drop simulates a lost connection; emits are discarded until the next Connect.
func (b *Bus) Drop() {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
}

func (b *Bus) Connect(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++
	if b.connectErr != nil {
		return b.connectErr
	}
	b.connected = true
	return nil
}

func (b *Bus) Connects() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects
}

func (b *Bus) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return
	}
	b.emitted = append(b.emitted, Emitted{Event: event, Data: data})
}

func (b *Bus) Subscribe(event string, h socket.Handler) socket.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.handlers[event] == nil {
		b.handlers[event] = map[uint64]socket.Handler{}
	}
	b.handlers[event][b.nextID] = h
	sub := socket.NewSubscription(event, b.nextID)
	b.subs[sub] = b.nextID
	return sub
}

func (b *Bus) Unsubscribe(s socket.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.subs[s]
	if !ok {
		return
	}
	delete(b.subs, s)
	delete(b.handlers[s.Event()], id)
}

func (b *Bus) UserID() string { return b.userID }

// Deliver marshals payload and runs every handler of event in subscription order.
func (b *Bus) Deliver(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.handlers[event]))
	for id := range b.handlers[event] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		h, ok := b.handlers[event][id]
		b.mu.Unlock()
		if ok {
			h(data)
		}
	}
}

// Handlers counts live handlers for event.
func (b *Bus) Handlers(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[event])
}

// Emitted returns the payloads emitted for event, in order.
func (b *Bus) Emitted(event string) []json.RawMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []json.RawMessage
	for _, e := range b.emitted {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

func (b *Bus) All() []Emitted {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Emitted(nil), b.emitted...)
}

func (b *Bus) Reset() {
	b.mu.Lock()
	b.emitted = nil
	b.mu.Unlock()
}

var _ socket.Link = (*Bus)(nil)
