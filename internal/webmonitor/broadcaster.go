package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cardwatch/cardwatch/internal/logger"
	"github.com/cardwatch/cardwatch/pkg/types"
)

// CardSource publishes the accumulated card set and its changes.
type CardSource interface {
	Latest() types.Snapshot
	Subscribe() (int, <-chan types.ChangeEvent)
	Unsubscribe(id int)
}

// SerializedEvent holds pre-serialized data in both formats.
// This avoids redundant serialization when broadcasting to multiple clients.
type SerializedEvent struct {
	JSONData     []byte // Pre-serialized JSON
	ProtobufData []byte // Pre-serialized Protobuf (base64 encoded for SSE)
}

// CardBroadcaster manages fanout of card change events to multiple SSE clients.
type CardBroadcaster struct {
	mu      sync.Mutex
	clients map[int]chan *SerializedEvent
	nextID  int
	source  CardSource
	monitor *Monitor
	stop    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
}

// NewCardBroadcaster creates a broadcaster fed by source. Every event is also
// recorded in monitor's history.
func NewCardBroadcaster(source CardSource, monitor *Monitor) *CardBroadcaster {
	return &CardBroadcaster{
		clients: make(map[int]chan *SerializedEvent),
		source:  source,
		monitor: monitor,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe adds a new client and returns a channel for receiving card events.
func (cb *CardBroadcaster) Subscribe() (int, <-chan *SerializedEvent) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	id := cb.nextID
	cb.nextID++
	ch := make(chan *SerializedEvent, 4) // Buffer a few events to avoid blocking
	if cb.stopped {
		close(ch)
		return id, ch
	}
	cb.clients[id] = ch

	logger.Debug("CardBroadcaster", "Client #%d subscribed (total clients: %d)", id, len(cb.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (cb *CardBroadcaster) Unsubscribe(id int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if ch, ok := cb.clients[id]; ok {
		close(ch)
		delete(cb.clients, id)
		logger.Debug("CardBroadcaster", "Client #%d unsubscribed (remaining clients: %d)", id, len(cb.clients))
	}
}

// Start begins forwarding change events.
func (cb *CardBroadcaster) Start() {
	cb.mu.Lock()
	if cb.started || cb.stopped {
		cb.mu.Unlock()
		return
	}
	cb.started = true
	cb.mu.Unlock()

	id, events := cb.source.Subscribe()
	go cb.run(id, events)
}

// Stop halts the broadcaster and waits for it to close every client.
func (cb *CardBroadcaster) Stop() {
	cb.mu.Lock()
	started := cb.started
	if !cb.stopped {
		cb.stopped = true
		close(cb.stop)
	}
	cb.mu.Unlock()

	if started {
		<-cb.done
	}
}

func (cb *CardBroadcaster) run(id int, events <-chan types.ChangeEvent) {
	logger.Info("CardBroadcaster", "Starting card event broadcaster")
	defer close(cb.done)
	defer cb.closeClients()
	defer cb.source.Unsubscribe(id)

	for {
		select {
		case <-cb.stop:
			return
		case ev, ok := <-events:
			if !ok {
				logger.Info("CardBroadcaster", "Card source closed")
				return
			}
			card := newCardEvent(ev.Snapshot, ev.Added, ev.Reset)
			if cb.monitor != nil {
				cb.monitor.Record(card)
			}
			event, err := serializeCardEvent(card)
			if err != nil {
				logger.Error("CardBroadcaster", "Serialize error: %v", err)
				continue
			}
			cb.broadcast(event)
		}
	}
}

func (cb *CardBroadcaster) broadcast(event *SerializedEvent) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	for id, ch := range cb.clients {
		select {
		case ch <- event:
			// Sent successfully
		default:
			// Client too slow, skip this event for this client
			logger.Debug("CardBroadcaster", "Client #%d too slow, event dropped", id)
		}
	}
}

func (cb *CardBroadcaster) closeClients() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stopped = true
	for id, ch := range cb.clients {
		close(ch)
		delete(cb.clients, id)
	}
}

// serializeCardEvent pre-serializes an event to JSON and to a base64
// protobuf Struct for SSE transport.
func serializeCardEvent(ev CardEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}

	st, err := cardEventStruct(ev)
	if err != nil {
		return nil, err
	}
	pbData, err := proto.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("protobuf marshal: %w", err)
	}

	return &SerializedEvent{
		JSONData:     jsonData,
		ProtobufData: []byte(base64.StdEncoding.EncodeToString(pbData)),
	}, nil
}

func cardEventStruct(ev CardEvent) (*structpb.Struct, error) {
	st, err := structpb.NewStruct(map[string]any{
		"added":          stringsToAny(ev.Added),
		"reset":          ev.Reset,
		"detected_cards": stringsToAny(ev.DetectedCards),
		"version":        float64(ev.Version),
		"cycle":          float64(ev.Cycle),
		"timestamp":      ev.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("protobuf struct: %w", err)
	}
	return st, nil
}

// cardsStruct is the protobuf form of the /cards payload.
func cardsStruct(cards []string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"detected_cards": stringsToAny(cards),
	})
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
