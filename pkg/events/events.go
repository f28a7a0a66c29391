package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	// Membership lifecycle
	EventNodeJoined         EventType = "node.joined"
	EventNodeFailed         EventType = "node.failed"
	EventNodeRecovered      EventType = "node.recovered"
	EventNodeRecoveryFailed EventType = "node.recovery_failed"

	// Zone replication lifecycle
	EventZoneCreated        EventType = "zone.created"
	EventZoneUpdated        EventType = "zone.updated"
	EventZoneDeleted        EventType = "zone.deleted"
	EventZoneSynced         EventType = "zone.synced"
	EventZoneInconsistent   EventType = "zone.inconsistent"
	EventZoneRecovered      EventType = "zone.recovered"
	EventZoneRecoveryFailed EventType = "zone.recovery_failed"

	// Alert and consensus flow
	EventAlertCreated     EventType = "alert.created"
	EventConsensusReached EventType = "consensus.reached"
	EventConsensusFailed  EventType = "consensus.failed"
	EventConsensusTimeout EventType = "consensus.timeout"

	// Rule actions agreed by consensus
	EventActionNotify  EventType = "action.notify"
	EventActionBlock   EventType = "action.block"
	EventActionIsolate EventType = "action.isolate"

	// Retry and recovery observability
	EventRetryFailed       EventType = "retry.failed"
	EventRetryExhausted    EventType = "retry.exhausted"
	EventRecoveryExhausted EventType = "recovery.exhausted"

	// Non-fatal errors surfaced for operators
	EventError EventType = "error"
)

// Event represents a cluster event
type Event struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Message   string
	Metadata  map[string]string
}

// New builds an event with a fresh id and timestamp.
func New(t EventType, message string, metadata map[string]string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: time.Now(),
		Message:   message,
		Metadata:  metadata,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

const (
	brokerBuffer     = 100 // pending events before Publish drops on Stop
	subscriberBuffer = 50  // per-subscriber buffer; slow consumers skip
)

// Broker manages event subscriptions and distribution. Publishing never
// blocks on a slow subscriber; a subscriber with a full buffer misses the
// event.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
	stopOnce    sync.Once
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, brokerBuffer),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	b.stopOnce.Do(func() {
		close(b.stopCh)
	})
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, subscriberBuffer)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers[sub] {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
