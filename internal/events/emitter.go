// Package events fans check outcomes out to local subscribers and, for
// multi-process deployments, to a Redis pub/sub topic. Each process forwards
// topic messages to its own connected consumers.
package events

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pulseguard/pulseguard/internal/logging"
)

type EventType string

const (
	EventMonitorUpdate       EventType = "monitor_update"
	EventMonitorStatusChange EventType = "monitor_status_change"
	EventMonitorDown         EventType = "monitor_down"
	EventMonitorDegraded     EventType = "monitor_degraded"
	EventMonitorUnknown      EventType = "monitor_unknown"
	EventIncidentCreated     EventType = "incident_created"
)

// Topic is the cross-process fan-out channel.
const Topic = "monitor_updates"

// Event is one emitted occurrence. Payload shape depends on the type;
// status-change events carry previous and current states.
type Event struct {
	Type      EventType      `json:"type"`
	MonitorID string         `json:"monitorId"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Envelope is the wire form on the pub/sub topic: the target user plus the
// event, so each process can route to its local sockets. Sender identifies
// the publishing emitter; a process skips its own envelopes since those
// events already reached its subscribers directly.
type Envelope struct {
	UserID string `json:"userId"`
	Sender string `json:"sender,omitempty"`
	Event  Event  `json:"event"`
}

// Subscriber receives every locally emitted event.
type Subscriber func(Event)

// Emitter queues events and dispatches them from a single worker, the same
// shape as a notification pipeline: emit never blocks the check path.
type Emitter struct {
	rdb      redis.UniversalClient
	userID   string
	senderID string
	queue    chan Event
	log      *log.Logger

	mu   sync.RWMutex
	subs []Subscriber

	stopOnce sync.Once
	done     chan struct{}
}

// NewEmitter builds an emitter publishing on behalf of userID. rdb may be
// nil for single-process deployments; local fan-out still works.
func NewEmitter(rdb redis.UniversalClient, userID string) *Emitter {
	return &Emitter{
		rdb:      rdb,
		userID:   userID,
		senderID: uuid.NewString(),
		queue:    make(chan Event, 256),
		log:      logging.New("events"),
		done:     make(chan struct{}),
	}
}

// Subscribe registers a local consumer. Subscribers run on the worker
// goroutine and must not block.
func (e *Emitter) Subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Emitter) Start(ctx context.Context) {
	go e.worker(ctx)
}

func (e *Emitter) Stop() {
	e.stopOnce.Do(func() { close(e.done) })
}

// Emit enqueues without blocking; a full queue drops the event.
func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case e.queue <- ev:
	default:
		e.log.Printf("queue full, dropping %s for %s", ev.Type, ev.MonitorID)
	}
}

func (e *Emitter) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev := <-e.queue:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev Event) {
	e.mu.RLock()
	subs := e.subs
	e.mu.RUnlock()
	for _, fn := range subs {
		fn(ev)
	}

	if e.rdb == nil {
		return
	}
	data, err := json.Marshal(Envelope{UserID: e.userID, Sender: e.senderID, Event: ev})
	if err != nil {
		e.log.Printf("marshal %s: %v", ev.Type, err)
		return
	}
	if err := e.rdb.Publish(ctx, Topic, data).Err(); err != nil {
		e.log.Printf("publish %s: %v", ev.Type, err)
	}
}

// Forward subscribes to the topic and relays envelopes addressed to this
// emitter's user to the local subscribers. Blocks until ctx is cancelled.
func (e *Emitter) Forward(ctx context.Context) error {
	sub := e.rdb.Subscribe(ctx, Topic)
	defer func() { _ = sub.Close() }()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				e.log.Printf("bad envelope on %s: %v", Topic, err)
				continue
			}
			if env.UserID != e.userID || env.Sender == e.senderID {
				continue
			}
			e.mu.RLock()
			subs := e.subs
			e.mu.RUnlock()
			for _, fn := range subs {
				fn(env.Event)
			}
		}
	}
}

// StatusChangePayload builds the payload for monitor_status_change events.
func StatusChangePayload(prev, curr string) map[string]any {
	return map[string]any{"previousState": prev, "currentState": curr}
}
