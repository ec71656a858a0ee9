package stream

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// EventType names a typed event emitted by the processor.
type EventType string

const (
	EventUserAudio         EventType = "userAudio"
	EventAIAudio           EventType = "aiAudio"
	EventUserText          EventType = "userText"
	EventAIText            EventType = "aiText"
	EventUserTranscript    EventType = "userTranscript"
	EventSemanticState     EventType = "semanticState"
	EventResponse          EventType = "response"
	EventStreamControl     EventType = "streamControl"
	EventControl           EventType = "control"
	EventHeartbeat         EventType = "heartbeat"
	EventClockSync         EventType = "clockSync"
	EventError             EventType = "error"
	EventRetransmitRequest EventType = "retransmitRequest"
	EventPacketDropped     EventType = "packetDropped"
)

// Event is the value delivered to registered handlers. Fields beyond
// Type are populated per event: Packet for dispatches, Err for error
// events, Missing for retransmit requests, Reason for drops,
// OffsetMicros/RTTMicros for clock sync results.
type Event struct {
	Type         EventType
	Stream       wire.StreamID
	Packet       *wire.Packet
	Err          error
	Missing      []uint32
	Reason       string
	OffsetMicros int64
	RTTMicros    uint64
}

// EventHandler receives events on the dispatch goroutine. Handlers
// must not block; long work belongs on the handler's own goroutine.
type EventHandler func(Event)

type registration struct {
	id      uint64
	handler EventHandler
}

// EventRegistry is a typed callback registry: one ordered handler set
// per event name. Registration order is emission order.
type EventRegistry struct {
	mu       sync.RWMutex
	handlers map[EventType][]registration
	nextID   uint64
}

// NewEventRegistry creates an empty registry.
func NewEventRegistry() *EventRegistry {
	return &EventRegistry{handlers: make(map[EventType][]registration)}
}

// On registers a handler for an event type and returns a listener ID
// usable with Off. A nil handler registers nothing and returns zero.
func (r *EventRegistry) On(t EventType, handler EventHandler) uint64 {
	if handler == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.handlers[t] = append(r.handlers[t], registration{id: r.nextID, handler: handler})
	return r.nextID
}

// Off removes a previously registered handler. Removing an unknown ID
// is a no-op.
func (r *EventRegistry) Off(id uint64) {
	if id == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for t, regs := range r.handlers {
		for i, reg := range regs {
			if reg.id == id {
				r.handlers[t] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers an event to every handler registered for its type, in
// registration order, on the calling goroutine. A panicking handler is
// contained and logged so one listener cannot abort the pipeline.
func (r *EventRegistry) Emit(event Event) {
	r.mu.RLock()
	regs := r.handlers[event.Type]
	r.mu.RUnlock()

	for _, reg := range regs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logrus.WithFields(logrus.Fields{
						"function": "Emit",
						"event":    string(event.Type),
						"panic":    rec,
					}).Error("Event handler panicked")
				}
			}()
			reg.handler(event)
		}()
	}
}

// ListenerCount returns how many handlers are registered for a type.
func (r *EventRegistry) ListenerCount(t EventType) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[t])
}
