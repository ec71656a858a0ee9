package stream

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/metrics"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// ErrDisposed is returned by ingest after Dispose.
var ErrDisposed = fmt.Errorf("processor is disposed")

// Sender transmits a core-originated packet (ack, retransmit request,
// timestamp sync reply) back to the peer. Absence of a sender is not
// an error; the corresponding packets are simply not produced.
type Sender func(*wire.Packet) error

// ProcessorConfig configures a DualStreamProcessor.
type ProcessorConfig struct {
	// DispatchIntervalMs is the dispatch tick cadence; it should match
	// the audio frame cadence (20-80 ms).
	DispatchIntervalMs uint32
	// DefaultTTLMs bounds how long a packet may wait in any pipeline
	// stage when its metadata carries no explicit TTL.
	DefaultTTLMs uint32
	// Jitter configures the per-lane jitter buffers.
	Jitter JitterConfig
	// Tracker configures the per-lane sequence trackers.
	Tracker TrackerConfig
	// Sender, when set, carries core-originated packets to the peer.
	Sender Sender
	// Synchronizer, when set, is fed every dispatched audio packet's
	// timestamp and duration automatically.
	Synchronizer *StreamSynchronizer
	// TimeProvider supplies the clock; nil means the system clock.
	TimeProvider TimeProvider
}

// DefaultProcessorConfig returns production defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		DispatchIntervalMs: limits.DefaultDispatchIntervalMs,
		DefaultTTLMs:       limits.DefaultPacketTTLMs,
		Jitter:             DefaultJitterConfig(),
		Tracker:            DefaultTrackerConfig(),
	}
}

// lane is the receive machinery for one logical stream. Each lane has
// its own lock so USER and AI traffic never block each other; within a
// lane, ingest and dispatch serialize on the lane lock, and dispatch
// ticks are driven by a single goroutine so two ticks for the same
// lane never run concurrently.
type lane struct {
	mu      sync.Mutex
	stream  wire.StreamID
	tracker *SequenceTracker
	jitter  *JitterBuffer
	queue   *PriorityQueue

	received   uint64
	dispatched uint64
	dropped    uint64
}

// LaneStats is a point-in-time snapshot of one lane's counters.
type LaneStats struct {
	PacketsReceived   uint64
	PacketsDispatched uint64
	PacketsDropped    uint64
	OutstandingGaps   int
	Jitter            BufferStats
	QueueDepth        int
}

// ProcessorStats aggregates per-lane statistics.
type ProcessorStats struct {
	User   LaneStats
	AI     LaneStats
	System LaneStats
}

// DualStreamProcessor ingests decoded packets, runs per-stream
// duplicate/gap detection, buffers jittery media, arbitrates priority,
// and dispatches typed events strictly in per-stream sequence order.
//
// It owns one tracker+buffer+queue triple per media lane (USER, AI)
// plus a control lane for SYSTEM traffic. IngestPacket never blocks;
// a fixed-interval dispatch tick is the only scheduled suspension
// point. Event handlers run on the dispatching goroutine and must not
// block.
type DualStreamProcessor struct {
	config ProcessorConfig
	tp     TimeProvider
	events *EventRegistry

	user   *lane
	ai     *lane
	system *lane

	clockOffset atomic.Int64 // µs, from timestamp sync exchanges

	runMu    sync.Mutex
	ticker   *time.Ticker
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	disposed atomic.Bool
}

// NewDualStreamProcessor creates a processor. Zero-valued config
// fields fall back to defaults; an out-of-band dispatch interval is
// clamped to the supported cadence range.
func NewDualStreamProcessor(config ProcessorConfig) (*DualStreamProcessor, error) {
	if config.DispatchIntervalMs == 0 {
		config.DispatchIntervalMs = limits.DefaultDispatchIntervalMs
	}
	if config.DispatchIntervalMs < limits.MinDispatchIntervalMs {
		config.DispatchIntervalMs = limits.MinDispatchIntervalMs
	}
	if config.DispatchIntervalMs > limits.MaxDispatchIntervalMs {
		config.DispatchIntervalMs = limits.MaxDispatchIntervalMs
	}
	if config.DefaultTTLMs == 0 {
		config.DefaultTTLMs = limits.DefaultPacketTTLMs
	}

	tp := getTimeProvider(config.TimeProvider)
	p := &DualStreamProcessor{
		config: config,
		tp:     tp,
		events: NewEventRegistry(),
		user:   newLane(wire.StreamUser, config),
		ai:     newLane(wire.StreamAI, config),
		system: newControlLane(wire.StreamSystem),
	}

	logrus.WithFields(logrus.Fields{
		"function":          "NewDualStreamProcessor",
		"dispatch_interval": config.DispatchIntervalMs,
		"default_ttl":       config.DefaultTTLMs,
	}).Info("Creating dual stream processor")
	return p, nil
}

func newLane(stream wire.StreamID, config ProcessorConfig) *lane {
	return &lane{
		stream:  stream,
		tracker: NewSequenceTracker(stream, config.Tracker),
		jitter:  NewJitterBuffer(stream, config.Jitter),
		queue:   NewPriorityQueue(),
	}
}

// newControlLane builds the SYSTEM lane: priority queue only. Control
// traffic is not media; it is neither jitter-buffered nor gap-tracked.
func newControlLane(stream wire.StreamID) *lane {
	return &lane{stream: stream, queue: NewPriorityQueue()}
}

// On registers an event handler; see EventRegistry.On.
func (p *DualStreamProcessor) On(t EventType, handler EventHandler) uint64 {
	return p.events.On(t, handler)
}

// Off removes an event handler; see EventRegistry.Off.
func (p *DualStreamProcessor) Off(id uint64) {
	p.events.Off(id)
}

// IngestPacket is the single entry point for decoded packets. It
// routes by stream, runs duplicate and gap detection, and either
// dispatches immediately (critical priority, control and ack/heartbeat
// types bypass jitter entirely) or stores the packet for the next
// dispatch tick. Validation failures are surfaced through the error
// event and the packet is dropped; they never escape as a returned
// error. The only error returns are programmer misuse: a nil packet or
// ingest after Dispose.
func (p *DualStreamProcessor) IngestPacket(packet *wire.Packet) error {
	if packet == nil {
		return fmt.Errorf("packet cannot be nil")
	}
	if p.disposed.Load() {
		return ErrDisposed
	}

	now := Micros(p.tp.Now())

	if packet.Type.Class() == wire.ClassUnknown {
		// Unknown types still deliver as opaque payloads; the error
		// event flags the condition without dropping the packet.
		p.events.Emit(Event{
			Type:   EventError,
			Stream: packet.StreamID,
			Packet: packet,
			Err:    fmt.Errorf("%w: 0x%02X", wire.ErrUnknownPacketType, uint8(packet.Type)),
			Reason: "unknown_type",
		})
	}

	switch packet.StreamID {
	case wire.StreamUser:
		p.ingestMedia(p.user, packet, now)
	case wire.StreamAI:
		p.ingestMedia(p.ai, packet, now)
	case wire.StreamSystem:
		p.ingestControl(packet, now)
	case wire.StreamBroadcast:
		// Broadcast traffic addresses every listener; deliver it on
		// the control path without gap tracking.
		p.ingestControl(packet, now)
	default:
		p.dropPacket(packet, "unknown_stream",
			fmt.Errorf("%w: stream %d", wire.ErrCorruptPacket, packet.StreamID))
	}
	return nil
}

// ingestMedia handles USER/AI lane packets.
func (p *DualStreamProcessor) ingestMedia(l *lane, packet *wire.Packet, now uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.received++
	metrics.PacketsReceived.Inc()

	result := l.tracker.Process(packet, now)
	switch result.Status {
	case StatusDuplicate:
		l.dropped++
		metrics.PacketsDropped.WithLabelValues("duplicate").Inc()
		logrus.WithFields(logrus.Fields{
			"function": "IngestPacket",
			"stream":   l.stream.String(),
			"sequence": packet.SequenceNumber,
		}).Debug("Dropping duplicate packet")
		return
	case StatusFuture:
		// Gaps recorded; retransmit requests are raised by the
		// dispatch tick once the gap timeout passes.
	case StatusLate:
		logrus.WithFields(logrus.Fields{
			"function": "IngestPacket",
			"stream":   l.stream.String(),
			"sequence": packet.SequenceNumber,
		}).Debug("Accepting late packet")
	}

	p.acknowledgeIfRequired(packet, now)

	if p.bypassesJitter(packet) {
		l.dispatched++
		p.emitPacketEvent(l.stream, packet)
		return
	}
	if packet.Type.Class() == wire.ClassAudio {
		l.jitter.Add(packet, now)
		return
	}
	l.queue.Enqueue(packet, packet.EffectivePriority(), now)
}

// ingestControl handles SYSTEM and broadcast packets: no jitter, no
// gap tracking. Critical control types dispatch immediately; the rest
// queue for the next tick behind any higher-priority control traffic.
func (p *DualStreamProcessor) ingestControl(packet *wire.Packet, now uint64) {
	l := p.system
	l.mu.Lock()
	defer l.mu.Unlock()

	l.received++
	metrics.PacketsReceived.Inc()
	p.acknowledgeIfRequired(packet, now)

	if p.handleTimestampSync(packet, now) {
		l.dispatched++
		return
	}
	if p.bypassesJitter(packet) {
		l.dispatched++
		p.emitPacketEvent(wire.StreamSystem, packet)
		return
	}
	l.queue.Enqueue(packet, packet.EffectivePriority(), now)
}

// bypassesJitter reports whether a packet skips buffering entirely:
// critical-priority packets and control-class types (acks, heartbeats,
// retransmit requests) are latency-sensitive and gain nothing from
// delay gating.
func (p *DualStreamProcessor) bypassesJitter(packet *wire.Packet) bool {
	if packet.EffectivePriority() == wire.PriorityCritical {
		return true
	}
	return packet.Type.Class() == wire.ClassControl
}

// acknowledgeIfRequired answers REQUIRES_ACK packets through the
// configured sender.
func (p *DualStreamProcessor) acknowledgeIfRequired(packet *wire.Packet, now uint64) {
	if !packet.Flags.Has(wire.FlagRequiresAck) || p.config.Sender == nil {
		return
	}
	ack := wire.NewPacket(wire.PacketAck, wire.StreamSystem, 0, now, &wire.AckPayload{
		Stream:        packet.StreamID,
		AckedSequence: packet.SequenceNumber,
	})
	if err := p.config.Sender(ack); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "IngestPacket",
			"stream":   packet.StreamID.String(),
			"sequence": packet.SequenceNumber,
			"error":    err.Error(),
		}).Warn("Failed to send ack")
	}
}

// handleTimestampSync implements the NTP-lite exchange. As responder
// it fills the receive/transmit timestamps and returns the packet via
// the sender; as originator it computes offset and round-trip time
// from the completed exchange and emits a clockSync event.
func (p *DualStreamProcessor) handleTimestampSync(packet *wire.Packet, now uint64) bool {
	sync, ok := packet.Payload.(*wire.TimestampSyncPayload)
	if !ok || packet.Type != wire.PacketTimestampSync {
		return false
	}

	if sync.Transmit == 0 {
		// Request leg: reply with our receive and transmit times.
		if p.config.Sender == nil {
			return true
		}
		reply := wire.NewPacket(wire.PacketTimestampSync, wire.StreamSystem, 0, now, &wire.TimestampSyncPayload{
			Origin:   sync.Origin,
			Receive:  now,
			Transmit: Micros(p.tp.Now()),
		})
		reply.Flags |= wire.FlagTimestampSync
		if err := p.config.Sender(reply); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "IngestPacket",
				"error":    err.Error(),
			}).Warn("Failed to send timestamp sync reply")
		}
		return true
	}

	// Reply leg: offset = ((t2-t1)+(t3-t4))/2, rtt = (t4-t1)-(t3-t2).
	t1, t2, t3, t4 := int64(sync.Origin), int64(sync.Receive), int64(sync.Transmit), int64(now)
	offset := ((t2 - t1) + (t3 - t4)) / 2
	rtt := (t4 - t1) - (t3 - t2)
	if rtt < 0 {
		rtt = 0
	}
	p.clockOffset.Store(offset)
	p.events.Emit(Event{
		Type:         EventClockSync,
		Stream:       packet.StreamID,
		Packet:       packet,
		OffsetMicros: offset,
		RTTMicros:    uint64(rtt),
	})
	return true
}

// ClockOffset returns the most recent peer clock offset estimate in
// microseconds (informational; zero until a sync exchange completes).
func (p *DualStreamProcessor) ClockOffset() int64 {
	return p.clockOffset.Load()
}

// Start launches the periodic dispatch tick. Safe to call once;
// subsequent calls return an error. Tests may skip Start and drive
// DispatchOnce with a manual clock instead.
func (p *DualStreamProcessor) Start() error {
	if p.disposed.Load() {
		return ErrDisposed
	}
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.started {
		return fmt.Errorf("processor already started")
	}
	p.started = true
	p.ticker = p.tp.NewTicker(time.Duration(p.config.DispatchIntervalMs) * time.Millisecond)
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func() {
		defer close(p.doneCh)
		for {
			select {
			case <-p.ticker.C:
				p.DispatchOnce()
			case <-p.stopCh:
				return
			}
		}
	}()

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"interval": p.config.DispatchIntervalMs,
	}).Info("Dispatch tick started")
	return nil
}

// DispatchInterval returns the dispatch tick cadence.
func (p *DualStreamProcessor) DispatchInterval() time.Duration {
	return time.Duration(p.config.DispatchIntervalMs) * time.Millisecond
}

// DispatchOnce runs one dispatch tick: each lane is drained
// independently so one lane's backlog never delays the other, and
// within a lane jitter-ready packets go out in ascending sequence
// order ahead of queued packets in priority-then-FIFO order.
func (p *DualStreamProcessor) DispatchOnce() {
	if p.disposed.Load() {
		return
	}
	now := Micros(p.tp.Now())
	p.dispatchLane(p.user, now)
	p.dispatchLane(p.ai, now)
	p.dispatchLane(p.system, now)
}

func (p *DualStreamProcessor) dispatchLane(l *lane, now uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.jitter != nil {
		for _, packet := range l.jitter.GetReady(now) {
			l.dispatched++
			p.emitPacketEvent(l.stream, packet)
			p.feedSynchronizer(l.stream, packet)
		}
		for _, packet := range l.jitter.DropExpired(now, p.config.DefaultTTLMs) {
			l.dropped++
			p.emitDrop(l.stream, packet, "ttl_expired")
		}
	}

	for _, packet := range l.queue.DropExpired(now, p.config.DefaultTTLMs) {
		l.dropped++
		p.emitDrop(l.stream, packet, "ttl_expired")
	}
	for {
		packet, ok := l.queue.Dequeue()
		if !ok {
			break
		}
		l.dispatched++
		p.emitPacketEvent(l.stream, packet)
	}

	if l.tracker != nil {
		if due := l.tracker.DueForRetransmit(now); len(due) > 0 {
			p.raiseRetransmit(l.stream, due, now)
		}
		if expired := l.tracker.ExpireGaps(now); len(expired) > 0 {
			metrics.PacketsDropped.WithLabelValues("gap_expired").Add(float64(len(expired)))
		}
	}
}

// raiseRetransmit emits the retransmitRequest event and, when a sender
// is configured, the corresponding wire packet so the peer can resend.
func (p *DualStreamProcessor) raiseRetransmit(stream wire.StreamID, missing []uint32, now uint64) {
	metrics.RetransmitRequests.Inc()
	logrus.WithFields(logrus.Fields{
		"function": "DispatchOnce",
		"stream":   stream.String(),
		"missing":  missing,
	}).Info("Raising retransmit request")

	p.events.Emit(Event{Type: EventRetransmitRequest, Stream: stream, Missing: missing})

	if p.config.Sender == nil {
		return
	}
	request := wire.NewPacket(wire.PacketRetransmitRequest, wire.StreamSystem, 0, now, &wire.RetransmitPayload{
		Stream:  stream,
		Missing: missing,
	})
	if err := p.config.Sender(request); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "DispatchOnce",
			"stream":   stream.String(),
			"error":    err.Error(),
		}).Warn("Failed to send retransmit request")
	}
}

// feedSynchronizer forwards dispatched audio activity to the attached
// synchronizer using the audio frame's own duration.
func (p *DualStreamProcessor) feedSynchronizer(stream wire.StreamID, packet *wire.Packet) {
	if p.config.Synchronizer == nil || packet.Type.Class() != wire.ClassAudio {
		return
	}
	duration := time.Duration(limits.DefaultDispatchIntervalMs) * time.Millisecond
	if audio, ok := packet.Payload.(*wire.AudioPayload); ok && audio.Meta.DurationMs > 0 {
		duration = time.Duration(audio.Meta.DurationMs) * time.Millisecond
	}
	switch stream {
	case wire.StreamUser:
		p.config.Synchronizer.AddUserEvent(packet.Timestamp, duration)
	case wire.StreamAI:
		p.config.Synchronizer.AddAIEvent(packet.Timestamp, duration)
	}
}

// emitPacketEvent maps a dispatched packet to its typed event.
func (p *DualStreamProcessor) emitPacketEvent(stream wire.StreamID, packet *wire.Packet) {
	metrics.PacketsDispatched.WithLabelValues(stream.String()).Inc()
	p.events.Emit(Event{Type: eventTypeFor(stream, packet.Type), Stream: stream, Packet: packet})
}

// eventTypeFor resolves the event name for a packet by stream and
// type class.
func eventTypeFor(stream wire.StreamID, t wire.PacketType) EventType {
	switch t.Class() {
	case wire.ClassAudio:
		if stream == wire.StreamAI {
			return EventAIAudio
		}
		return EventUserAudio
	case wire.ClassText:
		if t == wire.PacketPartialTranscript {
			return EventUserTranscript
		}
		if stream == wire.StreamAI {
			return EventAIText
		}
		return EventUserText
	case wire.ClassSemantic:
		return EventSemanticState
	case wire.ClassResponse:
		return EventResponse
	case wire.ClassStreamControl:
		return EventStreamControl
	case wire.ClassControl:
		if t == wire.PacketHeartbeat {
			return EventHeartbeat
		}
		return EventControl
	default:
		return EventControl
	}
}

// dropPacket counts and surfaces a dropped packet without aborting the
// pipeline.
func (p *DualStreamProcessor) dropPacket(packet *wire.Packet, reason string, err error) {
	metrics.PacketsDropped.WithLabelValues(reason).Inc()
	logrus.WithFields(logrus.Fields{
		"function": "IngestPacket",
		"reason":   reason,
		"error":    err.Error(),
	}).Warn("Dropping packet")
	p.events.Emit(Event{Type: EventError, Stream: packet.StreamID, Packet: packet, Err: err, Reason: reason})
}

func (p *DualStreamProcessor) emitDrop(stream wire.StreamID, packet *wire.Packet, reason string) {
	metrics.PacketsDropped.WithLabelValues(reason).Inc()
	p.events.Emit(Event{Type: EventPacketDropped, Stream: stream, Packet: packet, Reason: reason})
}

// RaiseError surfaces an out-of-band pipeline error (a frame that
// failed to decode, for example) through the error event. The caller
// keeps the pipeline running.
func (p *DualStreamProcessor) RaiseError(err error) {
	if p.disposed.Load() {
		return
	}
	metrics.PacketsDropped.WithLabelValues("corrupt").Inc()
	p.events.Emit(Event{Type: EventError, Err: err, Reason: "corrupt"})
}

// Stats returns aggregated per-lane counters.
func (p *DualStreamProcessor) Stats() ProcessorStats {
	return ProcessorStats{
		User:   p.laneStats(p.user),
		AI:     p.laneStats(p.ai),
		System: p.laneStats(p.system),
	}
}

func (p *DualStreamProcessor) laneStats(l *lane) LaneStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := LaneStats{
		PacketsReceived:   l.received,
		PacketsDispatched: l.dispatched,
		PacketsDropped:    l.dropped,
		QueueDepth:        l.queue.Len(),
	}
	if l.jitter != nil {
		stats.Jitter = l.jitter.Stats()
		stats.PacketsDropped += stats.Jitter.PacketsDropped
	}
	if l.tracker != nil {
		stats.OutstandingGaps = l.tracker.OutstandingGaps()
	}
	return stats
}

// Dispose deterministically releases the ticker and all buffered
// state. Idempotent; ingest after Dispose returns ErrDisposed and
// registered handlers never fire again.
func (p *DualStreamProcessor) Dispose() {
	if !p.disposed.CompareAndSwap(false, true) {
		return
	}

	p.runMu.Lock()
	if p.started {
		p.ticker.Stop()
		close(p.stopCh)
		<-p.doneCh
		p.started = false
	}
	p.runMu.Unlock()

	for _, l := range []*lane{p.user, p.ai, p.system} {
		l.mu.Lock()
		if l.jitter != nil {
			l.jitter.Clear()
		}
		for {
			if _, ok := l.queue.Dequeue(); !ok {
				break
			}
		}
		l.mu.Unlock()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Dispose",
	}).Info("Processor disposed")
}
