package solacelive

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SolaceHarmony/SolaceLive-sub001/limits"
	"github.com/SolaceHarmony/SolaceLive-sub001/stream"
	"github.com/SolaceHarmony/SolaceLive-sub001/transport"
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// reassemblyTTL bounds how long an in-flight fragment set may wait for
// its remaining fragments.
const reassemblyTTL = 10 * time.Second

// InterruptionCallback fires when user speech dominates an overlap
// long enough to warrant a turn-taking decision. The decision itself
// (cancel TTS, keep talking) stays with the application.
type InterruptionCallback func(result stream.OverlapResult)

type fragKey struct {
	stream   wire.StreamID
	sequence uint32
}

type fragSet struct {
	fragments map[uint16]*wire.Packet
	total     uint16
	createdAt time.Time
}

// Conversation is one full-duplex voice session: transport frames in,
// typed events out, producer helpers for the sending side.
type Conversation struct {
	id        string
	options   *Options
	transport transport.FrameTransport
	processor *stream.DualStreamProcessor
	sync      *stream.StreamSynchronizer

	seqMu        sync.Mutex
	sequences    map[wire.StreamID]*uint32
	reassemblyMu sync.Mutex
	reassembly   map[fragKey]*fragSet

	interruptMu   sync.Mutex
	onInterrupt   InterruptionCallback
	lastInterrupt time.Time

	killed atomic.Bool
}

// New creates a Conversation wired to the given transport.
func New(options *Options) (*Conversation, error) {
	if options == nil {
		return nil, fmt.Errorf("options cannot be nil")
	}
	if options.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	options.applyDefaults()

	synchronizer := stream.NewStreamSynchronizer(options.Synchronizer)

	processorConfig := options.Processor
	processorConfig.Synchronizer = synchronizer
	if processorConfig.Sender == nil {
		t := options.Transport
		processorConfig.Sender = func(packet *wire.Packet) error {
			encoded, err := wire.Encode(packet)
			if err != nil {
				return err
			}
			return t.Send(encoded)
		}
	}

	processor, err := stream.NewDualStreamProcessor(processorConfig)
	if err != nil {
		return nil, fmt.Errorf("create processor: %w", err)
	}

	c := &Conversation{
		id:         uuid.NewString(),
		options:    options,
		transport:  options.Transport,
		processor:  processor,
		sync:       synchronizer,
		sequences:  make(map[wire.StreamID]*uint32),
		reassembly: make(map[fragKey]*fragSet),
	}
	options.Transport.SetHandler(c.handleFrame)

	// Overlap checks ride on dispatched audio from either side.
	processor.On(stream.EventUserAudio, func(stream.Event) { c.checkInterruption() })
	processor.On(stream.EventAIAudio, func(stream.Event) { c.checkInterruption() })

	logrus.WithFields(logrus.Fields{
		"function":     "New",
		"conversation": c.id,
		"local_stream": options.LocalStream.String(),
	}).Info("Creating conversation")
	return c, nil
}

// ID returns the conversation identifier.
func (c *Conversation) ID() string {
	return c.id
}

// Transport returns the frame transport this conversation rides on.
func (c *Conversation) Transport() transport.FrameTransport {
	return c.transport
}

// Start launches the dispatch tick.
func (c *Conversation) Start() error {
	return c.processor.Start()
}

// Iterate runs one dispatch tick manually. Callers that skip Start and
// own the loop themselves call Iterate every IterationInterval.
func (c *Conversation) Iterate() {
	c.processor.DispatchOnce()
}

// IterationInterval returns the cadence Iterate should be called at.
func (c *Conversation) IterationInterval() time.Duration {
	return c.processor.DispatchInterval()
}

// On registers a typed event handler; see stream.EventRegistry.
func (c *Conversation) On(t stream.EventType, handler stream.EventHandler) uint64 {
	return c.processor.On(t, handler)
}

// Off removes a typed event handler.
func (c *Conversation) Off(id uint64) {
	c.processor.Off(id)
}

// OnInterruption registers the barge-in callback.
func (c *Conversation) OnInterruption(callback InterruptionCallback) {
	c.interruptMu.Lock()
	defer c.interruptMu.Unlock()
	c.onInterrupt = callback
}

// Stats returns pipeline counters.
func (c *Conversation) Stats() stream.ProcessorStats {
	return c.processor.Stats()
}

// DetectOverlap answers the overlap/dominance query directly.
func (c *Conversation) DetectOverlap(windowMs uint32) stream.OverlapResult {
	return c.sync.DetectOverlap(windowMs)
}

// handleFrame is the transport callback: validate, decode, reassemble
// fragments, ingest. Decode failures surface through the error event
// and never abort the pipeline.
func (c *Conversation) handleFrame(frame []byte) {
	if c.killed.Load() {
		return
	}
	if err := limits.ValidateInboundFrame(frame); err != nil {
		c.processor.RaiseError(err)
		return
	}

	packet, err := wire.Decode(frame)
	if err != nil {
		c.processor.RaiseError(err)
		return
	}
	if c.options.ChecksumRequired && packet.Checksum == 0 {
		c.processor.RaiseError(fmt.Errorf("%w: checksum required but absent", wire.ErrCorruptPacket))
		return
	}

	if packet.IsFragment() {
		c.collectFragment(packet)
		return
	}
	_ = c.processor.IngestPacket(packet)
}

// collectFragment caches fragments by (stream, sequence) until the set
// completes, then reassembles and ingests the original packet.
func (c *Conversation) collectFragment(packet *wire.Packet) {
	key := fragKey{stream: packet.StreamID, sequence: packet.SequenceNumber}
	info := packet.Metadata.Fragment

	c.reassemblyMu.Lock()
	set, ok := c.reassembly[key]
	if !ok {
		set = &fragSet{
			fragments: make(map[uint16]*wire.Packet),
			total:     info.TotalFragments,
			createdAt: time.Now(),
		}
		c.reassembly[key] = set
	}
	set.fragments[info.FragmentID] = packet
	complete := len(set.fragments) == int(set.total)
	if complete {
		delete(c.reassembly, key)
	}
	c.evictStaleFragmentsLocked()
	c.reassemblyMu.Unlock()

	if !complete {
		return
	}

	fragments := make([]*wire.Packet, 0, len(set.fragments))
	for _, frag := range set.fragments {
		fragments = append(fragments, frag)
	}
	original, err := wire.Reassemble(fragments)
	if err != nil {
		c.processor.RaiseError(err)
		return
	}
	_ = c.processor.IngestPacket(original)
}

func (c *Conversation) evictStaleFragmentsLocked() {
	now := time.Now()
	for key, set := range c.reassembly {
		if now.Sub(set.createdAt) > reassemblyTTL {
			delete(c.reassembly, key)
			logrus.WithFields(logrus.Fields{
				"function": "collectFragment",
				"stream":   key.stream.String(),
				"sequence": key.sequence,
			}).Warn("Abandoning stale fragment set")
		}
	}
}

// checkInterruption runs the barge-in primitive after audio activity:
// user-dominant overlap past the threshold fires the callback, rate
// limited to one per second.
func (c *Conversation) checkInterruption() {
	c.interruptMu.Lock()
	callback := c.onInterrupt
	last := c.lastInterrupt
	c.interruptMu.Unlock()
	if callback == nil || time.Since(last) < time.Second {
		return
	}

	result := c.sync.DetectOverlap(c.options.OverlapWindowMs)
	if !result.HasOverlap || result.DominantStream != wire.StreamUser {
		return
	}
	if result.OverlapDuration < time.Duration(c.options.InterruptThresholdMs)*time.Millisecond {
		return
	}

	c.interruptMu.Lock()
	c.lastInterrupt = time.Now()
	c.interruptMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "checkInterruption",
		"conversation": c.id,
		"overlap_ms":   result.OverlapDuration.Milliseconds(),
	}).Info("User barge-in detected")
	callback(result)
}

// nextSequence stamps monotonic per-stream sequence numbers on the
// sending side.
func (c *Conversation) nextSequence(s wire.StreamID) uint32 {
	c.seqMu.Lock()
	counter, ok := c.sequences[s]
	if !ok {
		counter = new(uint32)
		c.sequences[s] = counter
	}
	c.seqMu.Unlock()
	return atomic.AddUint32(counter, 1) - 1
}

// SendPacket stamps, encodes and transmits a packet, fragmenting when
// the encoding exceeds the configured frame size.
func (c *Conversation) SendPacket(packet *wire.Packet) error {
	if c.killed.Load() {
		return stream.ErrDisposed
	}

	fragments, err := wire.Fragment(packet, c.options.MaxFrameSize)
	if err != nil {
		return fmt.Errorf("prepare packet: %w", err)
	}
	for _, frag := range fragments {
		encoded, err := wire.Encode(frag)
		if err != nil {
			return fmt.Errorf("encode packet: %w", err)
		}
		if err := c.transport.Send(encoded); err != nil {
			return fmt.Errorf("send packet: %w", err)
		}
	}
	return nil
}

// SendAudio transmits one audio frame on the local stream. The local
// activity log also records the frame, so barge-in detection sees both
// sides of the conversation from either endpoint.
func (c *Conversation) SendAudio(meta wire.AudioMeta, samples []byte) error {
	s := c.options.LocalStream
	now := nowMicros()
	packet := wire.NewPacket(wire.PacketAudioFrame, s, c.nextSequence(s), now, &wire.AudioPayload{
		Meta:    meta,
		Samples: samples,
	})
	if err := c.SendPacket(packet); err != nil {
		return err
	}

	duration := 20 * time.Millisecond
	if meta.DurationMs > 0 {
		duration = time.Duration(meta.DurationMs) * time.Millisecond
	}
	if s == wire.StreamAI {
		c.sync.AddAIEvent(now, duration)
	} else {
		c.sync.AddUserEvent(now, duration)
	}
	return nil
}

// SendText transmits transcript text on the local stream; final
// selects the final-transcript type over the partial one.
func (c *Conversation) SendText(text string, final bool) error {
	s := c.options.LocalStream
	packetType := wire.PacketPartialTranscript
	if final {
		packetType = wire.PacketFinalTranscript
	}
	packet := wire.NewPacket(packetType, s, c.nextSequence(s), nowMicros(), &wire.TextPayload{
		Text:  text,
		Final: final,
	})
	return c.SendPacket(packet)
}

// SendSemanticState transmits synthesized-state metadata on the local
// stream.
func (c *Conversation) SendSemanticState(state *wire.SemanticPayload) error {
	s := c.options.LocalStream
	packet := wire.NewPacket(wire.PacketSemanticState, s, c.nextSequence(s), nowMicros(), state)
	return c.SendPacket(packet)
}

// SendHeartbeat transmits a heartbeat on the system stream.
func (c *Conversation) SendHeartbeat() error {
	now := nowMicros()
	packet := wire.NewPacket(wire.PacketHeartbeat, wire.StreamSystem,
		c.nextSequence(wire.StreamSystem), now, &wire.HeartbeatPayload{SentAt: now})
	return c.SendPacket(packet)
}

// RequestTimestampSync starts an NTP-lite clock offset exchange; the
// result arrives as a clockSync event.
func (c *Conversation) RequestTimestampSync() error {
	now := nowMicros()
	packet := wire.NewPacket(wire.PacketTimestampSync, wire.StreamSystem,
		c.nextSequence(wire.StreamSystem), now, &wire.TimestampSyncPayload{Origin: now})
	packet.Flags |= wire.FlagTimestampSync
	return c.SendPacket(packet)
}

// Kill tears the conversation down: the dispatch tick stops, buffered
// state is discarded, later frames and sends are rejected. Idempotent.
// The transport itself stays open; its lifecycle belongs to the caller.
func (c *Conversation) Kill() {
	if !c.killed.CompareAndSwap(false, true) {
		return
	}
	c.processor.Dispose()
	c.reassemblyMu.Lock()
	c.reassembly = make(map[fragKey]*fragSet)
	c.reassemblyMu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":     "Kill",
		"conversation": c.id,
	}).Info("Conversation killed")
}

func nowMicros() uint64 {
	return stream.Micros(time.Now())
}
