package transport

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SimConfig shapes the simulated network between a loopback pair.
// Zero values mean a perfect link: instant, lossless, ordered.
type SimConfig struct {
	// Latency is the base one-way delivery delay.
	Latency time.Duration
	// Jitter adds a uniform random delay in [0, Jitter) per frame.
	Jitter time.Duration
	// LossRate drops frames with this probability [0,1).
	LossRate float64
	// ReorderRate delays frames an extra jitter interval with this
	// probability, letting later frames overtake them.
	ReorderRate float64
	// DuplicateRate delivers frames twice with this probability.
	DuplicateRate float64
	// Seed makes a run reproducible; 0 seeds from the clock.
	Seed int64
}

// LoopbackTransport is one end of an in-memory transport pair used by
// tests, examples and the soak tool. Frames sent on one end arrive at
// the other after passing through the simulated network.
type LoopbackTransport struct {
	id   string
	sim  SimConfig
	peer *LoopbackTransport

	mu      sync.Mutex
	rng     *rand.Rand
	handler FrameHandler
	closed  bool

	wg sync.WaitGroup

	sent      uint64
	delivered uint64
	dropped   uint64
}

// NewLoopbackPair creates two connected endpoints sharing one
// simulated network configuration.
func NewLoopbackPair(sim SimConfig) (*LoopbackTransport, *LoopbackTransport) {
	seed := sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a := &LoopbackTransport{id: uuid.NewString(), sim: sim, rng: rand.New(rand.NewSource(seed))}
	b := &LoopbackTransport{id: uuid.NewString(), sim: sim, rng: rand.New(rand.NewSource(seed + 1))}
	a.peer = b
	b.peer = a

	logrus.WithFields(logrus.Fields{
		"function":  "NewLoopbackPair",
		"latency":   sim.Latency,
		"loss_rate": sim.LossRate,
		"seed":      seed,
	}).Debug("Creating loopback transport pair")
	return a, b
}

// Send pushes a frame toward the peer through the simulated network.
func (t *LoopbackTransport) Send(frame []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrTransportClosed
	}
	t.sent++

	if t.sim.LossRate > 0 && t.rng.Float64() < t.sim.LossRate {
		t.dropped++
		t.mu.Unlock()
		return nil
	}

	delay := t.sim.Latency
	if t.sim.Jitter > 0 {
		delay += time.Duration(t.rng.Int63n(int64(t.sim.Jitter)))
	}
	if t.sim.ReorderRate > 0 && t.rng.Float64() < t.sim.ReorderRate {
		delay += t.sim.Jitter + time.Millisecond
	}
	duplicate := t.sim.DuplicateRate > 0 && t.rng.Float64() < t.sim.DuplicateRate
	t.mu.Unlock()

	// Copy: the caller may reuse its buffer after Send returns.
	copied := make([]byte, len(frame))
	copy(copied, frame)

	t.deliverAfter(copied, delay)
	if duplicate {
		t.deliverAfter(copied, delay+time.Millisecond)
	}
	return nil
}

func (t *LoopbackTransport) deliverAfter(frame []byte, delay time.Duration) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		t.peer.deliver(frame)
	}()
}

func (t *LoopbackTransport) deliver(frame []byte) {
	t.mu.Lock()
	if t.closed || t.handler == nil {
		t.mu.Unlock()
		return
	}
	handler := t.handler
	t.delivered++
	t.mu.Unlock()
	handler(frame)
}

// SetHandler registers the inbound frame handler.
func (t *LoopbackTransport) SetHandler(handler FrameHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = handler
}

// Close stops delivery in both directions for this endpoint and waits
// for in-flight simulated frames to settle. Idempotent.
func (t *LoopbackTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
	return nil
}

// LocalID identifies this endpoint.
func (t *LoopbackTransport) LocalID() string {
	return t.id
}

// Stats returns sent/delivered/dropped frame counts for this endpoint.
// Delivered counts frames received by this endpoint; dropped counts
// frames this endpoint's simulated network lost on send.
func (t *LoopbackTransport) Stats() (sent, delivered, dropped uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sent, t.delivered, t.dropped
}
