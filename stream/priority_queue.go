package stream

import (
	"github.com/SolaceHarmony/SolaceLive-sub001/wire"
)

// queueItem pairs a queued packet with its arrival time so the owning
// lane can expire entries that outlive their TTL while still queued.
type queueItem struct {
	packet     *wire.Packet
	enqueuedAt uint64 // µs
}

// PriorityQueue is an ordered delivery queue keyed by priority and
// insertion order: an array of per-priority FIFO buckets, not a
// comparator-based heap. Dequeue always returns the oldest item among
// the highest remaining priority; equal-priority items preserve
// insertion order. Enqueue and dequeue are O(1) amortized.
//
// The queue is not safe for concurrent use by itself; the owning lane
// serializes access under its own lock.
type PriorityQueue struct {
	buckets [wire.PriorityLevels][]queueItem
	heads   [wire.PriorityLevels]int
	length  int
}

// NewPriorityQueue creates an empty priority queue.
func NewPriorityQueue() *PriorityQueue {
	return &PriorityQueue{}
}

// Enqueue appends a packet to its priority bucket. An out-of-range
// priority is clamped to bulk rather than rejected; misprioritized
// delivery beats dropped delivery.
func (q *PriorityQueue) Enqueue(packet *wire.Packet, priority wire.Priority, nowMicros uint64) {
	if priority >= wire.PriorityLevels {
		priority = wire.PriorityBulk
	}
	q.buckets[priority] = append(q.buckets[priority], queueItem{packet: packet, enqueuedAt: nowMicros})
	q.length++
}

// Dequeue removes and returns the oldest packet among the highest
// remaining priority. The second return is false when the queue is empty.
func (q *PriorityQueue) Dequeue() (*wire.Packet, bool) {
	for p := 0; p < wire.PriorityLevels; p++ {
		if item, ok := q.dequeueBucket(p); ok {
			return item.packet, true
		}
	}
	return nil, false
}

func (q *PriorityQueue) dequeueBucket(p int) (queueItem, bool) {
	bucket := q.buckets[p]
	head := q.heads[p]
	if head >= len(bucket) {
		return queueItem{}, false
	}
	item := bucket[head]
	bucket[head] = queueItem{}
	q.heads[p] = head + 1
	q.length--

	// Reclaim consumed prefix once it dominates the bucket.
	if q.heads[p] >= len(bucket) {
		q.buckets[p] = bucket[:0]
		q.heads[p] = 0
	} else if q.heads[p] > 64 && q.heads[p] > len(bucket)/2 {
		q.buckets[p] = append(bucket[:0], bucket[q.heads[p]:]...)
		q.heads[p] = 0
	}
	return item, true
}

// Len returns the number of queued packets across all priorities.
func (q *PriorityQueue) Len() int {
	return q.length
}

// LenByPriority returns the number of queued packets at one priority.
func (q *PriorityQueue) LenByPriority(priority wire.Priority) int {
	if priority >= wire.PriorityLevels {
		return 0
	}
	return len(q.buckets[priority]) - q.heads[priority]
}

// DropExpired removes every queued packet whose TTL elapsed before it
// could be dequeued and returns the expired packets. defaultTTLMs
// applies when a packet's metadata carries no explicit TTL.
func (q *PriorityQueue) DropExpired(nowMicros uint64, defaultTTLMs uint32) []*wire.Packet {
	var expired []*wire.Packet
	for p := 0; p < wire.PriorityLevels; p++ {
		bucket := q.buckets[p]
		kept := bucket[:0]
		for i := q.heads[p]; i < len(bucket); i++ {
			item := bucket[i]
			if elapsedMicros(nowMicros, item.enqueuedAt) >= item.packet.TTLMicros(defaultTTLMs) {
				expired = append(expired, item.packet)
				q.length--
				continue
			}
			kept = append(kept, item)
		}
		q.buckets[p] = kept
		q.heads[p] = 0
	}
	return expired
}
