// Package budget implements the token bucket rate limiter for emberwatch's
// outbound alert channel (§4.9).
//
// Capacity: configurable (default 100 tokens)
// Refill interval: configurable (default 60 seconds)
// Refill amount: full capacity (not incremental)
// Consumption: atomic, per-alert-priority cost
//
// Cost model (§4.9 priority classification):
//   - P1 (Critical, satellite uplink): cost 50
//   - P2 (Escalation, LoRa gateway):   cost 20
//   - P3 (Maintenance, local log):     cost 5
//
// Rationale: satellite uplink is the scarcest channel (limited transponder
// windows and battery draw); budgeting P1 heaviest prevents a burst of
// false positives from exhausting satellite capacity needed for a real
// fire. The refill period bounds how quickly a node recovers capacity
// after a legitimate alert burst.
//
// Invariants:
//   - tokens ∈ [0, capacity] at all times.
//   - Consume() is atomic under mutex.
//   - Refill goroutine runs for the lifetime of the Bucket.
//   - No external dependencies.
package budget

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/emberwatch/emberwatch/internal/mesh"
)

// CostModel defines the token cost for each alert priority.
// Costs must be positive integers.
var CostModel = map[mesh.Priority]int{
	mesh.PriorityP1: 50,
	mesh.PriorityP2: 20,
	mesh.PriorityP3: 5,
}

// Bucket is a thread-safe token bucket for rate-limiting outbound alert
// transmissions.
type Bucket struct {
	mu           sync.Mutex
	capacity     int
	tokens       int
	refillPeriod time.Duration

	// consumedTotal tracks lifetime tokens consumed (for metrics).
	consumedTotal atomic.Uint64

	// refillCount tracks number of refill cycles (for metrics).
	refillCount atomic.Uint64

	// stop channel for graceful shutdown of the refill goroutine.
	stop chan struct{}
}

// New creates a Bucket with the given capacity and starts the refill goroutine.
// capacity must be > 0. refillPeriod must be > 0.
// Call Close() to stop the refill goroutine.
func New(capacity int, refillPeriod time.Duration) *Bucket {
	if capacity <= 0 {
		panic("budget.Bucket: capacity must be > 0")
	}
	if refillPeriod <= 0 {
		panic("budget.Bucket: refillPeriod must be > 0")
	}
	b := &Bucket{
		capacity:     capacity,
		tokens:       capacity,
		refillPeriod: refillPeriod,
		stop:         make(chan struct{}),
	}
	go b.refillLoop()
	return b
}

// refillLoop runs in a dedicated goroutine and refills the bucket to full
// capacity every refillPeriod. Exits when Close() is called.
func (b *Bucket) refillLoop() {
	ticker := time.NewTicker(b.refillPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			b.tokens = b.capacity
			b.mu.Unlock()
			b.refillCount.Add(1)
		case <-b.stop:
			return
		}
	}
}

// Consume attempts to consume `cost` tokens from the bucket.
// Returns true if the tokens were available and consumed.
// Returns false if insufficient tokens remain (action must be deferred).
// Thread-safe.
func (b *Bucket) Consume(cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tokens >= cost {
		b.tokens -= cost
		b.consumedTotal.Add(uint64(cost))
		return true
	}
	return false
}

// ConsumeForPriority consumes the standard cost for a given alert priority.
// Returns true (no cost) for mesh.PriorityNone.
func (b *Bucket) ConsumeForPriority(p mesh.Priority) bool {
	cost, ok := CostModel[p]
	if !ok {
		return true // PriorityNone: nothing transmitted, no budget consumed.
	}
	return b.Consume(cost)
}

// Remaining returns the current token count.
func (b *Bucket) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the maximum token capacity.
func (b *Bucket) Capacity() int {
	return b.capacity // Immutable after construction.
}

// ConsumedTotal returns the lifetime total of tokens consumed.
func (b *Bucket) ConsumedTotal() uint64 {
	return b.consumedTotal.Load()
}

// RefillCount returns the number of refill cycles completed.
func (b *Bucket) RefillCount() uint64 {
	return b.refillCount.Load()
}

// Close stops the refill goroutine. Safe to call once.
func (b *Bucket) Close() {
	close(b.stop)
}
