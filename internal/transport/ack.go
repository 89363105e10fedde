package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// AckResult is delivered exactly once on the channel returned by
// AwaitAck: either the correlated Ack frame, or Err set to
// ErrAckTimeout once the deadline elapses with nothing matching.
type AckResult struct {
	Ack protocol.Ack
	Err error
}

// ackKey identifies a pending command by the target id it was addressed
// to and the msg_id assigned at send time.
// msg_id is drawn from a single counter shared by every bridge
// connection (see NextMsgID), so it alone is already collision-free;
// keying on the pair still matches the pending-table shape the design
// notes describe.
type ackKey struct {
	targetID uint32
	msgID    uint16
}

type ackWaiter struct {
	ch      chan AckResult
	expiry  time.Time
	fired   atomic.Bool
}

// ackTable is the pending-command correlator: a map of (dest, msg_id) to
// a one-shot waiter, swept periodically for expiry. Ack delivery and
// expiry are both idempotent (cancellation always clears the
// pending flag; a duplicate ack after delivery is simply ignored).
type ackTable struct {
	mu      sync.Mutex
	waiters map[ackKey]*ackWaiter
	counter atomic.Uint32
}

func newAckTable() *ackTable {
	return &ackTable{waiters: make(map[ackKey]*ackWaiter)}
}

// nextMsgID returns a fresh, process-wide unique correlation id. The
// wire field is 16 bits; wrap-around is acceptable because by the time
// 65536 commands have been issued the oldest waiters have long since
// been swept.
func (t *ackTable) nextMsgID() uint16 {
	return uint16(t.counter.Add(1))
}

// await registers a waiter for (targetID, msgID) and returns the
// channel that will receive its single result.
func (t *ackTable) await(targetID uint32, msgID uint16, ttl time.Duration) <-chan AckResult {
	w := &ackWaiter{ch: make(chan AckResult, 1), expiry: time.Now().Add(ttl)}
	t.mu.Lock()
	t.waiters[ackKey{targetID: targetID, msgID: msgID}] = w
	t.mu.Unlock()
	return w.ch
}

// deliver resolves a pending waiter matching ack, if one exists.
// Duplicate acks for the same key (devices retransmit) are accepted at
// the frame level but only the first delivery reaches the
// waiter; later ones are no-ops because the entry has already been
// removed.
func (t *ackTable) deliver(ack protocol.Ack) {
	key := ackKey{targetID: ack.TargetID, msgID: ack.MsgID}
	t.mu.Lock()
	w, ok := t.waiters[key]
	if ok {
		delete(t.waiters, key)
	}
	t.mu.Unlock()
	if !ok {
		return
	}
	if w.fired.CompareAndSwap(false, true) {
		w.ch <- AckResult{Ack: ack}
	}
}

// sweep invokes the timeout result for every waiter past its expiry and
// removes it from the table. Returns the number swept, for metrics.
func (t *ackTable) sweep(now time.Time) int {
	t.mu.Lock()
	var expired []*ackWaiter
	for key, w := range t.waiters {
		if now.After(w.expiry) {
			expired = append(expired, w)
			delete(t.waiters, key)
		}
	}
	t.mu.Unlock()

	for _, w := range expired {
		if w.fired.CompareAndSwap(false, true) {
			w.ch <- AckResult{Err: ErrAckTimeout}
		}
	}
	return len(expired)
}

// closeAll fires every remaining waiter with ErrServerClosed, used on
// shutdown so no caller of AwaitAck blocks forever.
func (t *ackTable) closeAll() {
	t.mu.Lock()
	waiters := make([]*ackWaiter, 0, len(t.waiters))
	for key, w := range t.waiters {
		waiters = append(waiters, w)
		delete(t.waiters, key)
	}
	t.mu.Unlock()

	for _, w := range waiters {
		if w.fired.CompareAndSwap(false, true) {
			w.ch <- AckResult{Err: ErrServerClosed}
		}
	}
}

// pendingCount reports the current table size, for leak-detection tests
// and metrics.
func (t *ackTable) pendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
