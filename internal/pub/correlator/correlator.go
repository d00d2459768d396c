// Package correlator matches broker acknowledgments to pending sends by
// sequence id.
package correlator

import (
	"slices"
	"sync"
	"time"

	"pulsarpub/internal/pub"
)

// abandonedLimit bounds how many given-up sequence ids are remembered.
const abandonedLimit = 1024

type entry struct {
	partitionID  uint64
	callback     pub.Callback
	registeredAt time.Time
}

// Correlator holds the pending acknowledgments of one producer. At most one
// entry exists per sequence id.
type Correlator struct {
	mu      sync.Mutex
	pending map[uint64]entry
	now     func() time.Time

	// abandoned holds sequence ids whose acknowledgment may still arrive
	// after the sender stopped waiting; abandonedOrder evicts the oldest.
	abandoned      map[uint64]struct{}
	abandonedOrder []uint64
}

type Option func(*Correlator)

// WithClock sets the time source used to stamp registrations.
func WithClock(now func() time.Time) Option {
	return func(c *Correlator) {
		c.now = now
	}
}

func New(opts ...Option) *Correlator {
	c := Correlator{
		pending:   make(map[uint64]entry),
		now:       time.Now,
		abandoned: make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(&c)
	}

	return &c
}

// Register records a pending acknowledgment for seq sent by partitionID.
func (c *Correlator) Register(seq, partitionID uint64, cb pub.Callback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[seq]; ok {
		return &pub.CorrelationError{SequenceID: seq, Err: pub.ErrDuplicateSequence}
	}
	c.pending[seq] = entry{
		partitionID:  partitionID,
		callback:     cb,
		registeredAt: c.now(),
	}

	return nil
}

// Resolve completes the entry the response refers to and runs its callback.
// A response without a matching entry is returned as an error and leaves
// the pending set untouched. The error wraps pub.ErrLateAck instead of
// pub.ErrUnknownSequence when the sequence id was abandoned.
func (c *Correlator) Resolve(resp *pub.Response) error {
	seq, ok := resp.SequenceID()
	if !ok {
		return &pub.CorrelationError{Err: pub.ErrUnknownSequence}
	}

	c.mu.Lock()
	e, ok := c.pending[seq]
	late := false
	if ok {
		delete(c.pending, seq)
	} else {
		late = c.discardLocked(seq)
	}
	c.mu.Unlock()

	if late {
		return &pub.CorrelationError{SequenceID: seq, Err: pub.ErrLateAck}
	}
	if !ok {
		return &pub.CorrelationError{SequenceID: seq, Err: pub.ErrUnknownSequence}
	}

	if resp.Error != nil {
		e.invoke("", &pub.BrokerError{
			SequenceID: seq,
			Code:       resp.Error.Code,
			Message:    resp.Error.Message,
		})
		return nil
	}

	id := resp.Receipt.MessageID
	id.Partition = int32(e.partitionID)
	e.invoke(id.String(), nil)

	return nil
}

// Remove drops the entry for seq without running its callback.
func (c *Correlator) Remove(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.pending[seq]
	delete(c.pending, seq)
	return ok
}

// Abandon drops the entry for seq without running its callback and
// remembers seq so that a late acknowledgment for it is recognized. It also
// applies to sequence ids that were never registered.
func (c *Correlator) Abandon(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pending, seq)
	c.abandonLocked(seq)
}

// Discard reports whether seq was abandoned and forgets it, so each late
// acknowledgment is recognized once.
func (c *Correlator) Discard(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.discardLocked(seq)
}

func (c *Correlator) abandonLocked(seq uint64) {
	if _, ok := c.abandoned[seq]; ok {
		return
	}
	if len(c.abandonedOrder) == abandonedLimit {
		delete(c.abandoned, c.abandonedOrder[0])
		c.abandonedOrder = c.abandonedOrder[1:]
	}
	c.abandoned[seq] = struct{}{}
	c.abandonedOrder = append(c.abandonedOrder, seq)
}

func (c *Correlator) discardLocked(seq uint64) bool {
	if _, ok := c.abandoned[seq]; !ok {
		return false
	}
	delete(c.abandoned, seq)
	if i := slices.Index(c.abandonedOrder, seq); i >= 0 {
		c.abandonedOrder = slices.Delete(c.abandonedOrder, i, i+1)
	}
	return true
}

func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.pending)
}

// Pending returns the pending sequence ids in ascending order.
func (c *Correlator) Pending() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	seqs := make([]uint64, 0, len(c.pending))
	for seq := range c.pending {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)

	return seqs
}

// Oldest returns the registration time of the longest pending entry.
func (c *Correlator) Oldest() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var oldest time.Time
	for _, e := range c.pending {
		if oldest.IsZero() || e.registeredAt.Before(oldest) {
			oldest = e.registeredAt
		}
	}

	return oldest, !oldest.IsZero()
}

// Expire fails every entry registered more than maxAge ago with
// pub.ErrAckTimeout and returns how many were failed. Expired sequence ids
// are abandoned.
func (c *Correlator) Expire(maxAge time.Duration) int {
	cutoff := c.now().Add(-maxAge)

	return c.failWhere(pub.ErrAckTimeout, true, func(e entry) bool {
		return !e.registeredAt.After(cutoff)
	})
}

// FailAll fails every pending entry with err and returns how many were failed.
func (c *Correlator) FailAll(err error) int {
	return c.failWhere(err, false, func(entry) bool { return true })
}

func (c *Correlator) failWhere(err error, abandon bool, match func(entry) bool) int {
	c.mu.Lock()
	var failed []uint64
	entries := make(map[uint64]entry)
	for seq, e := range c.pending {
		if match(e) {
			failed = append(failed, seq)
			entries[seq] = e
			delete(c.pending, seq)
			if abandon {
				c.abandonLocked(seq)
			}
		}
	}
	c.mu.Unlock()

	// Callbacks run in sequence order.
	slices.Sort(failed)
	for _, seq := range failed {
		entries[seq].invoke("", &pub.CorrelationError{SequenceID: seq, Err: err})
	}

	return len(failed)
}

func (e entry) invoke(msgID string, err error) {
	if e.callback != nil {
		e.callback(msgID, err)
	}
}
