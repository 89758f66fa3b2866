// Package reportchannel implements the bounded multi-producer queue that
// carries access reports from interception context to the dispatcher. The
// producer path is lock-free and allocation-free: slots are claimed with a
// single compare-and-swap and published by bumping the slot's sequence
// number, so it is safe to call from contexts that must never block.
package reportchannel

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/buildsandbox/sandbox-agent/pkg/accessevent"
)

// DefaultCapacity is the default ring size.
const DefaultCapacity = 4096

// ErrChannelFull signals that a report could not be enqueued. Under the Drop
// policy the report is counted and discarded; the caller must not retry.
var ErrChannelFull = errors.New("report channel full")

// OverloadPolicy selects the behavior when the ring is full.
type OverloadPolicy int

const (
	// Drop counts the report and returns ErrChannelFull.
	Drop OverloadPolicy = iota
	// Block retries with bounded backoff until a slot frees up.
	Block
)

func ParseOverloadPolicy(s string) (OverloadPolicy, error) {
	switch s {
	case "drop", "":
		return Drop, nil
	case "block":
		return Block, nil
	default:
		return Drop, fmt.Errorf("unknown overload policy %q", s)
	}
}

func (p OverloadPolicy) String() string {
	if p == Block {
		return "block"
	}
	return "drop"
}

type slot struct {
	seq    atomic.Uint64
	report accessevent.AccessReport
}

// Channel is a bounded ring of power-of-two capacity. Any number of
// producers may enqueue concurrently; dequeue calls must be serialized
// (single consumer or externally coordinated).
type Channel struct {
	slots []slot
	mask  uint64

	enqueuePos atomic.Uint64
	dequeuePos atomic.Uint64

	policy       OverloadPolicy
	dropped      atomic.Uint64
	maxOccupancy atomic.Uint64
}

// New builds a channel. capacity must be a power of two; zero selects
// DefaultCapacity.
func New(capacity int, policy OverloadPolicy) (*Channel, error) {
	if capacity == 0 {
		capacity = DefaultCapacity
	}
	if capacity < 2 || capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("channel capacity must be a power of two, got %d", capacity)
	}
	c := &Channel{
		slots:  make([]slot, capacity),
		mask:   uint64(capacity - 1),
		policy: policy,
	}
	for i := range c.slots {
		c.slots[i].seq.Store(uint64(i))
	}
	return c, nil
}

// backoff is a bounded exponential spin. It never touches OS blocking
// primitives; past the spin ceiling it yields the processor.
type backoff struct {
	spins uint
}

const maxSpins = 1 << 8

func (b *backoff) wait() {
	if b.spins < maxSpins {
		if b.spins == 0 {
			b.spins = 1
		} else {
			b.spins <<= 1
		}
		for i := uint(0); i < b.spins; i++ {
			// busy spin
		}
		return
	}
	runtime.Gosched()
}

// TryEnqueue attempts a single enqueue without applying the overload policy.
// It returns ErrChannelFull when no slot is free.
func (c *Channel) TryEnqueue(report accessevent.AccessReport) error {
	var bo backoff
	pos := c.enqueuePos.Load()
	for {
		s := &c.slots[pos&c.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if c.enqueuePos.CompareAndSwap(pos, pos+1) {
				s.report = report
				s.seq.Store(pos + 1)
				c.recordOccupancy(pos + 1)
				return nil
			}
			pos = c.enqueuePos.Load()
			bo.wait()
		case diff < 0:
			return ErrChannelFull
		default:
			// Another producer claimed this slot and has not published yet.
			pos = c.enqueuePos.Load()
			bo.wait()
		}
	}
}

// Enqueue enqueues a report, applying the configured overload policy when
// the ring is full. Under Drop the report is counted and ErrChannelFull
// returned so the interception layer sees the overload; under Block the call
// retries with bounded backoff until a slot frees up.
func (c *Channel) Enqueue(report accessevent.AccessReport) error {
	var bo backoff
	for {
		err := c.TryEnqueue(report)
		if err == nil {
			return nil
		}
		if c.policy == Drop {
			c.dropped.Add(1)
			return err
		}
		bo.wait()
	}
}

// TryDequeue copies out the oldest published report. The false return means
// the channel is empty. Calls must be serialized across consumers.
func (c *Channel) TryDequeue() (accessevent.AccessReport, bool) {
	pos := c.dequeuePos.Load()
	for {
		s := &c.slots[pos&c.mask]
		seq := s.seq.Load()
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if c.dequeuePos.CompareAndSwap(pos, pos+1) {
				report := s.report
				s.report = accessevent.AccessReport{}
				s.seq.Store(pos + uint64(len(c.slots)))
				return report, true
			}
			pos = c.dequeuePos.Load()
		case diff < 0:
			return accessevent.AccessReport{}, false
		default:
			pos = c.dequeuePos.Load()
		}
	}
}

// DequeueBatch drains up to len(dst) reports and returns how many were
// copied out.
func (c *Channel) DequeueBatch(dst []accessevent.AccessReport) int {
	n := 0
	for n < len(dst) {
		report, ok := c.TryDequeue()
		if !ok {
			break
		}
		dst[n] = report
		n++
	}
	return n
}

func (c *Channel) recordOccupancy(enqueuePos uint64) {
	occ := enqueuePos - c.dequeuePos.Load()
	for {
		cur := c.maxOccupancy.Load()
		if occ <= cur || c.maxOccupancy.CompareAndSwap(cur, occ) {
			return
		}
	}
}

// Len returns the approximate number of published, undequeued reports.
func (c *Channel) Len() int {
	n := int64(c.enqueuePos.Load()) - int64(c.dequeuePos.Load())
	if n < 0 {
		n = 0
	}
	return int(n)
}

// Capacity returns the ring size.
func (c *Channel) Capacity() int {
	return len(c.slots)
}

// Dropped returns the number of reports discarded under the Drop policy.
func (c *Channel) Dropped() uint64 {
	return c.dropped.Load()
}

// MaxOccupancy returns the highest observed number of in-flight reports.
func (c *Channel) MaxOccupancy() uint64 {
	return c.maxOccupancy.Load()
}

// Policy returns the configured overload policy.
func (c *Channel) Policy() OverloadPolicy {
	return c.policy
}
