// Package doublebuf implements the fixed-capacity double buffer shared between
// a data producer and the relay that drains it.
//
// The buffer holds exactly two slots. Each slot carries a capacity, fixed at
// construction, and a size word that doubles as the slot's state flag:
//
//   - size == 0: the slot is empty and available to the producer
//   - size == capacity: the slot is full and awaiting the relay
//
// No other size value is ever observable across the producer/relay boundary.
// The producer tracks its write progress privately and publishes the slot in a
// single atomic store of the size word (MarkFull); the relay returns the slot
// with a single atomic store back to zero (MarkEmpty). Each store happens
// strictly after every byte access to the slot's data region, which makes the
// size word the entire synchronization contract for that slot's memory. No
// lock is involved.
//
// Usage:
//
//	buf, err := doublebuf.New(doublebuf.DefaultCapacity)
//	if err != nil {
//		return err
//	}
//
//	// Producer side.
//	if slot := buf.TryClaimForWrite(); slot != nil {
//		slot.Append(reading)
//		// ... more appends until the slot is fully written ...
//		slot.MarkFull()
//	}
//
//	// Relay side.
//	if slot := buf.TryClaimForRead(); slot != nil {
//		send(slot.Bytes())
//		slot.MarkEmpty()
//	}
package doublebuf

import (
	"sync/atomic"
)

const (
	// DefaultCapacity is the slot capacity in bytes used when no explicit
	// capacity is configured.
	DefaultCapacity = 102400

	// NumSlots is the number of slots in a Buffer.
	NumSlots = 2
)

// Slot is one fixed-capacity byte region of the double buffer.
//
// A Slot is owned by the producer while its size word is below capacity and by
// the relay while it equals capacity. Callers must respect these ownership
// windows; the Slot itself does not police them.
type Slot struct {
	// size is the shared state word. It only ever holds 0 or capacity when
	// observed from the other side of the handoff.
	size     atomic.Uint32
	capacity uint32
	index    int

	// written is the producer's private write offset. The relay resets it in
	// MarkEmpty before the size store makes the slot visible again, so the
	// producer always observes a zeroed offset on a fresh claim.
	written uint32

	data []byte
}

// Index returns the slot's position in the buffer (0 or 1).
func (s *Slot) Index() int {
	return s.index
}

// Capacity returns the fixed capacity of the slot in bytes.
func (s *Slot) Capacity() int {
	return int(s.capacity)
}

// Len returns the published size of the slot: 0 while the slot is owned by the
// producer, capacity once it has been marked full.
func (s *Slot) Len() int {
	return int(s.size.Load())
}

// Written returns the number of bytes the producer has appended so far.
// Producer side only.
func (s *Slot) Written() int {
	return int(s.written)
}

// Append copies p into the unwritten region of the slot and advances the write
// offset. Producer side only. A write that does not fit in the remaining
// region is rejected whole with ErrSlotOverflow; nothing is copied.
func (s *Slot) Append(p []byte) (int, error) {
	if len(p) > int(s.capacity-s.written) {
		return 0, ErrSlotOverflow
	}

	copy(s.data[s.written:], p)
	s.written += uint32(len(p))

	return len(p), nil
}

// MarkFull publishes the slot to the relay. Producer side only; the caller
// must have completed all writes first. This is the sole publish point: the
// atomic store of the size word happens after every byte write, so a relay
// that observes a full slot also observes the payload bytes.
//
// Publishing a partially written slot is an invariant violation and is
// rejected with ErrSlotNotFull.
func (s *Slot) MarkFull() error {
	if s.written != s.capacity {
		return ErrSlotNotFull
	}

	s.size.Store(s.capacity)

	return nil
}

// MarkEmpty returns the slot to the producer. Relay side only; the caller must
// have finished reading the payload. This is the sole point at which the slot
// becomes claimable for writing again.
func (s *Slot) MarkEmpty() {
	s.written = 0
	s.size.Store(0)
}

// Bytes returns the published payload. Relay side only; valid while the slot
// is full. The returned slice aliases the slot's data region and must not be
// retained past MarkEmpty.
func (s *Slot) Bytes() []byte {
	return s.data[:s.size.Load()]
}

// Buffer is the shared double buffer: two slots plus a round-robin cursor used
// by the relay to alternate which slot it inspects first.
type Buffer struct {
	slots [NumSlots]Slot

	// readIdx is touched only from the relay's execution context.
	readIdx int
}

// New creates a Buffer whose slots each hold capacity bytes.
func New(capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	buf := &Buffer{}
	for i := range buf.slots {
		buf.slots[i].capacity = uint32(capacity)
		buf.slots[i].index = i
		buf.slots[i].data = make([]byte, capacity)
	}

	return buf, nil
}

// TryClaimForWrite returns a slot available to the producer, or nil when both
// slots are full and the relay has not caught up. The scan is deterministic,
// slot 0 first, so a partially written slot is always resumed before the other
// one is started.
func (b *Buffer) TryClaimForWrite() *Slot {
	for i := range b.slots {
		if b.slots[i].size.Load() < b.slots[i].capacity {
			return &b.slots[i]
		}
	}

	return nil
}

// TryClaimForRead returns a full slot awaiting drain, or nil when neither slot
// is full. The scan starts at the round-robin cursor and the cursor advances
// to the other slot on every call, so neither slot is starved while the other
// has pending work. Relay side only.
func (b *Buffer) TryClaimForRead() *Slot {
	for range b.slots {
		idx := b.readIdx
		b.readIdx = (b.readIdx + 1) % NumSlots

		if b.slots[idx].size.Load() == b.slots[idx].capacity {
			return &b.slots[idx]
		}
	}

	return nil
}
