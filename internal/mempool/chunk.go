/*
 *
 * Copyright 2025 iceoryx-go authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

// Package mempool implements fixed-size chunk pools inside shared memory
// segments: wait-free allocation and release across processes, reference
// counted chunks, and the segment manager that lays pools out per group.
package mempool

import (
	"sync/atomic"
	"unsafe"

	"github.com/SyPeter/iceoryx/internal/shm"
)

const (
	// ChunkMagic marks a live chunk header.
	ChunkMagic = uint32(0x49435849) // "ICXI"

	// ChunkHeaderSize is the fixed header in front of every payload.
	ChunkHeaderSize = 64

	// PayloadAlignment is the minimum payload alignment.
	PayloadAlignment = 8
)

// ChunkHeader sits at the start of every chunk slot. Layout is fixed with
// 64-byte total size; the payload follows immediately after.
type ChunkHeader struct {
	magic          uint32     // 0x00: ChunkMagic while the header is valid
	poolIndex      uint32     // 0x04: index of the owning pool in its segment
	chunkIndex     uint32     // 0x08: index of this chunk within the pool
	refCount       uint32     // 0x0C: reference count (atomic)
	sequence       uint64     // 0x10: publisher sequence number
	payloadSize    uint32     // 0x18: bytes of payload in use
	userHeaderSize uint32     // 0x1C: bytes of user header inside the payload area
	capacity       uint32     // 0x20: payload capacity of the slot
	flags          uint32     // 0x24: reserved
	origin         shm.RelPtr // 0x28: back-reference to the owning pool descriptor
	reserved       [16]byte   // 0x30-0x3F: padding to 64B
}

// Magic returns the header magic word.
func (c *ChunkHeader) Magic() uint32 {
	return atomic.LoadUint32(&c.magic)
}

// PoolIndex returns the owning pool's index inside its segment.
func (c *ChunkHeader) PoolIndex() uint32 {
	return c.poolIndex
}

// ChunkIndex returns this chunk's index within its pool.
func (c *ChunkHeader) ChunkIndex() uint32 {
	return c.chunkIndex
}

// RefCount returns the current reference count.
func (c *ChunkHeader) RefCount() uint32 {
	return atomic.LoadUint32(&c.refCount)
}

// Sequence returns the publisher-assigned sequence number.
func (c *ChunkHeader) Sequence() uint64 {
	return atomic.LoadUint64(&c.sequence)
}

// SetSequence sets the publisher-assigned sequence number.
func (c *ChunkHeader) SetSequence(seq uint64) {
	atomic.StoreUint64(&c.sequence, seq)
}

// PayloadSize returns the bytes of payload in use.
func (c *ChunkHeader) PayloadSize() uint32 {
	return atomic.LoadUint32(&c.payloadSize)
}

// SetPayloadSize records the bytes of payload in use.
func (c *ChunkHeader) SetPayloadSize(n uint32) {
	atomic.StoreUint32(&c.payloadSize, n)
}

// UserHeaderSize returns the user header size inside the payload area.
func (c *ChunkHeader) UserHeaderSize() uint32 {
	return c.userHeaderSize
}

// SetUserHeaderSize records the user header size.
func (c *ChunkHeader) SetUserHeaderSize(n uint32) {
	c.userHeaderSize = n
}

// Capacity returns the payload capacity of the slot.
func (c *ChunkHeader) Capacity() uint32 {
	return c.capacity
}

// Origin returns the back-reference to the owning pool descriptor. The
// owning relationship lives in the segment manager; this is navigation only.
func (c *ChunkHeader) Origin() shm.RelPtr {
	return shm.RelPtr(atomic.LoadUint64((*uint64)(unsafe.Pointer(&c.origin))))
}

// Payload returns a pointer to the payload area.
func (c *ChunkHeader) Payload() unsafe.Pointer {
	return unsafe.Pointer(uintptr(unsafe.Pointer(c)) + ChunkHeaderSize)
}

// PayloadBytes returns the in-use payload as a byte slice aliasing shared
// memory. The slice is valid while the caller holds a reference.
func (c *ChunkHeader) PayloadBytes() []byte {
	n := c.PayloadSize()
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(c.Payload()), n)
}

// PayloadCapacityBytes returns the whole payload area as a byte slice.
func (c *ChunkHeader) PayloadCapacityBytes() []byte {
	return unsafe.Slice((*byte)(c.Payload()), c.capacity)
}

// Ref atomically takes one additional reference. Callers must already hold
// a reference; a reader acquires before it stores the chunk durably.
func (c *ChunkHeader) Ref() {
	atomic.AddUint32(&c.refCount, 1)
}

// unref drops one reference and reports whether it was the last. Dropping
// below zero is an invariant violation; the result tells the caller which
// of the two it observed.
func (c *ChunkHeader) unref() (last bool, underflow bool) {
	for {
		cur := atomic.LoadUint32(&c.refCount)
		if cur == 0 {
			return false, true
		}
		if atomic.CompareAndSwapUint32(&c.refCount, cur, cur-1) {
			return cur == 1, false
		}
	}
}
