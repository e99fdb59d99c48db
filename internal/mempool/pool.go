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

package mempool

import (
	"errors"
	"sync/atomic"
	"unsafe"

	"github.com/SyPeter/iceoryx/internal/shm"
)

var (
	// ErrPoolEmpty indicates the pool's free-list is exhausted. Returned to
	// the caller, never retried inside the pool.
	ErrPoolEmpty = errors.New("mempool: pool empty")

	// ErrNoFittingPool indicates no pool in the segment can hold the payload.
	ErrNoFittingPool = errors.New("mempool: no pool with sufficient chunk size")

	// ErrRefCountUnderflow is the double-free invariant violation. The
	// daemon treats it as fatal; applications terminate only themselves.
	ErrRefCountUnderflow = errors.New("mempool: chunk reference count underflow")

	// ErrCorruptedChunk indicates a chunk header with an invalid magic word.
	ErrCorruptedChunk = errors.New("mempool: corrupted chunk header")
)

// chunkFreeMagic replaces ChunkMagic while a chunk sits on the free-list,
// so a release of an already-freed chunk is detectable.
const chunkFreeMagic = uint32(0x46524545) // "FREE"

// PoolDescSize is the fixed size of a pool descriptor in shared memory.
const PoolDescSize = 64

// PoolDesc describes one fixed-size chunk pool. It lives in the pool table,
// which follows the segment header and the table header; the free-list
// head is the only hot field.
//
// The free-list is a lock-free stack of chunk indices. The head word packs
// {ABA counter (high 32) | chunk index + 1 (low 32)}; 0 in the low half
// means empty. Entries of the next-index array use the same +1 encoding.
type PoolDesc struct {
	chunkSize  uint32  // 0x00: payload capacity per chunk
	chunkCount uint32  // 0x04: number of chunks
	slotSize   uint64  // 0x08: header + payload, 64-byte aligned
	freeHead   uint64  // 0x10: packed free-list head (atomic CAS)
	usedCount  uint32  // 0x18: chunks currently allocated (atomic)
	poolIndex  uint32  // 0x1C: index of this pool in the segment
	nextOff    uint64  // 0x20: segment offset of the next-index array
	chunksOff  uint64  // 0x28: segment offset of the chunk slab
	segmentID  uint32  // 0x30: owning segment id
	pad        uint32  // 0x34
	reserved   [8]byte // 0x38-0x3F: padding to 64B
}

// ChunkSize returns the payload capacity per chunk.
func (d *PoolDesc) ChunkSize() uint32 {
	return d.chunkSize
}

// ChunkCount returns the number of chunks in the pool.
func (d *PoolDesc) ChunkCount() uint32 {
	return d.chunkCount
}

// Used returns the number of chunks currently allocated.
func (d *PoolDesc) Used() uint32 {
	return atomic.LoadUint32(&d.usedCount)
}

// PoolIndex returns the pool's index within its segment.
func (d *PoolDesc) PoolIndex() uint32 {
	return d.poolIndex
}

// SegmentID returns the owning segment id.
func (d *PoolDesc) SegmentID() uint32 {
	return d.segmentID
}

// Pool is the process-local view of a PoolDesc plus its segment mapping.
type Pool struct {
	desc *PoolDesc
	seg  *shm.Segment
}

// Desc returns the shared pool descriptor.
func (p *Pool) Desc() *PoolDesc {
	return p.desc
}

// nextPtr returns the i-th entry of the next-index array.
func (p *Pool) nextPtr(i uint32) *uint32 {
	return (*uint32)(unsafe.Pointer(uintptr(p.seg.At(p.desc.nextOff)) + uintptr(i)*4))
}

// ChunkAt returns the header of the i-th chunk slot.
func (p *Pool) ChunkAt(i uint32) *ChunkHeader {
	return (*ChunkHeader)(unsafe.Pointer(uintptr(p.seg.At(p.desc.chunksOff)) + uintptr(i)*uintptr(p.desc.slotSize)))
}

// Allocate pops one chunk from the free-list. O(1), wait-free apart from
// CAS retries under contention. Fails only with ErrPoolEmpty.
//
// The returned chunk carries exactly one reference owned by the caller.
func (p *Pool) Allocate() (*ChunkHeader, error) {
	d := p.desc
	for {
		old := atomic.LoadUint64(&d.freeHead)
		encoded := uint32(old)
		if encoded == 0 {
			return nil, ErrPoolEmpty
		}
		idx := encoded - 1

		// The next entry is stable while idx is on the stack: it is only
		// rewritten by a push, and idx cannot be pushed before it is popped.
		next := atomic.LoadUint32(p.nextPtr(idx))
		aba := (old >> 32) + 1
		if atomic.CompareAndSwapUint64(&d.freeHead, old, aba<<32|uint64(next)) {
			atomic.AddUint32(&d.usedCount, 1)

			c := p.ChunkAt(idx)
			atomic.StoreUint32(&c.magic, ChunkMagic)
			atomic.StoreUint32(&c.refCount, 1)
			c.SetPayloadSize(0)
			c.SetUserHeaderSize(0)
			return c, nil
		}
	}
}

// push returns a chunk index to the free-list.
func (p *Pool) push(idx uint32) {
	d := p.desc
	for {
		old := atomic.LoadUint64(&d.freeHead)
		atomic.StoreUint32(p.nextPtr(idx), uint32(old))
		aba := (old >> 32) + 1
		if atomic.CompareAndSwapUint64(&d.freeHead, old, aba<<32|uint64(idx+1)) {
			// usedCount pairs with the Allocate that handed the chunk out.
			atomic.AddUint32(&d.usedCount, ^uint32(0))
			return
		}
	}
}

// FreeListLen walks the free-list and counts entries. Only meaningful when
// the pool is quiescent; used by introspection and tests.
func (p *Pool) FreeListLen() uint32 {
	var n uint32
	encoded := uint32(atomic.LoadUint64(&p.desc.freeHead))
	for encoded != 0 {
		n++
		encoded = atomic.LoadUint32(p.nextPtr(encoded - 1))
	}
	return n
}

// initFreeList links every chunk slot onto the free-list and stamps the
// static header fields. Called once at segment creation, single-threaded.
func (p *Pool) initFreeList() {
	d := p.desc
	for i := uint32(0); i < d.chunkCount; i++ {
		c := p.ChunkAt(i)
		c.magic = chunkFreeMagic
		c.poolIndex = d.poolIndex
		c.chunkIndex = i
		c.refCount = 0
		c.capacity = d.chunkSize
		c.origin = shm.RelPtrTo(p.seg, unsafe.Pointer(d))

		// Link i -> i+1, last -> end.
		if i+1 < d.chunkCount {
			*p.nextPtr(i) = i + 2 // +1 encoding of index i+1
		} else {
			*p.nextPtr(i) = 0
		}
	}
	if d.chunkCount > 0 {
		atomic.StoreUint64(&d.freeHead, 1) // index 0, ABA 0
	} else {
		atomic.StoreUint64(&d.freeHead, 0)
	}
	atomic.StoreUint32(&d.usedCount, 0)
}

// Release drops one reference on the chunk; the last reference returns it
// to its originating pool, found through the header's origin back-reference.
// A release of a chunk that is already free is reported, not executed.
func Release(m *shm.SegmentMap, c *ChunkHeader) error {
	if c.Magic() != ChunkMagic {
		return ErrCorruptedChunk
	}
	last, underflow := c.unref()
	if underflow {
		return ErrRefCountUnderflow
	}
	if !last {
		return nil
	}

	descPtr := m.Resolve(c.Origin())
	if descPtr == nil {
		return ErrCorruptedChunk
	}
	desc := (*PoolDesc)(descPtr)
	seg := m.Segment(desc.segmentID)
	if seg == nil {
		return ErrCorruptedChunk
	}

	atomic.StoreUint32(&c.magic, chunkFreeMagic)
	pool := &Pool{desc: desc, seg: seg}
	pool.push(c.chunkIndex)
	return nil
}

// ResolveChunk turns a chunk RelPtr into a header pointer, checking the
// magic word before the header is trusted.
func ResolveChunk(m *shm.SegmentMap, r shm.RelPtr) (*ChunkHeader, error) {
	p := m.Resolve(r)
	if p == nil {
		return nil, ErrCorruptedChunk
	}
	c := (*ChunkHeader)(p)
	if c.Magic() != ChunkMagic {
		return nil, ErrCorruptedChunk
	}
	return c, nil
}

// ChunkRef computes the RelPtr of a chunk header inside its segment.
func ChunkRef(m *shm.SegmentMap, c *ChunkHeader) shm.RelPtr {
	seg := m.Segment(c.Origin().SegmentID())
	if seg == nil {
		return 0
	}
	return shm.RelPtrTo(seg, unsafe.Pointer(c))
}
