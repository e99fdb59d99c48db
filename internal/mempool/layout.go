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
	"fmt"
	"sort"
	"unsafe"

	"github.com/SyPeter/iceoryx/internal/shm"
)

// MaxPoolsPerSegment bounds the pool table of a data segment.
const MaxPoolsPerSegment = 32

// tableHeaderSize reserves one cache line after the segment header for the
// pool table header.
const tableHeaderSize = shm.CacheLineSize

// tableHeader sits at offset SegmentHeaderSize of a data segment.
type tableHeader struct {
	poolCount uint32
	reserved  [60]byte
}

// Entry declares one pool of a data segment: payload capacity and count.
type Entry struct {
	ChunkSize  uint32
	ChunkCount uint32
}

// poolPlacement is the computed layout of one pool inside the segment.
type poolPlacement struct {
	slotSize  uint64
	nextOff   uint64
	chunksOff uint64
}

// computeLayout sizes a data segment for the given entries. Entries must
// already be sorted ascending by chunk size.
func computeLayout(entries []Entry) (total uint64, placements []poolPlacement, err error) {
	if len(entries) == 0 {
		return 0, nil, fmt.Errorf("mempool: segment needs at least one pool")
	}
	if len(entries) > MaxPoolsPerSegment {
		return 0, nil, fmt.Errorf("mempool: %d pools exceed the maximum of %d", len(entries), MaxPoolsPerSegment)
	}

	off := uint64(shm.SegmentHeaderSize) + tableHeaderSize
	off += uint64(len(entries)) * PoolDescSize
	off = shm.AlignUp(off, shm.CacheLineSize)

	placements = make([]poolPlacement, len(entries))
	for i, e := range entries {
		if e.ChunkSize == 0 || e.ChunkCount == 0 {
			return 0, nil, fmt.Errorf("mempool: pool %d has zero size or count", i)
		}

		slot := shm.AlignUp(uint64(ChunkHeaderSize)+uint64(e.ChunkSize), shm.CacheLineSize)

		nextOff := off
		off += shm.AlignUp(uint64(e.ChunkCount)*4, shm.CacheLineSize)

		chunksOff := off
		off += uint64(e.ChunkCount) * slot

		placements[i] = poolPlacement{slotSize: slot, nextOff: nextOff, chunksOff: chunksOff}
	}

	return shm.AlignUp(off, shm.CacheLineSize), placements, nil
}

// SegmentSize returns the total byte size a data segment with the given
// pools will occupy.
func SegmentSize(entries []Entry) (uint64, error) {
	sorted := sortEntries(entries)
	total, _, err := computeLayout(sorted)
	return total, err
}

func sortEntries(entries []Entry) []Entry {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ChunkSize < sorted[j].ChunkSize })
	return sorted
}

// SegmentView is the process-local view of a data segment's pools.
type SegmentView struct {
	Seg   *shm.Segment
	pools []Pool
}

// InitDataSegment carves the mapped segment into pools and initializes
// every free-list. Single-threaded; runs in the daemon at startup before
// the segment is announced to anyone.
func InitDataSegment(seg *shm.Segment, entries []Entry) (*SegmentView, error) {
	sorted := sortEntries(entries)
	total, placements, err := computeLayout(sorted)
	if err != nil {
		return nil, err
	}
	if total > seg.Size() {
		return nil, fmt.Errorf("mempool: layout needs %d bytes, segment has %d", total, seg.Size())
	}

	th := (*tableHeader)(seg.At(shm.SegmentHeaderSize))
	th.poolCount = uint32(len(sorted))

	view := &SegmentView{Seg: seg, pools: make([]Pool, len(sorted))}
	for i, e := range sorted {
		d := descAt(seg, uint32(i))
		d.chunkSize = e.ChunkSize
		d.chunkCount = e.ChunkCount
		d.slotSize = placements[i].slotSize
		d.poolIndex = uint32(i)
		d.nextOff = placements[i].nextOff
		d.chunksOff = placements[i].chunksOff
		d.segmentID = seg.ID

		view.pools[i] = Pool{desc: d, seg: seg}
		view.pools[i].initFreeList()
	}

	return view, nil
}

// OpenView builds the pool view of an already initialized data segment.
func OpenView(seg *shm.Segment) (*SegmentView, error) {
	th := (*tableHeader)(seg.At(shm.SegmentHeaderSize))
	n := th.poolCount
	if n == 0 || n > MaxPoolsPerSegment {
		return nil, fmt.Errorf("mempool: segment %d has invalid pool count %d", seg.ID, n)
	}

	view := &SegmentView{Seg: seg, pools: make([]Pool, n)}
	for i := uint32(0); i < n; i++ {
		view.pools[i] = Pool{desc: descAt(seg, i), seg: seg}
	}
	return view, nil
}

func descAt(seg *shm.Segment, i uint32) *PoolDesc {
	off := uint64(shm.SegmentHeaderSize) + tableHeaderSize + uint64(i)*PoolDescSize
	return (*PoolDesc)(seg.At(off))
}

// PoolCount returns the number of pools in the segment.
func (v *SegmentView) PoolCount() int {
	return len(v.pools)
}

// Pool returns the i-th pool view.
func (v *SegmentView) Pool(i int) *Pool {
	return &v.pools[i]
}

// PoolForSize selects the smallest pool whose chunk size can hold
// payloadSize (user header included); ties break on the lowest index
// because pools are laid out sorted ascending.
func (v *SegmentView) PoolForSize(payloadSize uint32) (*Pool, error) {
	for i := range v.pools {
		if v.pools[i].desc.chunkSize >= payloadSize {
			return &v.pools[i], nil
		}
	}
	return nil, ErrNoFittingPool
}

// Allocate picks the fitting pool and pops one chunk, recording the
// requested payload size in the header.
func (v *SegmentView) Allocate(payloadSize, userHeaderSize uint32) (*ChunkHeader, error) {
	pool, err := v.PoolForSize(payloadSize + userHeaderSize)
	if err != nil {
		return nil, err
	}
	c, err := pool.Allocate()
	if err != nil {
		return nil, err
	}
	c.SetPayloadSize(payloadSize + userHeaderSize)
	c.SetUserHeaderSize(userHeaderSize)
	return c, nil
}

// ChunkRelPtr computes the cross-process reference of a chunk in this view.
func (v *SegmentView) ChunkRelPtr(c *ChunkHeader) shm.RelPtr {
	return shm.RelPtrTo(v.Seg, unsafe.Pointer(c))
}
