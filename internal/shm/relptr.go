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

package shm

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// A RelPtr is a cross-process reference into a shared memory segment:
// the segment id in the top 16 bits, the byte offset in the low 48. The
// same RelPtr resolves to the same shared bytes in every process that has
// the segment mapped, regardless of where the mapping landed. The zero
// value is the nil reference.
//
// Offset 0 is the segment header, which no RelPtr ever refers to, so the
// zero value cannot collide with a valid reference.
type RelPtr uint64

const (
	// MaxSegments bounds the per-process segment table. Segment ids are
	// assigned from 1; id 0 is invalid.
	MaxSegments = 16

	relPtrOffsetBits = 48
	relPtrOffsetMask = (uint64(1) << relPtrOffsetBits) - 1
)

// MakeRelPtr builds a RelPtr from a segment id and byte offset.
func MakeRelPtr(segmentID uint32, offset uint64) RelPtr {
	return RelPtr(uint64(segmentID)<<relPtrOffsetBits | (offset & relPtrOffsetMask))
}

// IsNil reports whether r is the nil reference.
func (r RelPtr) IsNil() bool {
	return r == 0
}

// SegmentID returns the segment id part.
func (r RelPtr) SegmentID() uint32 {
	return uint32(uint64(r) >> relPtrOffsetBits)
}

// Offset returns the byte offset part.
func (r RelPtr) Offset() uint64 {
	return uint64(r) & relPtrOffsetMask
}

// String implements fmt.Stringer for diagnostics.
func (r RelPtr) String() string {
	return fmt.Sprintf("seg=%d+0x%x", r.SegmentID(), r.Offset())
}

// SegmentMap is the per-process table mapping segment ids to local mapped
// base addresses. Dereferencing a RelPtr is base[segment_id] + offset.
// Registration happens at registration/startup time; resolution on the
// data path is a single atomic load plus pointer arithmetic.
type SegmentMap struct {
	bases [MaxSegments + 1]atomic.Pointer[Segment]
}

// Register installs a mapped segment under its id. Re-registering an id
// replaces the previous mapping.
func (m *SegmentMap) Register(seg *Segment) error {
	if seg.ID == 0 || seg.ID > MaxSegments {
		return fmt.Errorf("shm: segment id %d out of range", seg.ID)
	}
	m.bases[seg.ID].Store(seg)
	return nil
}

// Deregister removes the mapping for the given id.
func (m *SegmentMap) Deregister(id uint32) {
	if id == 0 || id > MaxSegments {
		return
	}
	m.bases[id].Store(nil)
}

// Segment returns the mapped segment for an id, or nil.
func (m *SegmentMap) Segment(id uint32) *Segment {
	if id == 0 || id > MaxSegments {
		return nil
	}
	return m.bases[id].Load()
}

// Resolve turns a RelPtr into a local pointer, or nil when the reference
// is nil or its segment is not mapped in this process.
func (m *SegmentMap) Resolve(r RelPtr) unsafe.Pointer {
	if r.IsNil() {
		return nil
	}
	seg := m.Segment(r.SegmentID())
	if seg == nil {
		return nil
	}
	off := r.Offset()
	if off >= uint64(len(seg.Mem)) {
		return nil
	}
	return unsafe.Pointer(&seg.Mem[off])
}

// RelPtrTo computes the RelPtr of a pointer known to lie inside seg.
func RelPtrTo(seg *Segment, p unsafe.Pointer) RelPtr {
	base := uintptr(unsafe.Pointer(&seg.Mem[0]))
	return MakeRelPtr(seg.ID, uint64(uintptr(p)-base))
}
