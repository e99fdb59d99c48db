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

package ports

import (
	"sync/atomic"
	"unsafe"

	"github.com/SyPeter/iceoryx/internal/shm"
)

// ProcessNameCapacity bounds a registered process name.
const ProcessNameCapacity = 100

// ProcessBlock is the per-application management block inside the
// management segment. The daemon allocates one per REGISTER; the
// application receives its RelPtr in the reply. The daemon writes the
// keep-alive timestamp when it handles each KEEP_ALIVE message.
type ProcessBlock struct {
	inUse         uint32 // 0x00: slot allocation flag (atomic, daemon only)
	pid           uint32 // 0x04
	uid           uint32 // 0x08
	gid           uint32 // 0x0C
	sessionID     uint64 // 0x10: monotonic per registration
	keepAliveNs   uint64 // 0x18: last keep-alive, unix nanos (atomic)
	dataSegmentID uint32 // 0x20: data segment assigned to this process
	monitored     uint32 // 0x24: liveness monitoring enabled
	nameLen       uint32 // 0x28
	pad           uint32 // 0x2C
	name          [ProcessNameCapacity]byte
}

// InUse reports whether the block is allocated.
func (b *ProcessBlock) InUse() bool {
	return atomic.LoadUint32(&b.inUse) != 0
}

// PID returns the registered pid.
func (b *ProcessBlock) PID() uint32 { return b.pid }

// UID returns the registered uid.
func (b *ProcessBlock) UID() uint32 { return b.uid }

// GID returns the registered gid.
func (b *ProcessBlock) GID() uint32 { return b.gid }

// SessionID returns the session id of this registration.
func (b *ProcessBlock) SessionID() uint64 { return atomic.LoadUint64(&b.sessionID) }

// DataSegmentID returns the data segment assigned to this process.
func (b *ProcessBlock) DataSegmentID() uint32 { return b.dataSegmentID }

// Monitored reports whether liveness monitoring applies.
func (b *ProcessBlock) Monitored() bool { return atomic.LoadUint32(&b.monitored) != 0 }

// Name returns the registered process name.
func (b *ProcessBlock) Name() string { return string(b.name[:b.nameLen]) }

// KeepAlive records a keep-alive timestamp (unix nanoseconds).
func (b *ProcessBlock) KeepAlive(nowNs int64) {
	atomic.StoreUint64(&b.keepAliveNs, uint64(nowNs))
}

// LastKeepAliveNs returns the last keep-alive timestamp.
func (b *ProcessBlock) LastKeepAliveNs() int64 {
	return int64(atomic.LoadUint64(&b.keepAliveNs))
}

// InitProcessBlock fills a freshly allocated block. Daemon only.
func InitProcessBlock(b *ProcessBlock, name string, pid, uid, gid uint32, sessionID uint64, dataSegmentID uint32, monitored bool, nowNs int64) {
	b.pid = pid
	b.uid = uid
	b.gid = gid
	atomic.StoreUint64(&b.sessionID, sessionID)
	b.dataSegmentID = dataSegmentID
	if monitored {
		atomic.StoreUint32(&b.monitored, 1)
	} else {
		atomic.StoreUint32(&b.monitored, 0)
	}
	b.nameLen = uint32(copy(b.name[:], name))
	b.KeepAlive(nowNs)
}

// Management segment layout: three fixed pools after the segment header,
// each slot aligned to a cache line. The layout is a pure function of the
// build-time bounds, so daemon and applications compute identical offsets.
var (
	processBlockSlot   = shm.AlignUp(uint64(unsafe.Sizeof(ProcessBlock{})), shm.CacheLineSize)
	publisherPortSlot  = shm.AlignUp(uint64(unsafe.Sizeof(PublisherPortData{})), shm.CacheLineSize)
	subscriberPortSlot = shm.AlignUp(uint64(unsafe.Sizeof(SubscriberPortData{})), shm.CacheLineSize)

	processesOff   = uint64(shm.SegmentHeaderSize)
	publishersOff  = shm.AlignUp(processesOff+uint64(MaxProcesses)*processBlockSlot, shm.CacheLineSize)
	subscribersOff = shm.AlignUp(publishersOff+uint64(MaxPublishers)*publisherPortSlot, shm.CacheLineSize)
)

// ManagementSegmentSize returns the total size of the management segment.
func ManagementSegmentSize() uint64 {
	return shm.AlignUp(subscribersOff+uint64(MaxSubscribers)*subscriberPortSlot, shm.CacheLineSize)
}

// ManagementView is a process-local view over the management segment's
// pools. Slot allocation (the inUse flags) is exclusively the daemon's;
// applications only address slots handed to them by RelPtr.
type ManagementView struct {
	Seg *shm.Segment
}

// NewManagementView wraps a mapped management segment.
func NewManagementView(seg *shm.Segment) *ManagementView {
	return &ManagementView{Seg: seg}
}

// ProcessBlockAt returns the i-th process block.
func (v *ManagementView) ProcessBlockAt(i uint32) *ProcessBlock {
	return (*ProcessBlock)(v.Seg.At(processesOff + uint64(i)*processBlockSlot))
}

// PublisherAt returns the i-th publisher port slot.
func (v *ManagementView) PublisherAt(i uint32) *PublisherPortData {
	return (*PublisherPortData)(v.Seg.At(publishersOff + uint64(i)*publisherPortSlot))
}

// SubscriberAt returns the i-th subscriber port slot.
func (v *ManagementView) SubscriberAt(i uint32) *SubscriberPortData {
	return (*SubscriberPortData)(v.Seg.At(subscribersOff + uint64(i)*subscriberPortSlot))
}

// RelPtrOf computes the cross-process reference of a pointer inside the
// management segment.
func (v *ManagementView) RelPtrOf(p unsafe.Pointer) shm.RelPtr {
	return shm.RelPtrTo(v.Seg, p)
}

// AllocProcessBlock claims a free process block slot. Daemon only; the
// slot is claimed by a CAS on its in-use flag, so no outer lock is needed.
func (v *ManagementView) AllocProcessBlock() (uint32, *ProcessBlock, bool) {
	for i := uint32(0); i < MaxProcesses; i++ {
		b := v.ProcessBlockAt(i)
		if atomic.CompareAndSwapUint32(&b.inUse, 0, 1) {
			return i, b, true
		}
	}
	return 0, nil, false
}

// FreeProcessBlock returns a block to the pool.
func (v *ManagementView) FreeProcessBlock(i uint32) {
	atomic.StoreUint32(&v.ProcessBlockAt(i).inUse, 0)
}

// AllocPublisher claims a free publisher port slot. Daemon only.
func (v *ManagementView) AllocPublisher() (uint32, *PublisherPortData, bool) {
	for i := uint32(0); i < MaxPublishers; i++ {
		p := v.PublisherAt(i)
		if atomic.CompareAndSwapUint32(&p.inUse, 0, 1) {
			return i, p, true
		}
	}
	return 0, nil, false
}

// FreePublisher returns a publisher slot to the pool.
func (v *ManagementView) FreePublisher(i uint32) {
	atomic.StoreUint32(&v.PublisherAt(i).inUse, 0)
}

// AllocSubscriber claims a free subscriber port slot. Daemon only.
func (v *ManagementView) AllocSubscriber() (uint32, *SubscriberPortData, bool) {
	for i := uint32(0); i < MaxSubscribers; i++ {
		s := v.SubscriberAt(i)
		if atomic.CompareAndSwapUint32(&s.inUse, 0, 1) {
			return i, s, true
		}
	}
	return 0, nil, false
}

// FreeSubscriber returns a subscriber slot to the pool.
func (v *ManagementView) FreeSubscriber(i uint32) {
	atomic.StoreUint32(&v.SubscriberAt(i).inUse, 0)
}
