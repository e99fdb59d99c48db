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
	"errors"
	"sync/atomic"

	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/shm"
)

var (
	// ErrAllocationBudgetExceeded indicates too many outstanding chunks.
	ErrAllocationBudgetExceeded = errors.New("ports: allocation budget exceeded")

	// ErrTooManySubscribers indicates the distributor's subscriber set is full.
	ErrTooManySubscribers = errors.New("ports: too many subscribers")

	// ErrSubscriberGone indicates a delivery target vanished mid-push.
	ErrSubscriberGone = errors.New("ports: subscriber gone")
)

// Publisher port states.
const (
	PublisherStateNotOffered = uint32(0)
	PublisherStateOffered    = uint32(1)
)

// PublisherPortData is the shared-memory state of one publisher port. It
// lives in a management segment slot owned by the registering application,
// with the daemon holding a back-reference for cleanup.
type PublisherPortData struct {
	inUse            uint32 // 0x00: slot allocation flag (atomic, daemon only)
	state            uint32 // 0x04: PublisherState* (atomic)
	processIndex     uint32 // 0x08: owning process block index
	portID           uint32 // 0x0C: daemon-assigned port id
	dataSegmentID    uint32 // 0x10: segment publishes allocate from
	allocationBudget uint32 // 0x14: cap on outstanding chunks
	outstanding      uint32 // 0x18: chunks loaned and not yet published (atomic)
	pad              uint32 // 0x1C
	sequence         uint64 // 0x20: next sequence number (publisher-written)
	desc             descriptorData
	dist             DistributorData
}

// InUse reports whether the management slot is allocated.
func (d *PublisherPortData) InUse() bool {
	return atomic.LoadUint32(&d.inUse) != 0
}

// State returns the port state.
func (d *PublisherPortData) State() uint32 {
	return atomic.LoadUint32(&d.state)
}

// SetState sets the port state.
func (d *PublisherPortData) SetState(s uint32) {
	atomic.StoreUint32(&d.state, s)
}

// ProcessIndex returns the owning process block index.
func (d *PublisherPortData) ProcessIndex() uint32 {
	return d.processIndex
}

// PortID returns the daemon-assigned port id.
func (d *PublisherPortData) PortID() uint32 {
	return d.portID
}

// DataSegmentID returns the segment this publisher allocates from.
func (d *PublisherPortData) DataSegmentID() uint32 {
	return d.dataSegmentID
}

// Descriptor returns the port's service descriptor.
func (d *PublisherPortData) Descriptor() ServiceDescriptor {
	return d.desc.load()
}

// Outstanding returns the chunks currently loaned out.
func (d *PublisherPortData) Outstanding() uint32 {
	return atomic.LoadUint32(&d.outstanding)
}

// Distributor returns the embedded distributor state.
func (d *PublisherPortData) Distributor() *DistributorData {
	return &d.dist
}

// InitPublisherData prepares a freshly allocated slot. Daemon only.
func InitPublisherData(d *PublisherPortData, desc ServiceDescriptor, processIndex, portID, dataSegmentID, historyCapacity, budget uint32) {
	if budget == 0 {
		budget = DefaultAllocationBudget
	}
	d.processIndex = processIndex
	d.portID = portID
	d.dataSegmentID = dataSegmentID
	d.allocationBudget = budget
	atomic.StoreUint32(&d.outstanding, 0)
	atomic.StoreUint64(&d.sequence, 0)
	d.desc.store(desc)
	d.dist.init(historyCapacity)
	d.SetState(PublisherStateOffered)
}

// PublisherPort is the process-local handle over shared publisher state.
type PublisherPort struct {
	Data *PublisherPortData

	segs *shm.SegmentMap
	view *mempool.SegmentView
}

// NewPublisherPort wraps shared publisher state. view is the pool view of
// the port's data segment; only AllocateChunk and Publish use it.
func NewPublisherPort(data *PublisherPortData, segs *shm.SegmentMap, view *mempool.SegmentView) *PublisherPort {
	return &PublisherPort{Data: data, segs: segs, view: view}
}

// AllocateChunk loans one chunk from the port's data segment, counting it
// against the allocation budget.
func (p *PublisherPort) AllocateChunk(payloadSize, userHeaderSize uint32) (*mempool.ChunkHeader, error) {
	d := p.Data
	for {
		cur := atomic.LoadUint32(&d.outstanding)
		if cur >= d.allocationBudget {
			return nil, ErrAllocationBudgetExceeded
		}
		if atomic.CompareAndSwapUint32(&d.outstanding, cur, cur+1) {
			break
		}
	}

	c, err := p.view.Allocate(payloadSize, userHeaderSize)
	if err != nil {
		atomic.AddUint32(&d.outstanding, ^uint32(0))
		return nil, err
	}
	return c, nil
}

// ReleaseChunk returns a loaned chunk without publishing it.
func (p *PublisherPort) ReleaseChunk(c *mempool.ChunkHeader) error {
	atomic.AddUint32(&p.Data.outstanding, ^uint32(0))
	return mempool.Release(p.segs, c)
}

// Publish stamps the next sequence number and hands the chunk to the
// distributor. Ownership of the caller's reference moves with the call.
func (p *PublisherPort) Publish(c *mempool.ChunkHeader) {
	seq := atomic.AddUint64(&p.Data.sequence, 1)
	c.SetSequence(seq - 1)
	atomic.AddUint32(&p.Data.outstanding, ^uint32(0))
	p.deliver(c)
}

// releaseRef drops one reference on a chunk by RelPtr. Hot path: errors
// here are invariant violations surfaced by the daemon's reap accounting,
// not logged per delivery.
func (p *PublisherPort) releaseRef(ref shm.RelPtr) {
	if c, err := mempool.ResolveChunk(p.segs, shm.RelPtr(ref)); err == nil {
		mempool.Release(p.segs, c)
	}
}
