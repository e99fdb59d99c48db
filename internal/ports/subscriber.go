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

// ErrNoChunkAvailable indicates an empty subscriber queue.
var ErrNoChunkAvailable = errors.New("ports: no chunk available")

// Subscriber port states. PublisherGone is the well-defined terminal state
// a subscriber observes after the daemon reaped its matched publisher.
const (
	SubscriberStateIdle          = uint32(0)
	SubscriberStateSubscribed    = uint32(1)
	SubscriberStatePublisherGone = uint32(2)
)

// SubscriberPortData is the shared-memory state of one subscriber port.
type SubscriberPortData struct {
	inUse          uint32 // 0x00: slot allocation flag (atomic, daemon only)
	state          uint32 // 0x04: SubscriberState* (atomic)
	processIndex   uint32 // 0x08: owning process block index
	portID         uint32 // 0x0C: daemon-assigned port id
	historyRequest uint32 // 0x10: history chunks requested at attach
	pad            uint32 // 0x14
	desc           descriptorData
	queue          ChunkQueue
}

// InUse reports whether the management slot is allocated.
func (d *SubscriberPortData) InUse() bool {
	return atomic.LoadUint32(&d.inUse) != 0
}

// State returns the subscription state.
func (d *SubscriberPortData) State() uint32 {
	return atomic.LoadUint32(&d.state)
}

// SetState sets the subscription state.
func (d *SubscriberPortData) SetState(s uint32) {
	atomic.StoreUint32(&d.state, s)
}

// ProcessIndex returns the owning process block index.
func (d *SubscriberPortData) ProcessIndex() uint32 {
	return d.processIndex
}

// PortID returns the daemon-assigned port id.
func (d *SubscriberPortData) PortID() uint32 {
	return d.portID
}

// HistoryRequest returns the history depth requested at creation.
func (d *SubscriberPortData) HistoryRequest() uint32 {
	return d.historyRequest
}

// Descriptor returns the port's service descriptor.
func (d *SubscriberPortData) Descriptor() ServiceDescriptor {
	return d.desc.load()
}

// Queue returns the embedded chunk queue.
func (d *SubscriberPortData) Queue() *ChunkQueue {
	return &d.queue
}

// InitSubscriberData prepares a freshly allocated slot. Daemon only.
func InitSubscriberData(d *SubscriberPortData, desc ServiceDescriptor, processIndex, portID, queueCapacity uint32, policy QueuePolicy, historyRequest uint32) {
	d.processIndex = processIndex
	d.portID = portID
	d.historyRequest = historyRequest
	d.desc.store(desc)
	d.queue.init(queueCapacity, policy)
	d.SetState(SubscriberStateSubscribed)
}

// SubscriberPort is the process-local handle over shared subscriber state.
type SubscriberPort struct {
	Data *SubscriberPortData

	segs *shm.SegmentMap
}

// NewSubscriberPort wraps shared subscriber state.
func NewSubscriberPort(data *SubscriberPortData, segs *shm.SegmentMap) *SubscriberPort {
	return &SubscriberPort{Data: data, segs: segs}
}

// Take pops the oldest queued chunk. The caller owns one reference until
// it releases the chunk.
func (s *SubscriberPort) Take() (*mempool.ChunkHeader, error) {
	ref, ok := s.Data.queue.TryPop()
	if !ok {
		return nil, ErrNoChunkAvailable
	}
	return mempool.ResolveChunk(s.segs, ref)
}

// TakeBlocking waits up to timeoutNs for a chunk. timeoutNs <= 0 blocks
// without deadline. Returns ErrNoChunkAvailable on timeout.
func (s *SubscriberPort) TakeBlocking(timeoutNs int64) (*mempool.ChunkHeader, error) {
	for {
		seq := s.Data.queue.DataSeq()
		if c, err := s.Take(); err == nil {
			return c, nil
		}
		if s.Data.State() == SubscriberStatePublisherGone && s.Data.queue.SizeSnapshot() == 0 {
			return nil, ErrNoChunkAvailable
		}
		if err := s.Data.queue.WaitNotEmpty(seq, timeoutNs); err != nil {
			if errors.Is(err, shm.ErrFutexTimeout) {
				return nil, ErrNoChunkAvailable
			}
			return nil, err
		}
	}
}

// Release drops the caller's reference on a taken chunk.
func (s *SubscriberPort) Release(c *mempool.ChunkHeader) error {
	return mempool.Release(s.segs, c)
}

// Clear releases every pending queue entry. Used on unsubscribe and by the
// daemon when reaping a dead owner.
func (s *SubscriberPort) Clear() {
	s.Data.queue.Clear(func(ref shm.RelPtr) {
		if c, err := mempool.ResolveChunk(s.segs, ref); err == nil {
			mempool.Release(s.segs, c)
		}
	})
}
