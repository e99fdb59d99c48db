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
	"runtime"
	"sync/atomic"

	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// DistributorData is the shared state of a publisher's chunk distributor:
// a bounded set of subscriber references plus the history ring for late
// joiners.
//
// The subscriber slots are read lock-free by deliver; membership changes,
// history replay, and history mutation are serialized by a spin word that
// is only ever held briefly (slot store, ring push, replay of at most
// MaxHistoryCapacity entries). Live delivery pushes to queues without the
// lock; only the replay into a joining subscriber's queue runs under it.
type DistributorData struct {
	lock            uint32                             // 0x00: spin word (0 free, 1 held)
	subscriberCount uint32                             // 0x04: live slots, maintained under lock
	historyCapacity uint32                             // 0x08: H, fixed at port creation
	historyCount    uint32                             // 0x0C: entries in the ring, under lock
	historyHead     uint32                             // 0x10: index of the oldest entry, under lock
	pad             uint32                             // 0x14
	slots           [MaxSubscribersPerPublisher]uint64 // RelPtrs to SubscriberPortData (atomic)
	history         [MaxHistoryCapacity]uint64         // chunk RelPtrs, under lock
}

func (d *DistributorData) init(historyCapacity uint32) {
	if historyCapacity > MaxHistoryCapacity {
		historyCapacity = MaxHistoryCapacity
	}
	atomic.StoreUint32(&d.lock, 0)
	atomic.StoreUint32(&d.subscriberCount, 0)
	d.historyCapacity = historyCapacity
	d.historyCount = 0
	d.historyHead = 0
	for i := range d.slots {
		atomic.StoreUint64(&d.slots[i], 0)
	}
}

// HistoryCapacity returns H.
func (d *DistributorData) HistoryCapacity() uint32 {
	return d.historyCapacity
}

// SubscriberCount returns the approximate number of attached subscribers.
func (d *DistributorData) SubscriberCount() uint32 {
	return atomic.LoadUint32(&d.subscriberCount)
}

func (d *DistributorData) spinLock() {
	for !atomic.CompareAndSwapUint32(&d.lock, 0, 1) {
		runtime.Gosched()
	}
}

func (d *DistributorData) spinUnlock() {
	atomic.StoreUint32(&d.lock, 0)
}

// AddSubscriber appends a subscriber to the distributor and immediately
// replays up to min(H, historyRequest) of the most recent history entries,
// oldest first, into its queue. Adding an already attached subscriber is a
// no-op. Fails with ErrTooManySubscribers when the set is full.
func (p *PublisherPort) AddSubscriber(subRef shm.RelPtr, historyRequest uint32) error {
	d := &p.Data.dist
	sub := (*SubscriberPortData)(p.segs.Resolve(subRef))
	if sub == nil {
		return ErrSubscriberGone
	}

	d.spinLock()
	defer d.spinUnlock()

	free := -1
	for i := range d.slots {
		v := atomic.LoadUint64(&d.slots[i])
		if v == uint64(subRef) {
			return nil
		}
		if v == 0 && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return ErrTooManySubscribers
	}

	// Replay before the slot becomes visible: the publisher's concurrent
	// deliver scans slots lock-free, so the queue must not gain a second
	// pusher until the replay is done.
	n := historyRequest
	if n > d.historyCount {
		n = d.historyCount
	}
	for i := d.historyCount - n; i < d.historyCount; i++ {
		ref := shm.RelPtr(d.history[(d.historyHead+i)%MaxHistoryCapacity])
		c, err := mempool.ResolveChunk(p.segs, ref)
		if err != nil {
			continue
		}
		c.Ref()
		if err := p.pushWithPolicy(sub, subRef, ref); err != nil {
			mempool.Release(p.segs, c)
		}
	}

	atomic.StoreUint64(&d.slots[free], uint64(subRef))
	atomic.AddUint32(&d.subscriberCount, 1)
	return nil
}

// RemoveSubscriber detaches a subscriber by reference equality. Idempotent.
// After it returns no further deliveries are attempted to the queue;
// in-flight deliveries that already loaded the slot may still land, so
// consumers drain their queue after removal.
func (p *PublisherPort) RemoveSubscriber(subRef shm.RelPtr) {
	d := &p.Data.dist
	d.spinLock()
	defer d.spinUnlock()

	for i := range d.slots {
		if atomic.LoadUint64(&d.slots[i]) == uint64(subRef) {
			atomic.StoreUint64(&d.slots[i], 0)
			atomic.AddUint32(&d.subscriberCount, ^uint32(0))
		}
	}
}

// deliver fans a published chunk out to every attached subscriber and then
// retires the caller's reference into the history ring (or drops it when
// the ring capacity is zero). Per-subscriber enqueue order matches deliver
// order; nothing is promised across subscribers.
func (p *PublisherPort) deliver(c *mempool.ChunkHeader) {
	d := &p.Data.dist
	ref := p.view.ChunkRelPtr(c)

	for i := range d.slots {
		v := atomic.LoadUint64(&d.slots[i])
		if v == 0 {
			continue
		}
		subRef := shm.RelPtr(v)
		sub := (*SubscriberPortData)(p.segs.Resolve(subRef))
		if sub == nil {
			continue
		}

		c.Ref()
		if err := p.pushWithPolicy(sub, subRef, ref); err != nil {
			p.releaseRef(ref)
		}
	}

	d.spinLock()
	if d.historyCapacity > 0 {
		if d.historyCount == d.historyCapacity {
			oldest := shm.RelPtr(d.history[d.historyHead%MaxHistoryCapacity])
			d.historyHead++
			d.historyCount--
			p.releaseRef(oldest)
		}
		d.history[(d.historyHead+d.historyCount)%MaxHistoryCapacity] = uint64(ref)
		d.historyCount++
		d.spinUnlock()
	} else {
		d.spinUnlock()
		p.releaseRef(ref)
	}
}

// pushWithPolicy enqueues one reference applying the subscriber's overflow
// policy. The caller already took the reference being pushed.
func (p *PublisherPort) pushWithPolicy(sub *SubscriberPortData, subRef shm.RelPtr, ref shm.RelPtr) error {
	q := &sub.queue
	switch q.Policy() {
	case BlockProducer:
		// Bounded by the consumer's drain rate; a daemon-initiated detach
		// (slot cleared or subscriber state change) cancels the wait.
		for {
			if err := q.TryPush(ref); err == nil {
				return nil
			}
			if sub.State() != SubscriberStateSubscribed || !p.stillAttached(subRef) {
				return ErrSubscriberGone
			}
			runtime.Gosched()
		}
	default: // DiscardOldest
		for {
			if err := q.TryPush(ref); err == nil {
				return nil
			}
			if dropped, ok := q.TryPop(); ok {
				p.releaseRef(dropped)
			}
		}
	}
}

// stillAttached reports whether subRef is still in the subscriber set.
// Used only on the blocking push path.
func (p *PublisherPort) stillAttached(subRef shm.RelPtr) bool {
	d := &p.Data.dist
	for i := range d.slots {
		if atomic.LoadUint64(&d.slots[i]) == uint64(subRef) {
			return true
		}
	}
	return false
}

// ReleaseHistory drops every reference held by the history ring. Called on
// port destruction and by the daemon when reaping a dead publisher.
func (p *PublisherPort) ReleaseHistory() {
	d := &p.Data.dist
	d.spinLock()
	for i := uint32(0); i < d.historyCount; i++ {
		p.releaseRef(shm.RelPtr(d.history[(d.historyHead+i)%MaxHistoryCapacity]))
	}
	d.historyCount = 0
	d.historyHead = 0
	d.spinUnlock()
}

// DetachAll clears the whole subscriber set. Daemon reap path.
func (p *PublisherPort) DetachAll() {
	d := &p.Data.dist
	d.spinLock()
	for i := range d.slots {
		if atomic.LoadUint64(&d.slots[i]) != 0 {
			atomic.StoreUint64(&d.slots[i], 0)
			atomic.AddUint32(&d.subscriberCount, ^uint32(0))
		}
	}
	d.spinUnlock()
}
