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

	"github.com/SyPeter/iceoryx/internal/shm"
)

// ErrQueueFull indicates a push against a full queue under a non-blocking
// policy. Returned to the caller without logging; this is hot-path flow.
var ErrQueueFull = errors.New("ports: chunk queue full")

// QueuePolicy selects a subscriber's overflow behavior.
type QueuePolicy uint32

const (
	// DiscardOldest drops the oldest queued chunk to make room.
	DiscardOldest QueuePolicy = 0

	// BlockProducer couples the producer to this subscriber's drain rate.
	// Must be explicitly selected on the subscriber side.
	BlockProducer QueuePolicy = 1
)

// ChunkQueue is a bounded FIFO of chunk references in shared memory, with
// one pushing distributor and one popping consumer. head and tail are
// monotonic; Go's atomics give the required release/acquire ordering, so a
// chunk reference loaded through TryPop happens-after every payload write
// that preceded its push.
//
// The pop side uses CAS on head because the discard-oldest overflow path
// lets the producer pop the oldest entry concurrently with the consumer.
type ChunkQueue struct {
	capacity uint64 // 0x00: effective capacity, power of two
	head     uint64 // 0x08: consumer index, monotonic (atomic)
	tail     uint64 // 0x10: producer index, monotonic (atomic)
	policy   uint32 // 0x18: QueuePolicy
	dataSeq  uint32 // 0x1C: futex word, bumped on empty -> non-empty
	entries  [MaxChunkQueueCapacity]uint64
}

// init prepares the queue. capacity is clamped to a power of two within
// [1, MaxChunkQueueCapacity]; 0 selects the default.
func (q *ChunkQueue) init(capacity uint32, policy QueuePolicy) {
	if capacity == 0 {
		capacity = DefaultChunkQueueCapacity
	}
	c := shm.NextPowerOfTwo(uint64(capacity))
	if c > MaxChunkQueueCapacity {
		c = MaxChunkQueueCapacity
	}
	atomic.StoreUint64(&q.capacity, c)
	atomic.StoreUint64(&q.head, 0)
	atomic.StoreUint64(&q.tail, 0)
	atomic.StoreUint32(&q.policy, uint32(policy))
	atomic.StoreUint32(&q.dataSeq, 0)
}

// Capacity returns the effective queue capacity.
func (q *ChunkQueue) Capacity() uint64 {
	return atomic.LoadUint64(&q.capacity)
}

// Policy returns the subscriber's overflow policy.
func (q *ChunkQueue) Policy() QueuePolicy {
	return QueuePolicy(atomic.LoadUint32(&q.policy))
}

// TryPush enqueues one chunk reference; ErrQueueFull when no space.
// Single producer: only the matched publisher's distributor pushes.
func (q *ChunkQueue) TryPush(ref shm.RelPtr) error {
	c := atomic.LoadUint64(&q.capacity)
	t := atomic.LoadUint64(&q.tail)
	h := atomic.LoadUint64(&q.head)
	if t-h >= c {
		return ErrQueueFull
	}

	atomic.StoreUint64(&q.entries[t&(c-1)], uint64(ref))
	atomic.StoreUint64(&q.tail, t+1)

	// Wake a blocked consumer only on the empty -> non-empty transition.
	if t == h {
		atomic.AddUint32(&q.dataSeq, 1)
		shm.FutexWake(&q.dataSeq, 1)
	}
	return nil
}

// TryPop dequeues the oldest chunk reference. The popped reference count
// transfers to the caller.
func (q *ChunkQueue) TryPop() (shm.RelPtr, bool) {
	c := atomic.LoadUint64(&q.capacity)
	for {
		h := atomic.LoadUint64(&q.head)
		t := atomic.LoadUint64(&q.tail)
		if h == t {
			return 0, false
		}

		// The slot cannot be overwritten before head moves past h, so the
		// value read here is the one our CAS claims.
		v := atomic.LoadUint64(&q.entries[h&(c-1)])
		if atomic.CompareAndSwapUint64(&q.head, h, h+1) {
			return shm.RelPtr(v), true
		}
	}
}

// SizeSnapshot returns an approximate queue length.
func (q *ChunkQueue) SizeSnapshot() uint64 {
	t := atomic.LoadUint64(&q.tail)
	h := atomic.LoadUint64(&q.head)
	if t < h {
		return 0
	}
	return t - h
}

// Clear pops every pending reference and hands each to release.
func (q *ChunkQueue) Clear(release func(shm.RelPtr)) {
	for {
		ref, ok := q.TryPop()
		if !ok {
			return
		}
		release(ref)
	}
}

// DataSeq returns the current wake sequence; WaitNotEmpty blocks until the
// sequence moves on from it or the timeout elapses. Consumers re-check the
// queue after every return.
func (q *ChunkQueue) DataSeq() uint32 {
	return atomic.LoadUint32(&q.dataSeq)
}

// WaitNotEmpty futex-waits on the wake sequence. timeoutNs <= 0 waits
// without a deadline.
func (q *ChunkQueue) WaitNotEmpty(seq uint32, timeoutNs int64) error {
	return shm.FutexWaitTimeout(&q.dataSeq, seq, timeoutNs)
}
