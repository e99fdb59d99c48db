/*
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
 */

package ports

import (
	"errors"
	"testing"
	"time"

	"github.com/SyPeter/iceoryx/internal/mempool"
)

var smallPools = []mempool.Entry{{ChunkSize: 128, ChunkCount: 16}}

func TestDeliverToSingleSubscriber(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	sub, subRef := w.newSubscriber(t, testDesc, 8, DiscardOldest, 0)

	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	for _, b := range []byte{1, 2, 3} {
		publishByte(t, pub, b)
	}

	for _, want := range []byte{1, 2, 3} {
		got, ok := takeByte(t, sub)
		if !ok {
			t.Fatalf("expected chunk %d, queue empty", want)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
	if _, err := sub.Take(); !errors.Is(err, ErrNoChunkAvailable) {
		t.Fatalf("expected ErrNoChunkAvailable, got %v", err)
	}

	// History capacity 0: nothing retained, all refcounts back to baseline.
	if used := w.poolUsed(); used != 0 {
		t.Fatalf("pool used = %d after drain, want 0", used)
	}
}

func TestDeliverWithoutSubscribersKeepsBaseline(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)

	publishByte(t, pub, 42)

	if used := w.poolUsed(); used != 0 {
		t.Fatalf("pool used = %d, want 0 (no subscribers, no history)", used)
	}
	if pub.Data.Outstanding() != 0 {
		t.Fatalf("outstanding = %d, want 0", pub.Data.Outstanding())
	}
}

func TestHistoryReplayForLateJoiner(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 2, 8)

	for _, b := range []byte{10, 20, 30, 40} {
		publishByte(t, pub, b)
	}

	// Late joiner asks for 3; the ring only holds 2, so it gets [30, 40]
	// oldest first, then lives.
	sub, subRef := w.newSubscriber(t, testDesc, 8, DiscardOldest, 3)
	if err := pub.AddSubscriber(subRef, 3); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	publishByte(t, pub, 50)

	for _, want := range []byte{30, 40, 50} {
		got, ok := takeByte(t, sub)
		if !ok {
			t.Fatalf("expected chunk %d, queue empty", want)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
}

func TestDiscardOldestOnSlowConsumer(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	sub, subRef := w.newSubscriber(t, testDesc, 2, DiscardOldest, 0)

	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	// Queue capacity 2, four publishes without a consume in between: the
	// consumer ends up with the newest two, order preserved.
	for _, b := range []byte{'a', 'b', 'c', 'd'} {
		publishByte(t, pub, b)
	}

	for _, want := range []byte{'c', 'd'} {
		got, ok := takeByte(t, sub)
		if !ok {
			t.Fatalf("expected chunk %c, queue empty", want)
		}
		if got != want {
			t.Fatalf("got %c, want %c", got, want)
		}
	}
	if _, ok := takeByte(t, sub); ok {
		t.Fatal("queue should be empty")
	}
	if used := w.poolUsed(); used != 0 {
		t.Fatalf("pool used = %d after drain, want 0 (dropped chunks must be released)", used)
	}
}

func TestAddRemoveSubscriberIdempotence(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	_, subRef := w.newSubscriber(t, testDesc, 8, DiscardOldest, 0)

	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}
	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("re-AddSubscriber must be a no-op, got %v", err)
	}
	if n := pub.Data.Distributor().SubscriberCount(); n != 1 {
		t.Fatalf("subscriber count = %d, want 1", n)
	}

	pub.RemoveSubscriber(subRef)
	if n := pub.Data.Distributor().SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count after remove = %d, want 0", n)
	}

	// The second remove is a no-op.
	pub.RemoveSubscriber(subRef)
	if n := pub.Data.Distributor().SubscriberCount(); n != 0 {
		t.Fatalf("subscriber count after double remove = %d, want 0", n)
	}
}

func TestTooManySubscribers(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)

	for i := 0; i < MaxSubscribersPerPublisher; i++ {
		_, subRef := w.newSubscriber(t, testDesc, 4, DiscardOldest, 0)
		if err := pub.AddSubscriber(subRef, 0); err != nil {
			t.Fatalf("AddSubscriber %d failed: %v", i, err)
		}
	}

	_, subRef := w.newSubscriber(t, testDesc, 4, DiscardOldest, 0)
	if err := pub.AddSubscriber(subRef, 0); !errors.Is(err, ErrTooManySubscribers) {
		t.Fatalf("expected ErrTooManySubscribers, got %v", err)
	}
}

func TestAllocationBudget(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 2)

	c1, err := pub.AllocateChunk(8, 0)
	if err != nil {
		t.Fatalf("first loan failed: %v", err)
	}
	c2, err := pub.AllocateChunk(8, 0)
	if err != nil {
		t.Fatalf("second loan failed: %v", err)
	}

	if _, err := pub.AllocateChunk(8, 0); !errors.Is(err, ErrAllocationBudgetExceeded) {
		t.Fatalf("expected ErrAllocationBudgetExceeded, got %v", err)
	}

	// Publishing or releasing frees budget again.
	pub.Publish(c1)
	if _, err := pub.AllocateChunk(8, 0); err != nil {
		t.Fatalf("loan after publish failed: %v", err)
	}
	if err := pub.ReleaseChunk(c2); err != nil {
		t.Fatalf("ReleaseChunk failed: %v", err)
	}
}

func TestBlockProducerPolicy(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	sub, subRef := w.newSubscriber(t, testDesc, 2, BlockProducer, 0)

	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	publishByte(t, pub, 1)
	publishByte(t, pub, 2)

	// The third publish blocks until the consumer drains one slot.
	done := make(chan struct{})
	go func() {
		defer close(done)
		publishByte(t, pub, 3)
	}()

	select {
	case <-done:
		t.Fatal("publish should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	if b, ok := takeByte(t, sub); !ok || b != 1 {
		t.Fatalf("takeByte = (%d, %v), want (1, true)", b, ok)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish did not unblock after consumer drained")
	}

	for _, want := range []byte{2, 3} {
		got, ok := takeByte(t, sub)
		if !ok || got != want {
			t.Fatalf("takeByte = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestBlockProducerCanceledByDetach(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	_, subRef := w.newSubscriber(t, testDesc, 1, BlockProducer, 0)

	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	publishByte(t, pub, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		publishByte(t, pub, 2)
	}()

	time.Sleep(50 * time.Millisecond)
	pub.RemoveSubscriber(subRef)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("detach must cancel a blocked delivery")
	}
}

func TestReleaseHistoryDropsRefcounts(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 4, 8)

	for i := byte(0); i < 4; i++ {
		publishByte(t, pub, i)
	}
	if used := w.poolUsed(); used != 4 {
		t.Fatalf("pool used = %d, want 4 held by history", used)
	}

	pub.ReleaseHistory()
	if used := w.poolUsed(); used != 0 {
		t.Fatalf("pool used = %d after ReleaseHistory, want 0", used)
	}
}

func TestHistoryEvictionIsFIFO(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 2, 8)

	// Publish 3 with capacity 2: the first is evicted and returns to the
	// pool; the ring holds the last two.
	for _, b := range []byte{1, 2, 3} {
		publishByte(t, pub, b)
	}
	if used := w.poolUsed(); used != 2 {
		t.Fatalf("pool used = %d, want 2", used)
	}

	sub, subRef := w.newSubscriber(t, testDesc, 8, DiscardOldest, 2)
	if err := pub.AddSubscriber(subRef, 2); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}
	for _, want := range []byte{2, 3} {
		got, ok := takeByte(t, sub)
		if !ok || got != want {
			t.Fatalf("takeByte = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestPublishedSequenceNumbers(t *testing.T) {
	w := newTestWorld(t, smallPools)
	pub := w.newPublisher(t, testDesc, 0, 8)
	sub, subRef := w.newSubscriber(t, testDesc, 8, DiscardOldest, 0)
	if err := pub.AddSubscriber(subRef, 0); err != nil {
		t.Fatalf("AddSubscriber failed: %v", err)
	}

	for i := byte(0); i < 3; i++ {
		publishByte(t, pub, i)
	}
	for want := uint64(0); want < 3; want++ {
		c, err := sub.Take()
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if c.Sequence() != want {
			t.Fatalf("sequence = %d, want %d", c.Sequence(), want)
		}
		sub.Release(c)
	}
}
