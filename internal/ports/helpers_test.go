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
	"fmt"
	"testing"
	"time"
	"unsafe"

	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// testWorld is the in-process stand-in for a daemon-laid-out deployment:
// one management segment, one data segment, one shared segment map.
type testWorld struct {
	segs *shm.SegmentMap
	mgmt *ManagementView
	view *mempool.SegmentView
}

// newTestWorld creates and maps the two segments with unique names and
// registers cleanup with the test.
func newTestWorld(t *testing.T, entries []mempool.Entry) *testWorld {
	t.Helper()

	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())

	mgmtName := "test-mgmt-" + suffix
	shm.RemoveSegment(mgmtName)
	mgmtSeg, err := shm.CreateSegment(mgmtName, 1, ManagementSegmentSize(), shm.CreateOptions{GID: -1})
	if err != nil {
		t.Fatalf("failed to create management segment: %v", err)
	}
	t.Cleanup(func() {
		mgmtSeg.Close()
		shm.RemoveSegment(mgmtName)
	})

	dataName := "test-data-" + suffix
	shm.RemoveSegment(dataName)
	size, err := mempool.SegmentSize(entries)
	if err != nil {
		t.Fatalf("SegmentSize failed: %v", err)
	}
	dataSeg, err := shm.CreateSegment(dataName, 2, size, shm.CreateOptions{GID: -1})
	if err != nil {
		t.Fatalf("failed to create data segment: %v", err)
	}
	t.Cleanup(func() {
		dataSeg.Close()
		shm.RemoveSegment(dataName)
	})

	view, err := mempool.InitDataSegment(dataSeg, entries)
	if err != nil {
		t.Fatalf("InitDataSegment failed: %v", err)
	}

	segs := &shm.SegmentMap{}
	if err := segs.Register(mgmtSeg); err != nil {
		t.Fatalf("Register mgmt failed: %v", err)
	}
	if err := segs.Register(dataSeg); err != nil {
		t.Fatalf("Register data failed: %v", err)
	}

	return &testWorld{
		segs: segs,
		mgmt: NewManagementView(mgmtSeg),
		view: view,
	}
}

// newPublisher allocates slot 0..n and initializes a publisher port.
func (w *testWorld) newPublisher(t *testing.T, desc ServiceDescriptor, historyCapacity, budget uint32) *PublisherPort {
	t.Helper()
	_, data, ok := w.mgmt.AllocPublisher()
	if !ok {
		t.Fatal("publisher pool exhausted")
	}
	InitPublisherData(data, desc, 0, 1, w.view.Seg.ID, historyCapacity, budget)
	return NewPublisherPort(data, w.segs, w.view)
}

// newSubscriber allocates and initializes a subscriber port, returning the
// wrapper and its cross-process reference.
func (w *testWorld) newSubscriber(t *testing.T, desc ServiceDescriptor, queueCapacity uint32, policy QueuePolicy, historyRequest uint32) (*SubscriberPort, shm.RelPtr) {
	t.Helper()
	_, data, ok := w.mgmt.AllocSubscriber()
	if !ok {
		t.Fatal("subscriber pool exhausted")
	}
	InitSubscriberData(data, desc, 0, 2, queueCapacity, policy, historyRequest)
	return NewSubscriberPort(data, w.segs), w.mgmt.RelPtrOf(unsafe.Pointer(data))
}

// publishByte loans a chunk, writes one byte, and publishes it.
func publishByte(t *testing.T, pub *PublisherPort, b byte) {
	t.Helper()
	c, err := pub.AllocateChunk(1, 0)
	if err != nil {
		t.Fatalf("AllocateChunk failed: %v", err)
	}
	c.PayloadCapacityBytes()[0] = b
	c.SetPayloadSize(1)
	pub.Publish(c)
}

// takeByte pops one chunk, reads its byte, and releases it.
func takeByte(t *testing.T, sub *SubscriberPort) (byte, bool) {
	t.Helper()
	c, err := sub.Take()
	if err != nil {
		return 0, false
	}
	b := c.PayloadBytes()[0]
	if err := sub.Release(c); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	return b, true
}

// poolUsed returns the used counter of the first pool.
func (w *testWorld) poolUsed() uint32 {
	return w.view.Pool(0).Desc().Used()
}

var testDesc = ServiceDescriptor{Service: "Radar", Instance: "Front", Event: "Object"}
