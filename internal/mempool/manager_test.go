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

package mempool

import (
	"fmt"
	"testing"
	"time"

	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/shm"
)

func testLogger(t *testing.T) log.ErrorLogger {
	t.Helper()
	lg, err := log.GetOrCreateLogger("", nil)
	if err != nil {
		t.Fatalf("GetOrCreateLogger failed: %v", err)
	}
	return &log.SimpleErrorLog{Logger: lg, Formatter: log.DefaultFormatter, Level: log.ERROR}
}

func TestSegmentManagerLifecycle(t *testing.T) {
	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	groups := []GroupSpec{
		{Name: "a-" + suffix, GID: -1, Entries: []Entry{{ChunkSize: 128, ChunkCount: 4}}},
		{Name: "b-" + suffix, GID: -1, Entries: []Entry{{ChunkSize: 256, ChunkCount: 2}}},
	}

	var inst [16]byte
	copy(inst[:], "test-instance-00")

	segMap := &shm.SegmentMap{}
	m, err := NewSegmentManager(groups, 2, inst, segMap, testLogger(t))
	if err != nil {
		t.Fatalf("NewSegmentManager failed: %v", err)
	}

	if len(m.Segments()) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(m.Segments()))
	}

	// Sequential ids from firstID; views resolvable by id; registered in
	// the shared segment map.
	for i, s := range m.Segments() {
		wantID := uint32(2 + i)
		if s.View.Seg.ID != wantID {
			t.Fatalf("segment %d has id %d, want %d", i, s.View.Seg.ID, wantID)
		}
		if m.ViewByID(wantID) != s.View {
			t.Fatalf("ViewByID(%d) mismatch", wantID)
		}
		if segMap.Segment(wantID) == nil {
			t.Fatalf("segment %d not registered in map", wantID)
		}
		if s.View.Seg.Header().InstanceID() != inst {
			t.Fatal("instance id not stamped")
		}
	}

	// An unrestricted segment serves any gid.
	if m.SegmentFor(12345) == nil {
		t.Fatal("SegmentFor found no segment for arbitrary gid")
	}

	names := []string{"data_" + groups[0].Name, "data_" + groups[1].Name}
	m.Shutdown()
	for _, n := range names {
		if _, err := shm.OpenSegment(n, true); err == nil {
			t.Fatalf("segment %s still present after Shutdown", n)
		}
	}
}

func TestSegmentManagerGroupSelection(t *testing.T) {
	suffix := fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano())
	groups := []GroupSpec{
		{Name: "sensors-" + suffix, GID: 4242, Entries: []Entry{{ChunkSize: 128, ChunkCount: 2}}},
		{Name: "open-" + suffix, GID: -1, Entries: []Entry{{ChunkSize: 128, ChunkCount: 2}}},
	}

	var inst [16]byte
	segMap := &shm.SegmentMap{}
	m, err := NewSegmentManager(groups, 2, inst, segMap, testLogger(t))
	if err != nil {
		t.Fatalf("NewSegmentManager failed: %v", err)
	}
	defer m.Shutdown()

	if got := m.SegmentFor(4242); got == nil || got.Name != groups[0].Name {
		t.Fatalf("gid 4242 not routed to its group segment")
	}
	if got := m.SegmentFor(99); got == nil || got.Name != groups[1].Name {
		t.Fatalf("unknown gid not routed to the unrestricted segment")
	}
}
