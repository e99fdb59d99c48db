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
	"github.com/pkg/errors"
	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/shm"
)

// GroupSpec declares the data segment of one POSIX group: its pools plus
// the group that may map it writable. GID < 0 means no group restriction.
type GroupSpec struct {
	Name    string
	GID     int
	Entries []Entry
}

// ManagedSegment is one data segment owned by the segment manager.
type ManagedSegment struct {
	Name string
	GID  int
	View *SegmentView
}

// SegmentManager creates the data segments at daemon startup and owns them
// for the daemon's lifetime. All segments are unlinked on shutdown.
type SegmentManager struct {
	segments []*ManagedSegment
	logger   log.ErrorLogger
}

// NewSegmentManager lays out one data segment per group, initializes the
// pools, and registers every segment in the process segment map. Segment
// ids are assigned sequentially from firstID.
func NewSegmentManager(groups []GroupSpec, firstID uint32, instance [16]byte, segMap *shm.SegmentMap, logger log.ErrorLogger) (*SegmentManager, error) {
	m := &SegmentManager{logger: logger}

	id := firstID
	for _, g := range groups {
		size, err := SegmentSize(g.Entries)
		if err != nil {
			m.Shutdown()
			return nil, errors.Wrapf(err, "segment layout for group %q", g.Name)
		}

		perm := shm.CreateOptions{Permissions: 0660, GID: g.GID, Purge: true}
		if g.GID < 0 {
			perm.Permissions = 0666
		}

		seg, err := shm.CreateSegment("data_"+g.Name, id, size, perm)
		if err != nil {
			m.Shutdown()
			return nil, errors.Wrapf(err, "create segment for group %q", g.Name)
		}
		seg.Header().SetInstanceID(instance)

		view, err := InitDataSegment(seg, g.Entries)
		if err != nil {
			seg.Close()
			seg.Unlink()
			m.Shutdown()
			return nil, errors.Wrapf(err, "init segment for group %q", g.Name)
		}
		seg.Header().SetReady(true)

		if err := segMap.Register(seg); err != nil {
			seg.Close()
			seg.Unlink()
			m.Shutdown()
			return nil, err
		}

		m.segments = append(m.segments, &ManagedSegment{Name: g.Name, GID: g.GID, View: view})
		logger.Infof("segment manager: created segment %d for group %q with %d pools, %d bytes",
			id, g.Name, view.PoolCount(), size)
		id++
	}

	return m, nil
}

// Segments returns all managed data segments.
func (m *SegmentManager) Segments() []*ManagedSegment {
	return m.segments
}

// SegmentFor selects the data segment for a registering process: the
// segment of its primary group, or the first unrestricted segment.
func (m *SegmentManager) SegmentFor(gid uint32) *ManagedSegment {
	for _, s := range m.segments {
		if s.GID >= 0 && uint32(s.GID) == gid {
			return s
		}
	}
	for _, s := range m.segments {
		if s.GID < 0 {
			return s
		}
	}
	return nil
}

// ViewByID returns the pool view of a managed segment by segment id.
func (m *SegmentManager) ViewByID(id uint32) *SegmentView {
	for _, s := range m.segments {
		if s.View.Seg.ID == id {
			return s.View
		}
	}
	return nil
}

// Shutdown marks every managed segment closed, then unmaps and unlinks it.
// Still-running applications keep their mappings and see the closed flag;
// the magic word is left as it is, and new opens fail on the missing file.
func (m *SegmentManager) Shutdown() {
	for _, s := range m.segments {
		seg := s.View.Seg
		seg.Header().SetClosed(true)
		if err := seg.Close(); err != nil && m.logger != nil {
			m.logger.Errorf("segment manager: close %q: %v", s.Name, err)
		}
		if err := seg.Unlink(); err != nil && m.logger != nil {
			m.logger.Errorf("segment manager: unlink %q: %v", s.Name, err)
		}
	}
	m.segments = nil
}
