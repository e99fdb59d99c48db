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

package daemon

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// regWorld maps the segments a REGISTER reply announced, the way a real
// application process would.
type regWorld struct {
	segs *shm.SegmentMap
	view *mempool.SegmentView
}

func mapRegisteredWorld(t *testing.T, resp *ipc.Response) *regWorld {
	t.Helper()

	w := &regWorld{segs: &shm.SegmentMap{}}

	mgmtSeg, err := shm.OpenSegment(resp.ManagementSegment.Name, false)
	require.NoError(t, err)
	t.Cleanup(func() { mgmtSeg.Close() })
	require.NoError(t, w.segs.Register(mgmtSeg))

	for _, info := range resp.Segments {
		seg, err := shm.OpenSegment(info.Name, false)
		require.NoError(t, err)
		t.Cleanup(func() { seg.Close() })
		require.NoError(t, w.segs.Register(seg))

		if seg.ID == resp.DataSegmentID {
			view, err := mempool.OpenView(seg)
			require.NoError(t, err)
			w.view = view
		}
	}
	require.NotNil(t, w.view, "data segment not announced")
	return w
}

func (w *regWorld) publisherPort(ref shm.RelPtr) *ports.PublisherPort {
	data := (*ports.PublisherPortData)(w.segs.Resolve(ref))
	return ports.NewPublisherPort(data, w.segs, w.view)
}

func (w *regWorld) subscriberPort(ref shm.RelPtr) *ports.SubscriberPort {
	data := (*ports.SubscriberPortData)(w.segs.Resolve(ref))
	return ports.NewSubscriberPort(data, w.segs)
}
