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

package runtime

import (
	"fmt"
	"time"

	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// ErrNoChunkAvailable mirrors ports.ErrNoChunkAvailable for callers.
var ErrNoChunkAvailable = ports.ErrNoChunkAvailable

// SubscriberOptions tune subscriber port creation.
type SubscriberOptions struct {
	// QueueCapacity bounds the chunk queue; 0 selects the default. Values
	// are rounded up to a power of two and capped at the build-time bound.
	QueueCapacity uint32

	// Policy selects the overflow behavior; DiscardOldest by default.
	Policy ports.QueuePolicy

	// HistoryRequest asks for up to that many retained chunks at attach.
	HistoryRequest uint32
}

// Subscriber is the application handle of a subscriber port.
type Subscriber struct {
	rt   *Runtime
	port *ports.SubscriberPort
	ref  shm.RelPtr
}

// CreateSubscriber asks the daemon for a subscriber port on the descriptor.
func (rt *Runtime) CreateSubscriber(desc ports.ServiceDescriptor, opts SubscriberOptions) (*Subscriber, error) {
	resp, err := rt.request(&ipc.Request{
		Type:           ipc.TypeCreateSubscriber,
		Service:        desc.Service,
		Instance:       desc.Instance,
		Event:          desc.Event,
		QueueCapacity:  opts.QueueCapacity,
		Policy:         uint32(opts.Policy),
		HistoryRequest: opts.HistoryRequest,
	})
	if err != nil {
		return nil, err
	}

	ref := shm.RelPtr(resp.PortRef)
	data := (*ports.SubscriberPortData)(rt.segMap.Resolve(ref))
	if data == nil {
		return nil, fmt.Errorf("runtime: subscriber port %v not resolvable", ref)
	}

	return &Subscriber{
		rt:   rt,
		port: ports.NewSubscriberPort(data, rt.segMap),
		ref:  ref,
	}, nil
}

// Take pops the oldest pending chunk; ErrNoChunkAvailable when the queue
// is empty. The caller owns one reference until Release.
func (s *Subscriber) Take() (*mempool.ChunkHeader, error) {
	return s.port.Take()
}

// TakeWithTimeout waits up to d for a chunk.
func (s *Subscriber) TakeWithTimeout(d time.Duration) (*mempool.ChunkHeader, error) {
	return s.port.TakeBlocking(d.Nanoseconds())
}

// Release drops the caller's reference on a taken chunk.
func (s *Subscriber) Release(c *mempool.ChunkHeader) error {
	return s.port.Release(c)
}

// PublisherGone reports whether the matched publisher is no longer
// offered; pending queue contents may still be drained.
func (s *Subscriber) PublisherGone() bool {
	return s.port.Data.State() == ports.SubscriberStatePublisherGone
}

// QueueSize returns the approximate pending chunk count.
func (s *Subscriber) QueueSize() uint64 {
	return s.port.Data.Queue().SizeSnapshot()
}

// Descriptor returns the port's service descriptor.
func (s *Subscriber) Descriptor() ports.ServiceDescriptor {
	return s.port.Data.Descriptor()
}

// Destroy releases the port at the daemon.
func (s *Subscriber) Destroy() error {
	_, err := s.rt.request(&ipc.Request{
		Type:     ipc.TypeDestroyPort,
		PortKind: ipc.PortKindSubscriber,
		PortRef:  uint64(s.ref),
	})
	return err
}
