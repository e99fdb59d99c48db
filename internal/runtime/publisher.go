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
	"errors"
	"fmt"

	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// ErrPublisherExists mirrors the daemon's exclusive-publisher rejection.
var ErrPublisherExists = errors.New("runtime: publisher already exists for descriptor")

// PublisherOptions tune publisher port creation.
type PublisherOptions struct {
	// HistoryCapacity is the number of published chunks retained for late
	// joiners (capped at ports.MaxHistoryCapacity).
	HistoryCapacity uint32

	// AllocationBudget caps outstanding loaned chunks; 0 selects the default.
	AllocationBudget uint32
}

// Publisher is the application handle of a publisher port. Loan hands out
// chunks backed by the process's data segment; Publish moves them through
// the distributor without any copy.
type Publisher struct {
	rt   *Runtime
	port *ports.PublisherPort
	ref  shm.RelPtr
}

// CreatePublisher asks the daemon for a publisher port on the descriptor.
func (rt *Runtime) CreatePublisher(desc ports.ServiceDescriptor, opts PublisherOptions) (*Publisher, error) {
	resp, err := rt.request(&ipc.Request{
		Type:            ipc.TypeCreatePublisher,
		Service:         desc.Service,
		Instance:        desc.Instance,
		Event:           desc.Event,
		HistoryCapacity: opts.HistoryCapacity,
		Budget:          opts.AllocationBudget,
	})
	if err != nil {
		if resp != nil && resp.Code == ipc.CodePublisherAlreadyExists {
			return nil, ErrPublisherExists
		}
		return nil, err
	}

	ref := shm.RelPtr(resp.PortRef)
	data := (*ports.PublisherPortData)(rt.segMap.Resolve(ref))
	if data == nil {
		return nil, fmt.Errorf("runtime: publisher port %v not resolvable", ref)
	}

	return &Publisher{
		rt:   rt,
		port: ports.NewPublisherPort(data, rt.segMap, rt.dataView),
		ref:  ref,
	}, nil
}

// Loan allocates a chunk with room for payloadSize bytes. The caller owns
// the chunk until Publish or Release.
func (p *Publisher) Loan(payloadSize uint32) (*mempool.ChunkHeader, error) {
	return p.port.AllocateChunk(payloadSize, 0)
}

// Publish hands a loaned chunk to every attached subscriber and the
// history ring. The chunk must not be touched afterwards.
func (p *Publisher) Publish(c *mempool.ChunkHeader) {
	p.port.Publish(c)
}

// Release returns a loaned chunk without publishing it.
func (p *Publisher) Release(c *mempool.ChunkHeader) error {
	return p.port.ReleaseChunk(c)
}

// PublishBytes is the loan-copy-publish convenience for small samples.
func (p *Publisher) PublishBytes(payload []byte) error {
	c, err := p.Loan(uint32(len(payload)))
	if err != nil {
		return err
	}
	copy(c.PayloadCapacityBytes(), payload)
	c.SetPayloadSize(uint32(len(payload)))
	p.Publish(c)
	return nil
}

// Descriptor returns the port's service descriptor.
func (p *Publisher) Descriptor() ports.ServiceDescriptor {
	return p.port.Data.Descriptor()
}

// Destroy releases the port at the daemon.
func (p *Publisher) Destroy() error {
	_, err := p.rt.request(&ipc.Request{
		Type:     ipc.TypeDestroyPort,
		PortKind: ipc.PortKindPublisher,
		PortRef:  uint64(p.ref),
	})
	return err
}
