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

package daemon

import (
	"errors"
	"sync"
	"unsafe"

	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

var (
	// ErrOutOfPorts indicates the management segment's port pools are empty.
	ErrOutOfPorts = errors.New("daemon: out of ports")

	// ErrPortQuotaExceeded indicates one process owns too many ports.
	ErrPortQuotaExceeded = errors.New("daemon: per-process port quota exceeded")

	// ErrPublisherAlreadyExists enforces one publisher per descriptor.
	ErrPublisherAlreadyExists = errors.New("daemon: publisher already exists for descriptor")

	// ErrNoSuchPort indicates a DESTROY_PORT reference that matches nothing.
	ErrNoSuchPort = errors.New("daemon: no such port")
)

// PortManager owns the port pools inside the management segment, the
// descriptor index, and the matching algorithm. All mutation happens on
// daemon goroutines under its mutex; the shared port structures themselves
// are written with the same atomics the applications use.
type PortManager struct {
	mu     sync.Mutex
	mgmt   *ports.ManagementView
	segs   *shm.SegmentMap
	segmgr *mempool.SegmentManager
	logger log.ErrorLogger

	nextPortID  uint32
	publishers  map[string]uint32   // descriptor key -> publisher slot
	subscribers map[string][]uint32 // descriptor key -> subscriber slots, attach order
}

// NewPortManager builds a port manager over a mapped management segment.
func NewPortManager(mgmt *ports.ManagementView, segs *shm.SegmentMap, segmgr *mempool.SegmentManager, logger log.ErrorLogger) *PortManager {
	return &PortManager{
		mgmt:        mgmt,
		segs:        segs,
		segmgr:      segmgr,
		logger:      logger,
		publishers:  make(map[string]uint32),
		subscribers: make(map[string][]uint32),
	}
}

// publisherPort wraps a publisher slot with its pool view for wiring work.
func (pm *PortManager) publisherPort(data *ports.PublisherPortData) *ports.PublisherPort {
	return ports.NewPublisherPort(data, pm.segs, pm.segmgr.ViewByID(data.DataSegmentID()))
}

// CreatePublisher allocates and wires a publisher port for the process.
// At most one publisher per descriptor is permitted.
func (pm *PortManager) CreatePublisher(proc *Process, desc ports.ServiceDescriptor, historyCapacity, budget uint32) (shm.RelPtr, error) {
	if err := desc.Validate(); err != nil {
		return 0, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if proc.PortCount() >= ports.MaxPortsPerProcess {
		return 0, ErrPortQuotaExceeded
	}

	key := desc.String()
	if _, exists := pm.publishers[key]; exists {
		return 0, ErrPublisherAlreadyExists
	}

	idx, data, ok := pm.mgmt.AllocPublisher()
	if !ok {
		return 0, ErrOutOfPorts
	}

	pm.nextPortID++
	ports.InitPublisherData(data, desc, proc.BlockIndex, pm.nextPortID, proc.DataSegmentID, historyCapacity, budget)

	// Wire every waiting subscriber, in their attach order. The history is
	// empty at this point, so the replay inside AddSubscriber is a no-op.
	pub := pm.publisherPort(data)
	for _, subIdx := range pm.subscribers[key] {
		sub := pm.mgmt.SubscriberAt(subIdx)
		subRef := pm.mgmt.RelPtrOf(unsafe.Pointer(sub))
		if err := pub.AddSubscriber(subRef, sub.HistoryRequest()); err != nil {
			pm.logger.Warnf("port manager: wiring subscriber %d to new publisher %q: %v", subIdx, key, err)
			continue
		}
		sub.SetState(ports.SubscriberStateSubscribed)
	}

	pm.publishers[key] = idx
	proc.Publishers = append(proc.Publishers, idx)

	pm.logger.Infof("port manager: publisher %d created for %q by %q", data.PortID(), key, proc.Name)
	return pm.mgmt.RelPtrOf(unsafe.Pointer(data)), nil
}

// CreateSubscriber allocates a subscriber port and attaches it to the
// descriptor's publisher when one exists.
func (pm *PortManager) CreateSubscriber(proc *Process, desc ports.ServiceDescriptor, queueCapacity uint32, policy ports.QueuePolicy, historyRequest uint32) (shm.RelPtr, error) {
	if err := desc.Validate(); err != nil {
		return 0, err
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if proc.PortCount() >= ports.MaxPortsPerProcess {
		return 0, ErrPortQuotaExceeded
	}

	idx, data, ok := pm.mgmt.AllocSubscriber()
	if !ok {
		return 0, ErrOutOfPorts
	}

	pm.nextPortID++
	ports.InitSubscriberData(data, desc, proc.BlockIndex, pm.nextPortID, queueCapacity, policy, historyRequest)

	key := desc.String()
	subRef := pm.mgmt.RelPtrOf(unsafe.Pointer(data))

	if pubIdx, exists := pm.publishers[key]; exists {
		pub := pm.publisherPort(pm.mgmt.PublisherAt(pubIdx))
		if err := pub.AddSubscriber(subRef, historyRequest); err != nil {
			pm.mgmt.FreeSubscriber(idx)
			return 0, err
		}
	}

	pm.subscribers[key] = append(pm.subscribers[key], idx)
	proc.Subscribers = append(proc.Subscribers, idx)

	pm.logger.Infof("port manager: subscriber %d created for %q by %q", data.PortID(), key, proc.Name)
	return subRef, nil
}

// DestroyPortByRef releases a single port the owning process asked to drop.
func (pm *PortManager) DestroyPortByRef(proc *Process, kind uint32, ref shm.RelPtr) error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	switch kind {
	case 1: // publisher
		for i, idx := range proc.Publishers {
			data := pm.mgmt.PublisherAt(idx)
			if pm.mgmt.RelPtrOf(unsafe.Pointer(data)) == ref {
				pm.dismantlePublisher(idx)
				proc.Publishers = append(proc.Publishers[:i], proc.Publishers[i+1:]...)
				return nil
			}
		}
	case 2: // subscriber
		for i, idx := range proc.Subscribers {
			data := pm.mgmt.SubscriberAt(idx)
			if pm.mgmt.RelPtrOf(unsafe.Pointer(data)) == ref {
				pm.dismantleSubscriber(idx)
				proc.Subscribers = append(proc.Subscribers[:i], proc.Subscribers[i+1:]...)
				return nil
			}
		}
	}
	return ErrNoSuchPort
}

// ReleaseAllPorts dismantles every port of a dead or unregistering
// process. Publisher ports go first — history released, subscribers put
// into the publisher-gone terminal state — then subscriber ports, so no
// still-running peer can observe a torn reference.
func (pm *PortManager) ReleaseAllPorts(proc *Process) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	for _, idx := range proc.Publishers {
		pm.dismantlePublisher(idx)
	}
	proc.Publishers = nil

	for _, idx := range proc.Subscribers {
		pm.dismantleSubscriber(idx)
	}
	proc.Subscribers = nil
}

// dismantlePublisher tears one publisher slot down under pm.mu.
func (pm *PortManager) dismantlePublisher(idx uint32) {
	data := pm.mgmt.PublisherAt(idx)
	key := data.Descriptor().String()
	pub := pm.publisherPort(data)

	// Order matters: stop offering, drop the history refcounts, detach the
	// subscriber set, and only then mark the peers so a drained queue plus
	// the terminal state is what remaining subscribers observe.
	data.SetState(ports.PublisherStateNotOffered)
	pub.ReleaseHistory()
	pub.DetachAll()

	// Remaining queue contents reference chunks of the vanishing publisher;
	// clearing them reconciles every in-flight refcount before the pools
	// could leak. Subscribers observe the terminal state afterwards.
	for _, subIdx := range pm.subscribers[key] {
		sub := pm.mgmt.SubscriberAt(subIdx)
		ports.NewSubscriberPort(sub, pm.segs).Clear()
		sub.SetState(ports.SubscriberStatePublisherGone)
	}

	if cur, ok := pm.publishers[key]; ok && cur == idx {
		delete(pm.publishers, key)
	}
	pm.mgmt.FreePublisher(idx)
}

// dismantleSubscriber tears one subscriber slot down under pm.mu.
func (pm *PortManager) dismantleSubscriber(idx uint32) {
	data := pm.mgmt.SubscriberAt(idx)
	key := data.Descriptor().String()
	subRef := pm.mgmt.RelPtrOf(unsafe.Pointer(data))

	// Detach from the matched publisher first: after RemoveSubscriber
	// returns, no further delivery is attempted, and the queue clear below
	// reconciles what already landed.
	if pubIdx, ok := pm.publishers[key]; ok {
		pm.publisherPort(pm.mgmt.PublisherAt(pubIdx)).RemoveSubscriber(subRef)
	}

	sp := ports.NewSubscriberPort(data, pm.segs)
	sp.Clear()
	data.SetState(ports.SubscriberStateIdle)

	subs := pm.subscribers[key]
	for i, s := range subs {
		if s == idx {
			pm.subscribers[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(pm.subscribers[key]) == 0 {
		delete(pm.subscribers, key)
	}
	pm.mgmt.FreeSubscriber(idx)
}
