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
	"context"
	"errors"
	"net"
	"time"
	"unsafe"

	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

// recvPoll bounds a single blocking Recv so shutdown is observed promptly.
const recvPoll = 200 * time.Millisecond

// Server services the daemon control channel: one goroutine reads
// requests, validates sessions, and drives the registry and port manager.
type Server struct {
	ch       *ipc.DaemonChannel
	registry *Registry
	portmgr  *PortManager
	segmgr   *mempool.SegmentManager
	mgmt     *ports.ManagementView
	monitor  *Monitor
	logger   log.ErrorLogger

	instanceID   string
	mgmtInfo     ipc.SegmentInfo
	segmentInfos []ipc.SegmentInfo
	keepAliveMs  uint32
}

// NewServer wires the IPC server.
func NewServer(ch *ipc.DaemonChannel, registry *Registry, portmgr *PortManager, segmgr *mempool.SegmentManager,
	mgmt *ports.ManagementView, monitor *Monitor, instanceID string, mgmtInfo ipc.SegmentInfo,
	segmentInfos []ipc.SegmentInfo, keepAliveMs uint32, logger log.ErrorLogger) *Server {
	return &Server{
		ch:           ch,
		registry:     registry,
		portmgr:      portmgr,
		segmgr:       segmgr,
		mgmt:         mgmt,
		monitor:      monitor,
		logger:       logger,
		instanceID:   instanceID,
		mgmtInfo:     mgmtInfo,
		segmentInfos: segmentInfos,
		keepAliveMs:  keepAliveMs,
	}
}

// Serve reads requests until the context is canceled.
func (s *Server) Serve(ctx context.Context) {
	buf := make([]byte, ipc.MaxMessageSize)
	for {
		if ctx.Err() != nil {
			return
		}
		s.ch.SetDeadline(time.Now().Add(recvPoll))
		req, from, err := s.ch.Recv(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			// Malformed messages get a reply when the sender is known,
			// and are otherwise dropped.
			if from != nil {
				s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeMalformedMessage})
			}
			s.logger.Debugf("server: dropped message: %v", err)
			continue
		}

		s.dispatch(req, from)
	}
}

func (s *Server) reply(to *net.UnixAddr, resp *ipc.Response) {
	if to == nil {
		return
	}
	if err := s.ch.Reply(to, resp); err != nil {
		s.logger.Warnf("server: reply to %s failed: %v", to.Name, err)
	}
}

func (s *Server) dispatch(req ipc.Request, from *net.UnixAddr) {
	if req.Type == ipc.TypeRegister {
		s.handleRegister(req, from)
		return
	}

	proc := s.registry.BySession(req.Session)
	if proc == nil || !proc.Alive() {
		// A reborn process must not act on its predecessor's queue.
		if req.Type != ipc.TypeKeepAlive {
			s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeStaleSession})
		}
		s.logger.Debugf("server: discarded %s with stale session %d", req.Type, req.Session)
		return
	}

	if s.registry.StateOf(proc) == StateRegistered {
		s.registry.SetState(proc, StateActive)
	}

	switch req.Type {
	case ipc.TypeKeepAlive:
		// Timestamp update only; keep-alives carry no reply.
		proc.Block.KeepAlive(time.Now().UnixNano())

	case ipc.TypeCreatePublisher:
		desc := ports.ServiceDescriptor{Service: req.Service, Instance: req.Instance, Event: req.Event}
		ref, err := s.portmgr.CreatePublisher(proc, desc, req.HistoryCapacity, req.Budget)
		s.reply(from, &ipc.Response{Type: req.Type, Code: errorCode(err), PortRef: uint64(ref)})

	case ipc.TypeCreateSubscriber:
		desc := ports.ServiceDescriptor{Service: req.Service, Instance: req.Instance, Event: req.Event}
		ref, err := s.portmgr.CreateSubscriber(proc, desc, req.QueueCapacity, ports.QueuePolicy(req.Policy), req.HistoryRequest)
		s.reply(from, &ipc.Response{Type: req.Type, Code: errorCode(err), PortRef: uint64(ref)})

	case ipc.TypeDestroyPort:
		err := s.portmgr.DestroyPortByRef(proc, req.PortKind, shm.RelPtr(req.PortRef))
		s.reply(from, &ipc.Response{Type: req.Type, Code: errorCode(err)})

	case ipc.TypeUnregister:
		s.registry.SetState(proc, StateTerminating)
		s.monitor.Reap(proc)
		s.reply(from, &ipc.Response{Type: req.Type})

	default:
		s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeUnknownRequest})
	}
}

func (s *Server) handleRegister(req ipc.Request, from *net.UnixAddr) {
	if req.Version != ipc.ProtocolVersion {
		s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeCompatibilityError, Version: ipc.ProtocolVersion})
		return
	}
	if req.Name == "" {
		s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeMalformedMessage})
		return
	}

	if existing := s.registry.ByName(req.Name); existing != nil {
		if existing.Alive() {
			s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeNameTaken})
			return
		}
		// A LOST predecessor blocks the name only until it is reaped.
		s.registry.SetState(existing, StateLost)
		s.monitor.Reap(existing)
	}

	dataSeg := s.segmgr.SegmentFor(req.GID)
	if dataSeg == nil {
		s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeInternal})
		return
	}

	blockIdx, block, ok := s.mgmt.AllocProcessBlock()
	if !ok {
		s.reply(from, &ipc.Response{Type: req.Type, Code: ipc.CodeOutOfMemory})
		return
	}

	session := s.registry.NextSession()
	now := time.Now().UnixNano()
	ports.InitProcessBlock(block, req.Name, req.PID, req.UID, req.GID, session, dataSeg.View.Seg.ID, req.Monitored, now)

	proc := &Process{
		Name:          req.Name,
		PID:           req.PID,
		UID:           req.UID,
		GID:           req.GID,
		SessionID:     session,
		Monitored:     req.Monitored,
		State:         StateRegistered,
		BlockIndex:    blockIdx,
		Block:         block,
		DataSegmentID: dataSeg.View.Seg.ID,
	}
	s.registry.Insert(proc)

	s.logger.Infof("server: registered %q (pid %d, uid %d) with session %d", req.Name, req.PID, req.UID, session)

	s.reply(from, &ipc.Response{
		Type:              req.Type,
		Session:           session,
		Segments:          s.segmentInfos,
		ManagementSegment: s.mgmtInfo,
		ManagementBlock:   uint64(s.mgmt.RelPtrOf(unsafe.Pointer(block))),
		DataSegmentID:     dataSeg.View.Seg.ID,
		InstanceID:        s.instanceID,
		Version:           ipc.ProtocolVersion,
		KeepAliveMs:       s.keepAliveMs,
	})
}

// errorCode maps control-plane errors onto wire codes.
func errorCode(err error) string {
	switch {
	case err == nil:
		return ipc.CodeOK
	case errors.Is(err, ErrPublisherAlreadyExists):
		return ipc.CodePublisherAlreadyExists
	case errors.Is(err, ErrOutOfPorts):
		return ipc.CodeOutOfPorts
	case errors.Is(err, ErrPortQuotaExceeded):
		return ipc.CodeDescriptorQuotaExceeded
	case errors.Is(err, ports.ErrTooManySubscribers):
		return ipc.CodeTooManySubscribers
	case errors.Is(err, ports.ErrInvalidDescriptor):
		return ipc.CodeInvalidDescriptor
	case errors.Is(err, ErrNoSuchPort):
		return ipc.CodeNoSuchPort
	case errors.Is(err, mempool.ErrPoolEmpty):
		return ipc.CodeOutOfMemory
	default:
		return ipc.CodeInternal
	}
}
