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

// Package runtime is the application-side attachment to the daemon:
// registration over the control channel, segment mapping, the keep-alive
// loop, and the publisher/subscriber handles over the shared port state.
package runtime

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

var (
	// ErrDaemonUnavailable mirrors ipc.ErrDaemonUnavailable for callers.
	ErrDaemonUnavailable = ipc.ErrDaemonUnavailable

	// ErrNameTaken indicates the process name is registered to a live process.
	ErrNameTaken = errors.New("runtime: process name already taken")

	// ErrCompatibility indicates a protocol or ABI version mismatch.
	ErrCompatibility = errors.New("runtime: incompatible daemon version")

	// ErrRequestFailed wraps any other non-OK daemon reply.
	ErrRequestFailed = errors.New("runtime: daemon rejected request")
)

// DefaultRequestTimeout bounds every synchronous daemon request.
const DefaultRequestTimeout = 2 * time.Second

// Options tune a runtime attachment.
type Options struct {
	// DaemonChannel is the daemon control socket path.
	DaemonChannel string

	// Monitored enables liveness monitoring for this process.
	Monitored bool

	// RequestTimeout bounds synchronous daemon requests; on expiry the
	// application surfaces ipc.ErrTimeout.
	RequestTimeout time.Duration
}

// Runtime is one application's registration with the daemon.
type Runtime struct {
	name    string
	session uint64
	opts    Options

	channel  *ipc.AppChannel
	segMap   *shm.SegmentMap
	segments []*shm.Segment
	mgmt     *ports.ManagementView
	dataView *mempool.SegmentView
	block    *ports.ProcessBlock

	stopKeepAlive chan struct{}
	keepAliveDone sync.WaitGroup
	closeOnce     sync.Once
}

// Connect registers the application with the daemon and maps every
// announced segment. If the daemon is not running the application fails
// with ErrDaemonUnavailable; it never creates segments on its own.
func Connect(name string, opts Options) (*Runtime, error) {
	if opts.DaemonChannel == "" {
		opts.DaemonChannel = "/tmp/iox.daemon.control"
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}

	replyPath := filepath.Join(os.TempDir(), fmt.Sprintf("iox.app.%d.%s", os.Getpid(), uuid.NewString()[:8]))
	ch, err := ipc.DialApp(opts.DaemonChannel, replyPath)
	if err != nil {
		return nil, err
	}

	resp, err := ch.Request(&ipc.Request{
		Type:      ipc.TypeRegister,
		Name:      name,
		PID:       uint32(os.Getpid()),
		UID:       uint32(os.Getuid()),
		GID:       uint32(os.Getgid()),
		Monitored: opts.Monitored,
		Version:   ipc.ProtocolVersion,
	}, opts.RequestTimeout)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if !resp.OK() {
		ch.Close()
		switch resp.Code {
		case ipc.CodeNameTaken:
			return nil, ErrNameTaken
		case ipc.CodeCompatibilityError:
			return nil, ErrCompatibility
		default:
			return nil, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Code)
		}
	}

	rt := &Runtime{
		name:          name,
		session:       resp.Session,
		opts:          opts,
		channel:       ch,
		segMap:        &shm.SegmentMap{},
		stopKeepAlive: make(chan struct{}),
	}

	if err := rt.mapSegments(resp); err != nil {
		rt.teardownSegments()
		ch.Close()
		return nil, err
	}

	interval := time.Duration(resp.KeepAliveMs) * time.Millisecond
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	rt.keepAliveDone.Add(1)
	go rt.keepAliveLoop(interval)

	return rt, nil
}

func (rt *Runtime) mapSegments(resp *ipc.Response) error {
	mgmtSeg, err := shm.OpenSegment(resp.ManagementSegment.Name, false)
	if err != nil {
		return err
	}
	rt.segments = append(rt.segments, mgmtSeg)
	if err := rt.segMap.Register(mgmtSeg); err != nil {
		return err
	}
	rt.mgmt = ports.NewManagementView(mgmtSeg)

	blockPtr := rt.segMap.Resolve(shm.RelPtr(resp.ManagementBlock))
	if blockPtr == nil {
		return fmt.Errorf("runtime: management block %v not resolvable", shm.RelPtr(resp.ManagementBlock))
	}
	rt.block = (*ports.ProcessBlock)(blockPtr)

	for _, info := range resp.Segments {
		seg, err := shm.OpenSegment(info.Name, false)
		if err != nil {
			return err
		}
		rt.segments = append(rt.segments, seg)
		if err := rt.segMap.Register(seg); err != nil {
			return err
		}
		if seg.ID == resp.DataSegmentID {
			view, err := mempool.OpenView(seg)
			if err != nil {
				return err
			}
			rt.dataView = view
		}
	}
	if rt.dataView == nil {
		return fmt.Errorf("runtime: daemon assigned data segment %d but did not announce it", resp.DataSegmentID)
	}
	return nil
}

func (rt *Runtime) teardownSegments() {
	for _, seg := range rt.segments {
		rt.segMap.Deregister(seg.ID)
		seg.Close()
	}
	rt.segments = nil
}

func (rt *Runtime) keepAliveLoop(interval time.Duration) {
	defer rt.keepAliveDone.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stopKeepAlive:
			return
		case <-ticker.C:
			rt.channel.Send(&ipc.Request{Type: ipc.TypeKeepAlive, Session: rt.session})
		}
	}
}

// Name returns the registered process name.
func (rt *Runtime) Name() string {
	return rt.name
}

// Session returns the session id of this registration.
func (rt *Runtime) Session() uint64 {
	return rt.session
}

// SegmentMap exposes the process segment table (introspection, tests).
func (rt *Runtime) SegmentMap() *shm.SegmentMap {
	return rt.segMap
}

// request performs one synchronous daemon request and normalizes errors.
func (rt *Runtime) request(req *ipc.Request) (*ipc.Response, error) {
	req.Session = rt.session
	resp, err := rt.channel.Request(req, rt.opts.RequestTimeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return resp, fmt.Errorf("%w: %s", ErrRequestFailed, resp.Code)
	}
	return resp, nil
}

// Close unregisters from the daemon and unmaps all segments. Safe to call
// more than once.
func (rt *Runtime) Close() error {
	var err error
	rt.closeOnce.Do(func() {
		close(rt.stopKeepAlive)
		rt.keepAliveDone.Wait()

		_, err = rt.request(&ipc.Request{Type: ipc.TypeUnregister})
		rt.channel.Close()
		rt.teardownSegments()
	})
	return err
}
