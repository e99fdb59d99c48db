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

// Package daemon implements the control plane: the process registry and
// its state machine, the port manager that matches publishers to
// subscribers, the liveness monitor, and the IPC server tying them to the
// control channel.
package daemon

import (
	"github.com/SyPeter/iceoryx/internal/ports"
)

// ProcessState is the daemon-side lifecycle state of a registered process.
type ProcessState int

const (
	// StateRegistered: REGISTER accepted, nothing heard since.
	StateRegistered ProcessState = iota

	// StateActive: at least one keep-alive or request after registration.
	StateActive

	// StateTerminating: UNREGISTER received, cleanup in progress.
	StateTerminating

	// StateLost: liveness threshold exceeded, reap scheduled.
	StateLost

	// StateReaped: cleanup finished; the entry is about to disappear.
	StateReaped
)

func (s ProcessState) String() string {
	switch s {
	case StateRegistered:
		return "REGISTERED"
	case StateActive:
		return "ACTIVE"
	case StateTerminating:
		return "TERMINATING"
	case StateLost:
		return "LOST"
	case StateReaped:
		return "REAPED"
	}
	return "UNKNOWN"
}

// Process is the daemon's view of a registered application. The daemon
// exclusively owns the entry; the application owns its ports, with the
// slot indices here serving as the daemon's cleanup back-references.
type Process struct {
	Name      string
	PID       uint32
	UID       uint32
	GID       uint32
	SessionID uint64
	Monitored bool
	State     ProcessState

	BlockIndex    uint32
	Block         *ports.ProcessBlock
	DataSegmentID uint32

	// Port slot indices owned by this process, in creation order.
	Publishers  []uint32
	Subscribers []uint32
}

// PortCount returns the number of ports the process currently owns.
func (p *Process) PortCount() int {
	return len(p.Publishers) + len(p.Subscribers)
}

// Alive reports whether the process still participates in matching.
func (p *Process) Alive() bool {
	return p.State == StateRegistered || p.State == StateActive
}
