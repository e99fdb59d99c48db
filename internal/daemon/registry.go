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
	"sync"
)

// Registry is the process-wide registered process table. It is initialized
// before the IPC channel opens and torn down only after the channel closes;
// the RWMutex covers every access.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*Process
	bySession   map[uint64]*Process
	nextSession uint64
}

// NewRegistry creates an empty registry. Session ids start at 1 and only
// ever grow, so a reborn process can never collide with its predecessor.
func NewRegistry() *Registry {
	return &Registry{
		byName:    make(map[string]*Process),
		bySession: make(map[uint64]*Process),
	}
}

// NextSession reserves the next monotonic session id.
func (r *Registry) NextSession() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSession++
	return r.nextSession
}

// Insert adds a process under its name and session.
func (r *Registry) Insert(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byName[p.Name] = p
	r.bySession[p.SessionID] = p
}

// Remove deletes a process from both indices.
func (r *Registry) Remove(p *Process) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byName[p.Name] == p {
		delete(r.byName, p.Name)
	}
	delete(r.bySession, p.SessionID)
}

// ByName returns the process registered under name, or nil.
func (r *Registry) ByName(name string) *Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// BySession returns the process owning the session id, or nil. A nil
// result on a non-REGISTER message means the session is stale.
func (r *Registry) BySession(session uint64) *Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.bySession[session]
}

// Snapshot returns the current processes; used by the monitor and by
// shutdown, which must not hold the lock while dismantling ports.
func (r *Registry) Snapshot() []*Process {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Process, 0, len(r.byName))
	for _, p := range r.byName {
		out = append(out, p)
	}
	return out
}

// SetState transitions a process under the lock.
func (r *Registry) SetState(p *Process, s ProcessState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.State = s
}

// StateOf reads a process state under the lock.
func (r *Registry) StateOf(p *Process) ProcessState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return p.State
}
