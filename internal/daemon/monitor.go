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
	"time"

	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/ports"
)

// Monitor is the process introspection loop: it watches keep-alive
// timestamps and reaps processes whose liveness threshold expired.
type Monitor struct {
	registry  *Registry
	portmgr   *PortManager
	mgmt      *ports.ManagementView
	interval  time.Duration
	threshold time.Duration
	logger    log.ErrorLogger
}

// NewMonitor builds the liveness monitor.
func NewMonitor(registry *Registry, portmgr *PortManager, mgmt *ports.ManagementView, interval, threshold time.Duration, logger log.ErrorLogger) *Monitor {
	return &Monitor{
		registry:  registry,
		portmgr:   portmgr,
		mgmt:      mgmt,
		interval:  interval,
		threshold: threshold,
		logger:    logger,
	}
}

// Run ticks until the context is canceled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(time.Now())
		}
	}
}

// Tick runs one liveness sweep at the given time.
func (m *Monitor) Tick(now time.Time) {
	for _, p := range m.registry.Snapshot() {
		if !p.Monitored || !p.Alive() {
			continue
		}
		age := now.UnixNano() - p.Block.LastKeepAliveNs()
		if age <= m.threshold.Nanoseconds() {
			continue
		}

		m.logger.Warnf("monitor: process %q (pid %d, session %d) missed its liveness threshold by %v, reaping",
			p.Name, p.PID, p.SessionID, time.Duration(age)-m.threshold)
		m.registry.SetState(p, StateLost)
		m.Reap(p)
	}
}

// Reap dismantles everything a dead or unregistering process owned: all
// ports first, then the management block, then the registry entry. The
// ordering keeps still-running peers away from torn references.
func (m *Monitor) Reap(p *Process) {
	m.portmgr.ReleaseAllPorts(p)
	m.mgmt.FreeProcessBlock(p.BlockIndex)
	m.registry.SetState(p, StateReaped)
	m.registry.Remove(p)
	m.logger.Infof("monitor: process %q reaped", p.Name)
}
