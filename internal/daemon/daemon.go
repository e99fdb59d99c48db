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
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"mosn.io/pkg/log"

	"github.com/SyPeter/iceoryx/internal/config"
	"github.com/SyPeter/iceoryx/internal/ipc"
	"github.com/SyPeter/iceoryx/internal/mempool"
	"github.com/SyPeter/iceoryx/internal/ports"
	"github.com/SyPeter/iceoryx/internal/shm"
)

var (
	// ErrShmSetup marks startup failures creating shared memory (exit 71).
	ErrShmSetup = pkgerrors.New("daemon: shared memory setup failed")

	// ErrIpcSetup marks startup failures binding the IPC channel (exit 74).
	ErrIpcSetup = pkgerrors.New("daemon: IPC channel setup failed")
)

// Daemon is the long-lived broker process: it owns every segment, the
// process registry, and the port registry; it never sits in the data path.
type Daemon struct {
	cfg    *config.Config
	logger log.ErrorLogger

	instance uuid.UUID
	segMap   *shm.SegmentMap
	channel  *ipc.DaemonChannel
	mgmtSeg  *shm.Segment
	mgmt     *ports.ManagementView
	segmgr   *mempool.SegmentManager

	registry *Registry
	portmgr  *PortManager
	monitor  *Monitor
	server   *Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogger builds the daemon error logger from config values.
func NewLogger(output, level string) (log.ErrorLogger, error) {
	lg, err := log.GetOrCreateLogger(output, nil)
	if err != nil {
		return nil, err
	}
	return &log.SimpleErrorLog{
		Logger:    lg,
		Formatter: log.DefaultFormatter,
		Level:     parseLogLevel(level),
	}, nil
}

func parseLogLevel(s string) log.Level {
	switch strings.ToUpper(s) {
	case "TRACE":
		return log.TRACE
	case "DEBUG":
		return log.DEBUG
	case "WARN":
		return log.WARN
	case "ERROR":
		return log.ERROR
	case "FATAL":
		return log.FATAL
	default:
		return log.INFO
	}
}

// New performs the staged startup: bind the control channel (which doubles
// as the single-daemon lock), then create the management segment and the
// per-group data segments. The caller maps the error onto the CLI exit
// codes via errors.Is on ErrIpcSetup / ErrShmSetup.
func New(cfg *config.Config, logger log.ErrorLogger) (*Daemon, error) {
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		instance: uuid.New(),
		segMap:   &shm.SegmentMap{},
		registry: NewRegistry(),
	}

	// The channel comes first: once it is bound no second daemon is live,
	// so purging leftover segments below cannot race another creator.
	ch, err := ipc.ListenDaemon(cfg.IpcChannelName)
	if err != nil {
		return nil, pkgerrors.Wrap(ErrIpcSetup, err.Error())
	}
	d.channel = ch

	if err := d.setupSharedMemory(); err != nil {
		ch.Close()
		return nil, pkgerrors.Wrap(ErrShmSetup, err.Error())
	}

	monitorMs := cfg.MonitoringIntervalMs
	if monitorMs == 0 {
		monitorMs = cfg.LivenessThresholdMs / 3
		if monitorMs == 0 {
			monitorMs = 1
		}
	}

	d.portmgr = NewPortManager(d.mgmt, d.segMap, d.segmgr, logger)
	d.monitor = NewMonitor(d.registry, d.portmgr, d.mgmt,
		time.Duration(monitorMs)*time.Millisecond,
		time.Duration(cfg.LivenessThresholdMs)*time.Millisecond,
		logger)

	segInfos := make([]ipc.SegmentInfo, 0, len(d.segmgr.Segments()))
	for _, s := range d.segmgr.Segments() {
		segInfos = append(segInfos, ipc.SegmentInfo{
			ID:   s.View.Seg.ID,
			Name: "data_" + s.Name,
			Size: s.View.Seg.Size(),
		})
	}
	mgmtInfo := ipc.SegmentInfo{ID: d.mgmtSeg.ID, Name: cfg.ManagementSegment, Size: d.mgmtSeg.Size()}

	keepAliveMs := cfg.LivenessThresholdMs / 3
	if keepAliveMs == 0 {
		keepAliveMs = 1
	}

	d.server = NewServer(ch, d.registry, d.portmgr, d.segmgr, d.mgmt, d.monitor,
		d.instance.String(), mgmtInfo, segInfos, keepAliveMs, logger)

	return d, nil
}

func (d *Daemon) setupSharedMemory() error {
	var inst [16]byte
	copy(inst[:], d.instance[:])

	mgmtSize := ports.ManagementSegmentSize()
	mgmtSeg, err := shm.CreateSegment(d.cfg.ManagementSegment, 1, mgmtSize, shm.CreateOptions{
		Permissions: 0666,
		GID:         -1,
		Purge:       true,
	})
	if err != nil {
		return err
	}
	mgmtSeg.Header().SetInstanceID(inst)
	mgmtSeg.Header().SetReady(true)
	d.mgmtSeg = mgmtSeg
	d.mgmt = ports.NewManagementView(mgmtSeg)
	if err := d.segMap.Register(mgmtSeg); err != nil {
		return err
	}

	groups := make([]mempool.GroupSpec, 0, len(d.cfg.Groups))
	for _, g := range d.cfg.Groups {
		entries := make([]mempool.Entry, 0, len(g.Mempools))
		for _, e := range g.Mempools {
			entries = append(entries, mempool.Entry{ChunkSize: e.ChunkSizeBytes, ChunkCount: e.ChunkCount})
		}
		groups = append(groups, mempool.GroupSpec{Name: g.Group, GID: g.GID, Entries: entries})
	}

	segmgr, err := mempool.NewSegmentManager(groups, 2, inst, d.segMap, d.logger)
	if err != nil {
		mgmtSeg.Close()
		mgmtSeg.Unlink()
		return err
	}
	d.segmgr = segmgr

	d.logger.Infof("daemon: shared memory ready, instance %s, %d data segments", d.instance, len(segmgr.Segments()))
	return nil
}

// Run starts the IPC server and the liveness monitor and blocks until the
// context is canceled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.server.Serve(ctx)
	}()
	go func() {
		defer d.wg.Done()
		d.monitor.Run(ctx)
	}()

	<-ctx.Done()
	d.shutdown()
}

// shutdown unregisters every live application, joins the workers, closes
// the channel, and unlinks every segment. After this no segment created by
// this daemon remains in the filesystem.
func (d *Daemon) shutdown() {
	d.logger.Infof("daemon: shutting down")

	d.wg.Wait()

	for _, p := range d.registry.Snapshot() {
		d.registry.SetState(p, StateTerminating)
		d.monitor.Reap(p)
	}

	d.channel.Close()

	d.segmgr.Shutdown()
	d.segMap.Deregister(d.mgmtSeg.ID)
	d.mgmtSeg.Header().SetClosed(true)
	d.mgmtSeg.Close()
	d.mgmtSeg.Unlink()

	d.logger.Infof("daemon: shutdown complete")
}

// Stop cancels a running daemon; Run returns after cleanup.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

// InstanceID returns the daemon incarnation id.
func (d *Daemon) InstanceID() string {
	return d.instance.String()
}

// ChannelPath returns the bound control channel path.
func (d *Daemon) ChannelPath() string {
	return d.channel.Path()
}
