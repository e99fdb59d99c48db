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

package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/SyPeter/iceoryx/internal/config"
	"github.com/SyPeter/iceoryx/internal/daemon"
	"github.com/SyPeter/iceoryx/internal/ports"
)

var radarDesc = ports.ServiceDescriptor{Service: "Radar", Instance: "Front", Event: "Object"}

// startDaemon runs a daemon in-process against unique names and returns
// its control channel path.
func startDaemon(t *testing.T) string {
	t.Helper()

	suffix := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano()%1e9)
	cfg := &config.Config{
		IpcChannelName:       filepath.Join(os.TempDir(), "iox-rt-"+suffix),
		ManagementSegment:    "rt-mgmt-" + suffix,
		LivenessThresholdMs:  5000,
		MonitoringIntervalMs: 1000,
		LogLevel:             "ERROR",
		Groups: []config.GroupConfig{
			{
				Group: "rt-" + suffix,
				GID:   -1,
				Mempools: []config.MempoolEntry{
					{ChunkSizeBytes: 128, ChunkCount: 4},
					{ChunkSizeBytes: 1024, ChunkCount: 4},
				},
			},
		},
	}

	logger, err := daemon.NewLogger("", cfg.LogLevel)
	if err != nil {
		t.Fatalf("NewLogger failed: %v", err)
	}
	d, err := daemon.New(cfg, logger)
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down")
		}
	})

	return cfg.IpcChannelName
}

func connect(t *testing.T, channel, name string) *Runtime {
	t.Helper()
	rt, err := Connect(name, Options{DaemonChannel: channel})
	if err != nil {
		t.Fatalf("Connect(%q) failed: %v", name, err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

func TestConnectWithoutDaemon(t *testing.T) {
	// The application must fail, never create a stale segment of its own.
	_, err := Connect("orphan", Options{
		DaemonChannel: filepath.Join(os.TempDir(), "iox-nonexistent-channel"),
	})
	if !errors.Is(err, ErrDaemonUnavailable) {
		t.Fatalf("expected ErrDaemonUnavailable, got %v", err)
	}
}

func TestBasicOneToOne(t *testing.T) {
	channel := startDaemon(t)

	pubApp := connect(t, channel, "radar-driver")
	subApp := connect(t, channel, "fusion")

	pub, err := pubApp.CreatePublisher(radarDesc, PublisherOptions{})
	if err != nil {
		t.Fatalf("CreatePublisher failed: %v", err)
	}
	sub, err := subApp.CreateSubscriber(radarDesc, SubscriberOptions{QueueCapacity: 8})
	if err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	for _, b := range []byte{1, 2, 3} {
		if err := pub.PublishBytes([]byte{b}); err != nil {
			t.Fatalf("PublishBytes(%d) failed: %v", b, err)
		}
	}

	for _, want := range []byte{1, 2, 3} {
		c, err := sub.Take()
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if got := c.PayloadBytes()[0]; got != want {
			t.Fatalf("payload = %d, want %d", got, want)
		}
		if err := sub.Release(c); err != nil {
			t.Fatalf("Release failed: %v", err)
		}
	}

	if _, err := sub.Take(); !errors.Is(err, ErrNoChunkAvailable) {
		t.Fatalf("expected ErrNoChunkAvailable, got %v", err)
	}
}

func TestLateJoinerReceivesHistory(t *testing.T) {
	channel := startDaemon(t)

	pubApp := connect(t, channel, "radar-driver")
	subApp := connect(t, channel, "late-fusion")

	pub, err := pubApp.CreatePublisher(radarDesc, PublisherOptions{HistoryCapacity: 2})
	if err != nil {
		t.Fatalf("CreatePublisher failed: %v", err)
	}

	for _, b := range []byte{10, 20, 30, 40} {
		if err := pub.PublishBytes([]byte{b}); err != nil {
			t.Fatalf("PublishBytes failed: %v", err)
		}
	}

	// The late joiner asks for 3 but the history holds 2: [30, 40].
	sub, err := subApp.CreateSubscriber(radarDesc, SubscriberOptions{QueueCapacity: 8, HistoryRequest: 3})
	if err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	if err := pub.PublishBytes([]byte{50}); err != nil {
		t.Fatalf("PublishBytes failed: %v", err)
	}

	for _, want := range []byte{30, 40, 50} {
		c, err := sub.TakeWithTimeout(time.Second)
		if err != nil {
			t.Fatalf("Take failed waiting for %d: %v", want, err)
		}
		if got := c.PayloadBytes()[0]; got != want {
			t.Fatalf("payload = %d, want %d", got, want)
		}
		sub.Release(c)
	}
}

func TestSlowConsumerDiscardOldest(t *testing.T) {
	channel := startDaemon(t)

	pubApp := connect(t, channel, "radar-driver")
	subApp := connect(t, channel, "slow-fusion")

	pub, err := pubApp.CreatePublisher(radarDesc, PublisherOptions{})
	if err != nil {
		t.Fatalf("CreatePublisher failed: %v", err)
	}
	sub, err := subApp.CreateSubscriber(radarDesc, SubscriberOptions{
		QueueCapacity: 2,
		Policy:        ports.DiscardOldest,
	})
	if err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	for _, b := range []byte{'a', 'b', 'c', 'd'} {
		if err := pub.PublishBytes([]byte{b}); err != nil {
			t.Fatalf("PublishBytes failed: %v", err)
		}
	}

	for _, want := range []byte{'c', 'd'} {
		c, err := sub.Take()
		if err != nil {
			t.Fatalf("Take failed: %v", err)
		}
		if got := c.PayloadBytes()[0]; got != want {
			t.Fatalf("payload = %c, want %c", got, want)
		}
		sub.Release(c)
	}
}

func TestExclusivePublisherAcrossProcesses(t *testing.T) {
	channel := startDaemon(t)

	appA := connect(t, channel, "driver-a")
	appB := connect(t, channel, "driver-b")

	if _, err := appA.CreatePublisher(radarDesc, PublisherOptions{}); err != nil {
		t.Fatalf("first CreatePublisher failed: %v", err)
	}
	if _, err := appB.CreatePublisher(radarDesc, PublisherOptions{}); !errors.Is(err, ErrPublisherExists) {
		t.Fatalf("expected ErrPublisherExists, got %v", err)
	}
}

func TestNameCollision(t *testing.T) {
	channel := startDaemon(t)

	connect(t, channel, "unique-app")
	if _, err := Connect("unique-app", Options{DaemonChannel: channel}); !errors.Is(err, ErrNameTaken) {
		t.Fatalf("expected ErrNameTaken, got %v", err)
	}
}

func TestDestroyPublisherMarksSubscriber(t *testing.T) {
	channel := startDaemon(t)

	pubApp := connect(t, channel, "transient-pub")
	subApp := connect(t, channel, "observer")

	pub, err := pubApp.CreatePublisher(radarDesc, PublisherOptions{})
	if err != nil {
		t.Fatalf("CreatePublisher failed: %v", err)
	}
	sub, err := subApp.CreateSubscriber(radarDesc, SubscriberOptions{QueueCapacity: 4})
	if err != nil {
		t.Fatalf("CreateSubscriber failed: %v", err)
	}

	if err := pub.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	if !sub.PublisherGone() {
		t.Fatal("subscriber must observe the publisher-gone state")
	}

	// The descriptor is free for a new publisher, and the subscriber is
	// rewired to it.
	pub2, err := pubApp.CreatePublisher(radarDesc, PublisherOptions{})
	if err != nil {
		t.Fatalf("re-create publisher failed: %v", err)
	}
	if err := pub2.PublishBytes([]byte{9}); err != nil {
		t.Fatalf("PublishBytes failed: %v", err)
	}
	c, err := sub.TakeWithTimeout(time.Second)
	if err != nil {
		t.Fatalf("Take after rewire failed: %v", err)
	}
	if c.PayloadBytes()[0] != 9 {
		t.Fatalf("payload = %d, want 9", c.PayloadBytes()[0])
	}
	sub.Release(c)
}
