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

// Package config loads and validates the daemon's declarative startup
// configuration: segment groups with their mempool tables, the liveness
// threshold, the IPC channel name, and log verbosity.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ghodss/yaml"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Defaults applied by Load for absent fields.
const (
	DefaultIpcChannelName      = "/tmp/iox.daemon.control"
	DefaultLivenessThresholdMs = 1500
	DefaultLogLevel            = "INFO"
)

// MempoolEntry declares one pool: chunk payload size and chunk count.
type MempoolEntry struct {
	ChunkSizeBytes uint32 `json:"chunk_size_bytes"`
	ChunkCount     uint32 `json:"chunk_count"`
}

// GroupConfig declares the data segment of one POSIX group. GID -1 leaves
// the segment unrestricted.
type GroupConfig struct {
	Group    string         `json:"group"`
	GID      int            `json:"gid"`
	Mempools []MempoolEntry `json:"mempools"`
}

// DefaultManagementSegmentName is the well-known management segment name.
const DefaultManagementSegmentName = "mgmt"

// Config is the daemon's startup configuration.
type Config struct {
	IpcChannelName       string        `json:"ipc_channel_name"`
	ManagementSegment    string        `json:"management_segment"`
	LivenessThresholdMs  uint32        `json:"liveness_threshold_ms"`
	MonitoringIntervalMs uint32        `json:"monitoring_interval_ms"`
	LogLevel             string        `json:"log_level"`
	LogOutput            string        `json:"log_output"`
	Groups               []GroupConfig `json:"groups"`
}

// Load reads, decodes, and validates a configuration file. JSON is the
// native format; .yaml/.yml files are converted to JSON first.
func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		content, err = yaml.YAMLToJSON(content)
		if err != nil {
			return nil, errors.Wrapf(err, "convert yaml config %s", path)
		}
	}

	cfg := &Config{}
	if err := json.Unmarshal(content, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.IpcChannelName == "" {
		c.IpcChannelName = DefaultIpcChannelName
	}
	if c.ManagementSegment == "" {
		c.ManagementSegment = DefaultManagementSegmentName
	}
	if c.LivenessThresholdMs == 0 {
		c.LivenessThresholdMs = DefaultLivenessThresholdMs
	}
	if c.MonitoringIntervalMs == 0 {
		c.MonitoringIntervalMs = c.LivenessThresholdMs / 3
		if c.MonitoringIntervalMs == 0 {
			c.MonitoringIntervalMs = 1
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	for i := range c.Groups {
		if c.Groups[i].GID == 0 && c.Groups[i].Group == "" {
			c.Groups[i].GID = -1
		}
	}
}

// Validate checks the configuration invariants. Violations abort daemon
// startup with a diagnostic.
func (c *Config) Validate() error {
	if len(c.Groups) == 0 {
		return errors.New("config: at least one segment group is required")
	}

	seen := map[string]bool{}
	for _, g := range c.Groups {
		key := g.Group
		if seen[key] {
			return errors.Errorf("config: duplicate group %q", g.Group)
		}
		seen[key] = true

		if len(g.Mempools) == 0 {
			return errors.Errorf("config: group %q declares no mempools", g.Group)
		}
		sizes := map[uint32]bool{}
		for _, e := range g.Mempools {
			if e.ChunkSizeBytes == 0 {
				return errors.Errorf("config: group %q has a zero chunk size", g.Group)
			}
			if e.ChunkCount == 0 {
				return errors.Errorf("config: group %q has a zero chunk count", g.Group)
			}
			if sizes[e.ChunkSizeBytes] {
				return errors.Errorf("config: group %q repeats chunk size %d", g.Group, e.ChunkSizeBytes)
			}
			sizes[e.ChunkSizeBytes] = true
		}
	}

	switch strings.ToUpper(c.LogLevel) {
	case "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL":
	default:
		return errors.Errorf("config: unknown log level %q", c.LogLevel)
	}

	return nil
}
