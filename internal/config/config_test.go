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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "ioxd.json", `{
		"ipc_channel_name": "/tmp/test.iox.control",
		"liveness_threshold_ms": 2000,
		"log_level": "DEBUG",
		"groups": [
			{
				"group": "default",
				"gid": -1,
				"mempools": [
					{"chunk_size_bytes": 128, "chunk_count": 4},
					{"chunk_size_bytes": 1024, "chunk_count": 4}
				]
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.iox.control", cfg.IpcChannelName)
	assert.Equal(t, uint32(2000), cfg.LivenessThresholdMs)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	require.Len(t, cfg.Groups, 1)
	assert.Len(t, cfg.Groups[0].Mempools, 2)

	// Monitoring interval defaults to a third of the threshold.
	assert.Equal(t, uint32(666), cfg.MonitoringIntervalMs)
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "ioxd.yaml", `
ipc_channel_name: /tmp/test.iox.control
groups:
  - group: sensors
    gid: 1000
    mempools:
      - chunk_size_bytes: 256
        chunk_count: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Groups, 1)
	assert.Equal(t, "sensors", cfg.Groups[0].Group)
	assert.Equal(t, 1000, cfg.Groups[0].GID)
	assert.Equal(t, uint32(256), cfg.Groups[0].Mempools[0].ChunkSizeBytes)

	// Defaults fill what the file leaves out.
	assert.Equal(t, uint32(DefaultLivenessThresholdMs), cfg.LivenessThresholdMs)
	assert.Equal(t, DefaultLogLevel, cfg.LogLevel)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no groups", `{"groups": []}`},
		{"no mempools", `{"groups": [{"group": "a", "gid": -1, "mempools": []}]}`},
		{"zero chunk size", `{"groups": [{"group": "a", "gid": -1, "mempools": [{"chunk_size_bytes": 0, "chunk_count": 4}]}]}`},
		{"zero chunk count", `{"groups": [{"group": "a", "gid": -1, "mempools": [{"chunk_size_bytes": 64, "chunk_count": 0}]}]}`},
		{"duplicate group", `{"groups": [
			{"group": "a", "gid": -1, "mempools": [{"chunk_size_bytes": 64, "chunk_count": 4}]},
			{"group": "a", "gid": -1, "mempools": [{"chunk_size_bytes": 64, "chunk_count": 4}]}]}`},
		{"duplicate chunk size", `{"groups": [{"group": "a", "gid": -1, "mempools": [
			{"chunk_size_bytes": 64, "chunk_count": 4},
			{"chunk_size_bytes": 64, "chunk_count": 8}]}]}`},
		{"bad log level", `{"log_level": "LOUD", "groups": [{"group": "a", "gid": -1, "mempools": [{"chunk_size_bytes": 64, "chunk_count": 4}]}]}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, "bad.json", tc.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}
