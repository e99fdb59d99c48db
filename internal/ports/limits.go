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

// Package ports implements the lock-free chunk distribution layer: service
// descriptors, the SPSC chunk queue, the chunk distributor with history,
// and the publisher/subscriber port state living in the management segment.
package ports

// Build-time bounds of all shared structures. Everything here sizes inline
// storage inside the management segment; none of it is negotiable at
// runtime.
const (
	// MaxProcesses bounds the registered process table.
	MaxProcesses = 64

	// MaxPublishers bounds the publisher port pool.
	MaxPublishers = 512

	// MaxSubscribers bounds the subscriber port pool.
	MaxSubscribers = 1024

	// MaxSubscribersPerPublisher bounds one distributor's subscriber set.
	MaxSubscribersPerPublisher = 8

	// MaxChunkQueueCapacity bounds a subscriber queue (power of two).
	MaxChunkQueueCapacity = 256

	// MaxHistoryCapacity bounds a publisher's history ring.
	MaxHistoryCapacity = 16

	// MaxPortsPerProcess bounds the ports any one process may own.
	MaxPortsPerProcess = 128

	// DefaultAllocationBudget caps outstanding chunks per publisher when
	// the creating application does not say otherwise.
	DefaultAllocationBudget = 8

	// DefaultChunkQueueCapacity is used when a subscriber requests zero.
	DefaultChunkQueueCapacity = 16

	// ServiceStringCapacity bounds each of the three descriptor strings.
	ServiceStringCapacity = 100
)
