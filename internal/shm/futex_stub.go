//go:build !linux || (!amd64 && !arm64)

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

package shm

import (
	"sync/atomic"
	"time"
)

// Non-Linux fallback: poll instead of futex. Correct but slower; the
// latency-sensitive deployments run on Linux.

const pollInterval = 100 * time.Microsecond

// FutexWait polls addr until the value changes from val.
func FutexWait(addr *uint32, val uint32) error {
	for atomic.LoadUint32(addr) == val {
		time.Sleep(pollInterval)
	}
	return nil
}

// FutexWaitTimeout polls addr until the value changes from val or the
// timeout (nanoseconds) elapses.
func FutexWaitTimeout(addr *uint32, val uint32, timeoutNs int64) error {
	if timeoutNs <= 0 {
		return FutexWait(addr, val)
	}
	deadline := time.Now().Add(time.Duration(timeoutNs))
	for atomic.LoadUint32(addr) == val {
		if time.Now().After(deadline) {
			return ErrFutexTimeout
		}
		time.Sleep(pollInterval)
	}
	return nil
}

// FutexWake is a no-op under polling; waiters observe the new value.
func FutexWake(addr *uint32, n int) (int, error) {
	return 0, nil
}
