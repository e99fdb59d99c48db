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

import "errors"

var (
	// ErrBadMagic indicates the mapped file does not carry a valid segment header.
	ErrBadMagic = errors.New("shm: invalid segment magic")

	// ErrVersionMismatch indicates an ABI version incompatibility.
	ErrVersionMismatch = errors.New("shm: segment version mismatch")

	// ErrSegmentExists indicates exclusive creation found a live segment in place.
	ErrSegmentExists = errors.New("shm: segment already exists")

	// ErrFutexTimeout indicates a futex wait timed out.
	ErrFutexTimeout = errors.New("shm: futex wait timed out")

	// ErrFutexNotSupported indicates futex operations are unavailable on this platform.
	ErrFutexNotSupported = errors.New("shm: futex operations not supported on this platform")
)
