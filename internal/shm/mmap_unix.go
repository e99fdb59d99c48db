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
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

func init() {
	unmapMemory = munmapImpl
}

// CreateOptions control segment creation by the daemon.
type CreateOptions struct {
	// Permissions is the file mode of the backing file, e.g. 0660 for a
	// group-writable data segment.
	Permissions os.FileMode

	// GID, when >= 0, is the owning group of the backing file. The group
	// restricts which applications may map the segment writable.
	GID int

	// Purge removes a leftover file before creating. Only the daemon uses
	// this, and only after it has established that the leftover is stale.
	Purge bool
}

// CreateSegment creates and maps a new shared memory segment. Creation is
// exclusive: the daemon is the sole creator of every segment, applications
// only open. An existing live file fails with ErrSegmentExists unless
// opts.Purge is set.
func CreateSegment(name string, id uint32, size uint64, opts CreateOptions) (*Segment, error) {
	path := segmentPath(name)

	if opts.Purge {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to purge stale segment %s: %w", path, err)
		}
	}

	perm := opts.Permissions
	if perm == 0 {
		perm = 0600
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, perm)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSegmentExists, path)
		}
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	cleanup := func() {
		file.Close()
		os.Remove(path)
	}

	if opts.GID >= 0 {
		// Best effort: a daemon running without the privilege keeps the
		// creating user's group, and the mode below still gates access.
		if err := file.Chown(-1, opts.GID); err != nil && !os.IsPermission(err) {
			cleanup()
			return nil, fmt.Errorf("failed to chown segment file: %w", err)
		}
	}
	// Re-apply the mode: the create path runs under the process umask.
	if err := file.Chmod(perm); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to chmod segment file: %w", err)
	}

	if err := file.Truncate(int64(size)); err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to resize segment file: %w", err)
	}

	mem, err := mmapFile(file, int(size))
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{
		File:  file,
		Mem:   mem,
		Path:  path,
		ID:    id,
		owner: true,
	}

	hdr := seg.Header()
	hdr.SetMagic(segmentMagicBytes())
	hdr.SetVersion(SegmentVersion)
	hdr.SetSegmentID(id)
	hdr.SetCreatorPID(uint32(os.Getpid()))
	hdr.SetTotalSize(size)

	return seg, nil
}

// OpenSegment opens and maps an existing segment. The header is validated;
// a magic or version mismatch fails before any other field is trusted.
func OpenSegment(name string, readOnly bool) (*Segment, error) {
	path := segmentPath(name)

	mode := os.O_RDWR
	if readOnly {
		mode = os.O_RDONLY
	}
	file, err := os.OpenFile(path, mode, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to open segment file %s: %w", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat segment file: %w", err)
	}

	size := info.Size()
	if size < SegmentHeaderSize {
		file.Close()
		return nil, fmt.Errorf("segment file too small: %d bytes", size)
	}

	mem, err := mmapFileMode(file, int(size), readOnly)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to mmap segment: %w", err)
	}

	seg := &Segment{
		File: file,
		Mem:  mem,
		Path: path,
	}

	if err := ValidateSegmentHeader(seg.Header(), uint64(size)); err != nil {
		munmapImpl(mem)
		file.Close()
		return nil, err
	}
	seg.ID = seg.Header().SegmentID()

	return seg, nil
}

// StatSegment reports whether a segment file with the given name exists and,
// if mappable, returns its header instance id. The daemon's startup does not
// call it; it purges leftovers after its control-socket bind succeeds.
func StatSegment(name string) (exists bool, instance [16]byte, err error) {
	seg, openErr := OpenSegment(name, true)
	if openErr != nil {
		if os.IsNotExist(unwrapPathError(openErr)) {
			return false, instance, nil
		}
		// The file is there but not a valid segment.
		return true, instance, openErr
	}
	defer seg.Close()
	return true, seg.Header().InstanceID(), nil
}

func unwrapPathError(err error) error {
	for {
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}

// segmentPath generates the file path for a named shared memory segment
func segmentPath(name string) string {
	// Prefer /dev/shm on Linux; fall back to the temp dir elsewhere.
	if isDevShmAvailable() {
		return filepath.Join("/dev/shm", "iox_"+name)
	}
	return filepath.Join(os.TempDir(), "iox_"+name)
}

// isDevShmAvailable checks if /dev/shm is available
func isDevShmAvailable() bool {
	info, err := os.Stat("/dev/shm")
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveSegment removes a segment file by name, ignoring absence.
func RemoveSegment(name string) error {
	err := os.Remove(segmentPath(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// mmapFile memory maps a file read-write
func mmapFile(file *os.File, size int) ([]byte, error) {
	return mmapFileMode(file, size, false)
}

func mmapFileMode(file *os.File, size int, readOnly bool) ([]byte, error) {
	fd := int(file.Fd())

	prot := syscall.PROT_READ | syscall.PROT_WRITE
	if readOnly {
		prot = syscall.PROT_READ
	}

	data, err := syscall.Mmap(fd, 0, size, prot, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return data, nil
}

// munmapImpl unmaps a memory-mapped region
func munmapImpl(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	if err := syscall.Munmap(data); err != nil {
		return fmt.Errorf("munmap failed: %w", err)
	}

	return nil
}
