// Package vfs implements the kernel's virtual filesystem layer: a mount
// table that resolves absolute paths to a filesystem driver by
// longest-prefix match, and a small file descriptor table built on top of
// it. Filesystem drivers (fs/ustar, fs/ext2) never see the FD table; they
// only implement Ops and FileHandle.
package vfs

import (
	"titankernel/kernel"
	"strings"
)

// Ops is implemented by a filesystem driver and registered with Mount.
type Ops interface {
	// Mount is called once, at mount time, with the driver-specific data
	// the caller passed to Mount (e.g. the in-memory archive bytes as a
	// []byte for fs/ustar, or a block device name for fs/ext2). It
	// returns an opaque context the vfs layer passes back unexamined to
	// Unmount and Open.
	Mount(data any) (ctx any, err *kernel.Error)

	// Unmount releases whatever Mount allocated.
	Unmount(ctx any) *kernel.Error

	// Open resolves path (relative to the mount point, with no leading
	// slash) to a FileHandle.
	Open(ctx any, path string) (FileHandle, *kernel.Error)
}

// FileHandle is an open file as returned by an Ops.Open implementation.
type FileHandle interface {
	// ReadAt reads len(buf) bytes starting at offset into buf, returning
	// the number of bytes actually read (fewer than len(buf) at EOF).
	ReadAt(buf []byte, offset int64) (int, *kernel.Error)

	// Size returns the file's total size in bytes.
	Size() int64

	Close() *kernel.Error
}

const maxMounts = 8

type mountEntry struct {
	used bool
	path string
	ops  Ops
	ctx  any
}

var (
	mounts [maxMounts]mountEntry

	errMountTableFull = &kernel.Error{Module: "vfs", Message: "mount table is full"}
	errNoSuchMount     = &kernel.Error{Module: "vfs", Message: "no filesystem is mounted at that path"}
	errNoMountForPath  = &kernel.Error{Module: "vfs", Message: "no mount point covers the requested path"}
)

// Mount registers a filesystem driver at path, calling ops.Mount(data) to
// obtain its context. path must not already have a mount registered under
// it verbatim (a nested mount at a different path is fine — lookups use
// longest-prefix match).
func Mount(path string, ops Ops, data any) *kernel.Error {
	for i := range mounts {
		if !mounts[i].used {
			ctx, err := ops.Mount(data)
			if err != nil {
				return err
			}
			mounts[i] = mountEntry{used: true, path: normalizeMountPath(path), ops: ops, ctx: ctx}
			return nil
		}
	}
	return errMountTableFull
}

// Unmount releases the filesystem mounted at path.
func Unmount(path string) *kernel.Error {
	path = normalizeMountPath(path)
	for i := range mounts {
		if mounts[i].used && mounts[i].path == path {
			err := mounts[i].ops.Unmount(mounts[i].ctx)
			mounts[i] = mountEntry{}
			return err
		}
	}
	return errNoSuchMount
}

func normalizeMountPath(path string) string {
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return path
}

// findMount resolves path to the mount entry with the longest matching
// prefix, and the path remaining below that mount point.
func findMount(path string) (*mountEntry, string, bool) {
	var best *mountEntry
	bestLen := -1

	for i := range mounts {
		if !mounts[i].used {
			continue
		}
		mp := mounts[i].path
		if !pathUnder(path, mp) {
			continue
		}
		if len(mp) > bestLen {
			best = &mounts[i]
			bestLen = len(mp)
		}
	}

	if best == nil {
		return nil, "", false
	}

	rel := strings.TrimPrefix(path, best.path)
	rel = strings.TrimPrefix(rel, "/")
	return best, rel, true
}

func pathUnder(path, mountPoint string) bool {
	if mountPoint == "/" {
		return true
	}
	if path == mountPoint {
		return true
	}
	return strings.HasPrefix(path, mountPoint+"/")
}

// Open resolves an absolute path through the mount table and opens it via
// the owning filesystem driver.
func Open(path string) (FileHandle, *kernel.Error) {
	m, rel, ok := findMount(path)
	if !ok {
		return nil, errNoMountForPath
	}
	return m.ops.Open(m.ctx, rel)
}
