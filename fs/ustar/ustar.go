// Package ustar implements a read-only USTAR (POSIX tar) archive reader
// that mounts directly over an in-memory byte slice — typically a boot
// module handed to the kernel by the bootloader — and satisfies
// fs/vfs.Ops so it can be mounted like any other filesystem.
package ustar

import (
	"titankernel/fs/vfs"
	"titankernel/kernel"
	"strings"
)

const (
	blockSize = 512

	nameOffset   = 0
	nameSize     = 100
	sizeOffset   = 124
	sizeSize     = 12
	typeOffset   = 156
	prefixOffset = 345
	prefixSize   = 155

	typeRegularOld = 0
	typeRegular    = '0'
)

type fileEntry struct {
	name string
	data []byte
}

type archive struct {
	files []fileEntry
}

// Ops implements fs/vfs.Ops over an in-memory USTAR archive. Mount expects
// its data argument to be the archive's raw bytes ([]byte).
type Ops struct{}

var (
	errBadMountData = &kernel.Error{Module: "ustar", Message: "mount data must be a []byte archive image"}
	errNoSuchFile   = &kernel.Error{Module: "ustar", Message: "no such file in archive"}
)

// Mount parses data (expected to be a []byte holding the full archive) into
// an in-memory file index. No copies of file contents are made; each
// fileEntry's data slice aliases the original archive bytes.
func (Ops) Mount(data any) (any, *kernel.Error) {
	blob, ok := data.([]byte)
	if !ok {
		return nil, errBadMountData
	}
	return parseArchive(blob), nil
}

// Unmount is a no-op: the archive holds no resources beyond the byte slice
// the caller owns.
func (Ops) Unmount(ctx any) *kernel.Error {
	return nil
}

// Open looks up path (already stripped of the mount prefix) in the parsed
// archive index.
func (Ops) Open(ctx any, path string) (vfs.FileHandle, *kernel.Error) {
	arc := ctx.(*archive)
	path = normalizeName(path)

	for i := range arc.files {
		if arc.files[i].name == path {
			return &fileHandle{data: arc.files[i].data}, nil
		}
	}
	return nil, errNoSuchFile
}

// parseArchive walks consecutive 512-byte header blocks until it hits a
// zero-filled header (name[0] == 0), indexing every regular-file entry; all
// other typeflags (directories, symlinks, device nodes, ...) are skipped,
// matching the original reader's read-only, files-only scope.
func parseArchive(blob []byte) *archive {
	arc := &archive{}

	off := 0
	for off+blockSize <= len(blob) {
		hdr := blob[off : off+blockSize]
		if hdr[0] == 0 {
			break
		}

		size, ok := parseOctal(hdr[sizeOffset : sizeOffset+sizeSize])
		if !ok {
			break
		}

		typeflag := hdr[typeOffset]
		dataStart := off + blockSize

		if typeflag == typeRegular || typeflag == typeRegularOld {
			end := dataStart + size
			if end > len(blob) {
				end = len(blob)
			}
			name := fullName(hdr)
			arc.files = append(arc.files, fileEntry{name: normalizeName(name), data: blob[dataStart:end]})
		}

		off = dataStart + roundUp512(size)
	}

	return arc
}

// fullName joins the USTAR prefix field (for names too long for the legacy
// 100-byte name field) with the name field itself.
func fullName(hdr []byte) string {
	name := cString(hdr[nameOffset : nameOffset+nameSize])
	prefix := cString(hdr[prefixOffset : prefixOffset+prefixSize])
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// parseOctal decodes a NUL/space-terminated ASCII octal field, as used by
// every numeric USTAR header field.
func parseOctal(b []byte) (int, bool) {
	n := 0
	for _, c := range b {
		if c == 0 || c == ' ' {
			break
		}
		if c < '0' || c > '7' {
			return 0, false
		}
		n = n<<3 | int(c-'0')
	}
	return n, true
}

func roundUp512(n int) int {
	return (n + blockSize - 1) &^ (blockSize - 1)
}

func normalizeName(name string) string {
	name = strings.TrimPrefix(name, "./")
	name = strings.TrimPrefix(name, "/")
	return name
}

type fileHandle struct {
	data []byte
}

func (h *fileHandle) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset < 0 || offset >= int64(len(h.data)) {
		return 0, nil
	}
	return copy(buf, h.data[offset:]), nil
}

func (h *fileHandle) Size() int64 {
	return int64(len(h.data))
}

func (h *fileHandle) Close() *kernel.Error {
	return nil
}
