package vfs

import "titankernel/kernel"

const maxFDs = 32

type fdEntry struct {
	used bool
	fh   FileHandle
	pos  int64
}

var (
	fds [maxFDs]fdEntry

	errTooManyOpenFiles = &kernel.Error{Module: "vfs", Message: "too many open files"}
	errBadFD            = &kernel.Error{Module: "vfs", Message: "bad file descriptor"}
)

// FDOpen resolves path and installs it in the descriptor table, returning
// the new descriptor.
func FDOpen(path string) (int, *kernel.Error) {
	fh, err := Open(path)
	if err != nil {
		return -1, err
	}

	for i := range fds {
		if !fds[i].used {
			fds[i] = fdEntry{used: true, fh: fh}
			return i, nil
		}
	}

	fh.Close()
	return -1, errTooManyOpenFiles
}

// FDRead reads into buf from fd's current position, advancing it by the
// number of bytes read.
func FDRead(fd int, buf []byte) (int, *kernel.Error) {
	e, err := fdLookup(fd)
	if err != nil {
		return 0, err
	}

	n, rerr := e.fh.ReadAt(buf, e.pos)
	e.pos += int64(n)
	if rerr != nil {
		return n, rerr
	}
	return n, nil
}

// FDSeek repositions fd's read cursor to offset and returns the new
// position.
func FDSeek(fd int, offset int64) (int64, *kernel.Error) {
	e, err := fdLookup(fd)
	if err != nil {
		return 0, err
	}
	e.pos = offset
	return e.pos, nil
}

// FDClose closes fd and frees its table slot.
func FDClose(fd int) *kernel.Error {
	e, err := fdLookup(fd)
	if err != nil {
		return err
	}
	closeErr := e.fh.Close()
	fds[fd] = fdEntry{}
	return closeErr
}

func fdLookup(fd int) (*fdEntry, *kernel.Error) {
	if fd < 0 || fd >= maxFDs || !fds[fd].used {
		return nil, errBadFD
	}
	return &fds[fd], nil
}
