// Package ext2 implements a minimal, read-only ext2 reader: a single block
// group, direct-blocks-only (no indirect block) filesystem driver that
// satisfies fs/vfs.Ops, reading through kernel/block by device name rather
// than owning its own disk I/O.
package ext2

import (
	"titankernel/fs/vfs"
	"titankernel/kernel"
	"titankernel/kernel/block"
	"strings"
)

const (
	sectorSize        = 512
	superblockLBA     = 2 // byte offset 1024 / 512
	superblockSectors = 2
	ext2Magic         = 0xef53
	rootInode         = 2
	directBlockCount  = 12
	defaultInodeSize  = 128
)

// Ops implements fs/vfs.Ops over an ext2 volume. Mount expects its data
// argument to be the kernel/block device name the volume lives on (e.g.
// "sda1").
type Ops struct{}

var (
	errBadMountData = &kernel.Error{Module: "ext2", Message: "mount data must be a kernel/block device name (string)"}
	errBadMagic     = &kernel.Error{Module: "ext2", Message: "superblock magic does not match ext2"}
	errNoSuchFile   = &kernel.Error{Module: "ext2", Message: "no such file or directory"}
	errNotAFile     = &kernel.Error{Module: "ext2", Message: "path resolved to a directory, not a file"}
)

type fsContext struct {
	diskName        string
	sb              superblock
	blockSize       uint32
	inodeSize       uint16
	inodeTableBlock uint32
}

// Mount reads the superblock and single group descriptor table off the
// named device, validating the ext2 magic number before anything else.
func (Ops) Mount(data any) (any, *kernel.Error) {
	diskName, ok := data.(string)
	if !ok {
		return nil, errBadMountData
	}

	var raw [superblockSectors * sectorSize]byte
	if err := block.Read(diskName, superblockLBA, superblockSectors, raw[:]); err != nil {
		return nil, err
	}

	sb := parseSuperblock(raw[:])
	if sb.magic != ext2Magic {
		return nil, errBadMagic
	}

	blockSize := uint32(1024) << sb.logBlockSize
	inodeSize := uint16(defaultInodeSize)
	if sb.revLevel >= 1 && sb.inodeSize != 0 {
		inodeSize = sb.inodeSize
	}

	gdBlock := sb.firstDataBlock + 1
	gd, err := readGroupDescriptor(diskName, blockSize, gdBlock)
	if err != nil {
		return nil, err
	}

	return &fsContext{
		diskName:        diskName,
		sb:              sb,
		blockSize:       blockSize,
		inodeSize:       inodeSize,
		inodeTableBlock: gd.inodeTable,
	}, nil
}

// Unmount is a no-op: Mount allocates no resources beyond Go heap memory
// that the garbage collector reclaims once ctx is dropped.
func (Ops) Unmount(ctx any) *kernel.Error {
	return nil
}

// Open resolves path (relative to the mount point, no leading slash)
// component-by-component starting from the root inode.
func (Ops) Open(ctx any, path string) (vfs.FileHandle, *kernel.Error) {
	fctx := ctx.(*fsContext)

	cur := uint32(rootInode)
	for _, component := range strings.Split(path, "/") {
		if component == "" {
			continue
		}

		dirInode, err := readInode(fctx, cur)
		if err != nil {
			return nil, err
		}

		next, err := findInDir(fctx, dirInode, component)
		if err != nil {
			return nil, err
		}
		cur = next
	}

	node, err := readInode(fctx, cur)
	if err != nil {
		return nil, err
	}
	if node.mode&modeTypeMask == modeDir && path != "" {
		return nil, errNotAFile
	}

	return &fileHandle{ctx: fctx, inode: node}, nil
}

type fileHandle struct {
	ctx   *fsContext
	inode *inode
}

func (h *fileHandle) Size() int64 {
	return int64(h.inode.size)
}

// ReadAt copies file data out of the inode's direct blocks only; a read
// that would need to cross into the first indirect block stops short,
// matching this reader's direct-blocks-only scope.
func (h *fileHandle) ReadAt(buf []byte, offset int64) (int, *kernel.Error) {
	if offset < 0 || offset >= int64(h.inode.size) {
		return 0, nil
	}

	blockSize := int64(h.ctx.blockSize)
	remaining := int64(h.inode.size) - offset
	toRead := int64(len(buf))
	if toRead > remaining {
		toRead = remaining
	}

	blockBuf := make([]byte, h.ctx.blockSize)
	total := int64(0)

	for total < toRead {
		curOffset := offset + total
		blockIndex := curOffset / blockSize
		if blockIndex >= directBlockCount {
			break
		}

		blockNum := h.inode.directBlocks[blockIndex]
		if blockNum == 0 {
			break
		}

		if err := readBlock(h.ctx.diskName, h.ctx.blockSize, blockNum, blockBuf); err != nil {
			return int(total), err
		}

		blockOffset := curOffset % blockSize
		n := copy(buf[total:toRead], blockBuf[blockOffset:])
		total += int64(n)
	}

	return int(total), nil
}

func (h *fileHandle) Close() *kernel.Error {
	return nil
}

func readBlock(diskName string, blockSize uint32, blockNum uint32, buf []byte) *kernel.Error {
	sectorsPerBlock := blockSize / sectorSize
	lba := uint64(blockNum) * uint64(sectorsPerBlock)
	return block.Read(diskName, lba, uint16(sectorsPerBlock), buf[:blockSize])
}
