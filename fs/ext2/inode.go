package ext2

import (
	"titankernel/fs/vfs"
	"titankernel/kernel"
)

// Superblock field byte offsets within the 1024-byte superblock.
const (
	sbInodesCount    = 0
	sbBlocksCount    = 4
	sbFirstDataBlock = 20
	sbLogBlockSize   = 24
	sbInodesPerGroup = 40
	sbMagic          = 56
	sbRevLevel       = 76
	sbInodeSize      = 88
)

type superblock struct {
	inodesCount    uint32
	blocksCount    uint32
	firstDataBlock uint32
	logBlockSize   uint32
	inodesPerGroup uint32
	magic          uint16
	revLevel       uint32
	inodeSize      uint16
}

func parseSuperblock(raw []byte) superblock {
	return superblock{
		inodesCount:    le32(raw[sbInodesCount:]),
		blocksCount:    le32(raw[sbBlocksCount:]),
		firstDataBlock: le32(raw[sbFirstDataBlock:]),
		logBlockSize:   le32(raw[sbLogBlockSize:]),
		inodesPerGroup: le32(raw[sbInodesPerGroup:]),
		magic:          le16(raw[sbMagic:]),
		revLevel:       le32(raw[sbRevLevel:]),
		inodeSize:      le16(raw[sbInodeSize:]),
	}
}

// Group descriptor field byte offsets (single block group only).
const (
	gdBlockBitmap = 0
	gdInodeBitmap = 4
	gdInodeTable  = 8
)

type groupDesc struct {
	inodeTable uint32
}

func readGroupDescriptor(diskName string, blockSize, gdBlock uint32) (groupDesc, *kernel.Error) {
	buf := make([]byte, blockSize)
	if err := readBlock(diskName, blockSize, gdBlock, buf); err != nil {
		return groupDesc{}, err
	}
	return groupDesc{inodeTable: le32(buf[gdInodeTable:])}, nil
}

// Inode field byte offsets within the classic 128-byte ext2 inode layout;
// i_block (the 12 direct pointers this reader supports, plus the singly/
// doubly/triply-indirect pointers it does not) starts at 40.
const (
	inodeMode   = 0
	inodeSize32 = 4
	inodeBlock  = 40

	modeTypeMask = 0xf000
	modeDir      = 0x4000
)

type inode struct {
	mode         uint16
	size         uint32
	directBlocks [directBlockCount]uint32
}

func readInode(ctx *fsContext, ino uint32) (*inode, *kernel.Error) {
	index := ino - 1
	inodesPerBlock := ctx.blockSize / uint32(ctx.inodeSize)
	blockIndex := ctx.inodeTableBlock + index/inodesPerBlock
	offsetInBlock := (index % inodesPerBlock) * uint32(ctx.inodeSize)

	buf := make([]byte, ctx.blockSize)
	if err := readBlock(ctx.diskName, ctx.blockSize, blockIndex, buf); err != nil {
		return nil, err
	}

	raw := buf[offsetInBlock:]
	n := &inode{
		mode: le16(raw[inodeMode:]),
		size: le32(raw[inodeSize32:]),
	}
	for i := 0; i < directBlockCount; i++ {
		n.directBlocks[i] = le32(raw[inodeBlock+i*4:])
	}
	return n, nil
}

// findInDir walks only the direct blocks of dirInode's data, looking for an
// entry named name.
func findInDir(ctx *fsContext, dirInode *inode, name string) (uint32, *kernel.Error) {
	buf := make([]byte, ctx.blockSize)

	for _, blockNum := range dirInode.directBlocks {
		if blockNum == 0 {
			continue
		}
		if err := readBlock(ctx.diskName, ctx.blockSize, blockNum, buf); err != nil {
			return 0, err
		}

		for _, entry := range vfs.ParseDirBlock(buf) {
			if entry.Name == name {
				return entry.Inode, nil
			}
		}
	}

	return 0, errNoSuchFile
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
