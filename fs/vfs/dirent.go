package vfs

// DirEntry is one entry of a parsed directory block, in the fixed record
// format shared by this kernel's directory-bearing filesystems (currently
// only fs/ext2): a 32-bit inode number, a 16-bit record length spanning the
// whole entry (so walkers can skip deleted entries without re-parsing
// name_len), an 8-bit name length, then the name bytes themselves,
// unterminated.
type DirEntry struct {
	Inode uint32
	Name  string
}

const dirEntryHeaderSize = 7 // ino(4) + rec_len(2) + name_len(1)

// ParseDirBlock walks every directory record in data, skipping deleted
// entries (Inode == 0), and returns them in on-disk order.
func ParseDirBlock(data []byte) []DirEntry {
	var entries []DirEntry

	off := 0
	for off+dirEntryHeaderSize <= len(data) {
		ino := le32(data[off:])
		recLen := int(le16(data[off+4:]))
		nameLen := int(data[off+6])

		if recLen < dirEntryHeaderSize || off+recLen > len(data) {
			break
		}

		if ino != 0 && off+dirEntryHeaderSize+nameLen <= len(data) {
			name := string(data[off+dirEntryHeaderSize : off+dirEntryHeaderSize+nameLen])
			entries = append(entries, DirEntry{Inode: ino, Name: name})
		}

		off += recLen
	}

	return entries
}

func le16(b []byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
