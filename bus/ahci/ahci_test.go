package ahci

import (
	"testing"
	"unsafe"
)

func resetControllers() {
	controllers = [maxControllers]controller{}
	controllerUsed = [maxControllers]bool{}
}

func TestFindController(t *testing.T) {
	defer resetControllers()
	resetControllers()

	controllers[0] = controller{abarPhys: 0x1000}
	controllerUsed[0] = true
	controllers[1] = controller{abarPhys: 0x2000}
	controllerUsed[1] = true

	ctrl, ok := findController(0x2000)
	if !ok || ctrl != &controllers[1] {
		t.Fatalf("expected to find controller 1 by its abar; got %+v, %v", ctrl, ok)
	}

	if _, ok := findController(0x3000); ok {
		t.Fatal("expected no controller registered under 0x3000")
	}
}

func TestWriteH2DFIS(t *testing.T) {
	var buf [64]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	writeH2DFIS(base, ataCmdReadDMAExt, 0x0102030405, 3, false)

	if buf[0] != fisTypeRegH2D {
		t.Fatalf("expected FIS type 0x27; got 0x%x", buf[0])
	}
	if buf[1]&(1<<7) == 0 {
		t.Fatal("expected the command bit to be set")
	}
	if buf[2] != ataCmdReadDMAExt {
		t.Fatalf("expected command byte 0x25; got 0x%x", buf[2])
	}
	if buf[4] != 0x05 || buf[5] != 0x04 || buf[6] != 0x03 {
		t.Fatalf("unexpected low LBA bytes: %x %x %x", buf[4], buf[5], buf[6])
	}
	if buf[8] != 0x02 || buf[9] != 0x01 || buf[10] != 0x00 {
		t.Fatalf("unexpected high LBA bytes: %x %x %x", buf[8], buf[9], buf[10])
	}
	if buf[12] != 3 || buf[13] != 0 {
		t.Fatalf("unexpected sector count bytes: %x %x", buf[12], buf[13])
	}
	if buf[7]&(1<<6) == 0 {
		t.Fatal("expected the LBA mode bit to be set for a non-ATAPI command")
	}
}

func TestWriteH2DFISATAPI(t *testing.T) {
	var buf [64]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	writeH2DFIS(base, atapiCmdPacket, 0, 0, true)

	if buf[7]&(1<<6) != 0 {
		t.Fatal("expected the LBA mode bit to be clear for an ATAPI packet command")
	}
}

func TestWritePRDT(t *testing.T) {
	var buf [256]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	writePRDT(base, 0xdeadb000, 4096)

	dba := *(*uint32)(unsafe.Pointer(base + prdtOffset))
	dbc := *(*uint32)(unsafe.Pointer(base + prdtOffset + 12))

	if dba != 0xdeadb000 {
		t.Fatalf("expected DBA 0xdeadb000; got 0x%x", dba)
	}
	if dbc != (4096-1)|(1<<31) {
		t.Fatalf("expected DBC to encode byte count - 1 with IOC set; got 0x%x", dbc)
	}
}

func TestSetCmdHeaderFlags(t *testing.T) {
	var clb [256]byte
	ps := &portState{clbVirt: uintptr(unsafe.Pointer(&clb[0]))}

	setCmdHeaderFlags(ps, 0, 5, true, true, 2)

	b0 := clb[0]
	if b0&0x1f != 5 {
		t.Fatalf("expected cfl=5; got %d", b0&0x1f)
	}
	if b0&(1<<5) == 0 {
		t.Fatal("expected the ATAPI bit to be set")
	}
	if b0&(1<<6) == 0 {
		t.Fatal("expected the write bit to be set")
	}

	prdtl := *(*uint16)(unsafe.Pointer(uintptr(unsafe.Pointer(&clb[0])) + 2))
	if prdtl != 2 {
		t.Fatalf("expected prdtl=2; got %d", prdtl)
	}
}

func TestParseMBRPartitions(t *testing.T) {
	var buf [512]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	buf[mbrSignatureOffset] = 0x55
	buf[mbrSignatureOffset+1] = 0xaa

	writeMBREntry(buf[:], 0, 0x83, 2048, 1048576)
	// Entries 1-3 are left zeroed (empty).

	parts, ok := parseMBRPartitions(base)
	if !ok {
		t.Fatal("expected a valid MBR signature")
	}
	if len(parts) != 1 {
		t.Fatalf("expected exactly one populated partition; got %d", len(parts))
	}
	if parts[0].index != 1 || parts[0].startLBA != 2048 || parts[0].sectorCount != 1048576 {
		t.Fatalf("unexpected partition entry: %+v", parts[0])
	}
}

func TestParseMBRPartitionsBadSignature(t *testing.T) {
	var buf [512]byte
	base := uintptr(unsafe.Pointer(&buf[0]))

	if _, ok := parseMBRPartitions(base); ok {
		t.Fatal("expected a zeroed buffer to fail MBR signature validation")
	}
}

func writeMBREntry(buf []byte, index int, partType byte, startLBA, count uint32) {
	off := mbrPartitionTable + index*mbrPartitionSize
	buf[off+4] = partType
	*(*uint32)(unsafe.Pointer(&buf[off+8])) = startLBA
	*(*uint32)(unsafe.Pointer(&buf[off+12])) = count
}
