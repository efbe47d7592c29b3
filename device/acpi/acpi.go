// Package acpi locates the ACPI root tables and exposes lookups for the
// handful of tables the rest of the kernel cares about (MADT, FADT).
package acpi

import (
	"titankernel/device"
	"titankernel/device/acpi/table"
	"titankernel/kernel"
	"titankernel/kernel/hal/multiboot"
	"titankernel/kernel/kfmt"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"io"
	"unsafe"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}
	errBadRSDPSignature      = &kernel.Error{Module: "acpi", Message: "RSDP signature mismatch"}

	mapFn         = vmm.Map
	identityMapFn = vmm.IdentityMapRegion
	unmapFn       = vmm.Unmap

	rsdpSignature = [8]byte{'R', 'S', 'D', ' ', 'P', 'T', 'R', ' '}
	fadtSignature = "FACP"

	// rsdtAddr and useXSDT hold the state populated by Init, used by
	// FindTable. They are package-level (rather than tucked away in a
	// struct) since ACPI tables are a single, global, boot-time resource.
	rsdtAddr uintptr
	useXSDT  bool
	tableMap map[string]*table.SDTHeader
)

// Init locates the root system descriptor table pointed to by the RSDP at
// the given physical address (as reported by the bootloader via the
// multiboot ACPI tags) and enumerates every table it lists, caching their
// addresses for later lookup via FindTable. A zero rsdpPhys is a fatal
// condition: without ACPI the kernel cannot locate the MADT/FADT it needs
// to bring up the APIC and power-management registers.
func Init(rsdpPhys uintptr) *kernel.Error {
	if rsdpPhys == 0 {
		return errMissingRSDP
	}

	addr, xsdt, err := parseRSDP(rsdpPhys)
	if err != nil {
		return err
	}

	rsdtAddr, useXSDT = addr, xsdt
	return enumerateTables()
}

// FindTable looks up a previously enumerated ACPI table by its 4-byte
// signature (e.g. "APIC" for the MADT, "FACP" for the FADT) returning its
// physical address and true if found.
func FindTable(signature string) (uintptr, bool) {
	header, ok := tableMap[signature]
	if !ok {
		return 0, false
	}

	return uintptr(unsafe.Pointer(header)), true
}

// acpiDriver adapts the package-level ACPI lookup to the generic device
// driver probing mechanism so that its table dump appears alongside other
// bus/device enumeration output.
type acpiDriver struct{}

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	drv.printTableInfo(w)
	return nil
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

func (*acpiDriver) printTableInfo(w io.Writer) {
	for name, header := range tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables detects and maps all ACPI tables that are present. Besides
// the table list defined by the RSDT/XSDT, this method will also peek into
// the FADT (if found) looking for the address of DSDT.
func enumerateTables() *kernel.Error {
	header, sizeofHeader, err := mapACPITable(rsdtAddr)
	if err != nil {
		return err
	}

	tableMap = make(map[string]*table.SDTHeader)

	var (
		acpiRev      = header.Revision
		payloadLen   = header.Length - uint32(sizeofHeader)
		sdtAddresses []uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	switch useXSDT {
	case true:
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	default:
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		if header, _, err = mapACPITable(addr); err != nil {
			if err == errTableChecksumMismatch {
				continue
			}
			return err
		}

		signature := string(header.Signature[:])
		tableMap[signature] = header

		// The FADT allows us to lookup the DSDT table address
		if signature == fadtSignature {
			fadt := (*table.FADT)(unsafe.Pointer(header))

			dsdtAddr := uintptr(fadt.Dsdt)
			if acpiRev >= acpiRev2Plus {
				dsdtAddr = uintptr(fadt.Ext.Dsdt)
			}

			if header, _, err = mapACPITable(dsdtAddr); err != nil {
				if err == errTableChecksumMismatch {
					continue
				}
				return err
			}

			tableMap[string(header.Signature[:])] = header
		}
	}

	return nil
}

// mapACPITable attempts to map and parse the header for the ACPI table starting
// at the given address. It then uses the length field for the header to expand
// the mapping to cover the table contents and verifies the checksum before
// returning a pointer to the table header.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	var headerPage vmm.Page

	// Identity-map the table header so we can access its length field
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	if headerPage, err = identityMapFn(pmm.FrameFromAddress(tableAddr), sizeofHeader, vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	// Expand mapping to cover the table contents
	headerPageAddr := headerPage.Address() + vmm.PageOffset(tableAddr)
	header = (*table.SDTHeader)(unsafe.Pointer(headerPageAddr))
	if _, err = identityMapFn(pmm.FrameFromAddress(tableAddr), uintptr(header.Length), vmm.FlagPresent); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerPageAddr, header.Length) {
		err = errTableChecksumMismatch
	}

	return header, sizeofHeader, err
}

// parseRSDP maps the RSDP at the given physical address, validates its
// signature and checksum, and returns the physical address of the RSDT (or
// XSDT, for ACPI 2.0+ systems) together with a flag indicating which one was
// returned.
func parseRSDP(rsdpPhys uintptr) (sdtAddr uintptr, xsdt bool, err *kernel.Error) {
	page, err := identityMapFn(pmm.FrameFromAddress(rsdpPhys), unsafe.Sizeof(table.ExtRSDPDescriptor{}), vmm.FlagPresent)
	if err != nil {
		return 0, false, err
	}
	defer unmapFn(page)

	rsdpAddr := page.Address() + vmm.PageOffset(rsdpPhys)
	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpAddr))

	for i, b := range rsdpSignature {
		if rsdp.Signature[i] != b {
			return 0, false, errBadRSDPSignature
		}
	}

	if rsdp.Revision == acpiRev1 {
		if !validTable(rsdpAddr, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, errTableChecksumMismatch
		}

		return uintptr(rsdp.RSDTAddr), false, nil
	}

	// System uses ACPI revision > 1 and provides an extended RSDP which can
	// be accessed at the same place.
	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdpAddr))
	if !validTable(rsdpAddr, uint32(unsafe.Sizeof(*rsdp2))) {
		return 0, false, errTableChecksumMismatch
	}

	return uintptr(rsdp2.XSDTAddr), true, nil
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var (
		i   uint32
		sum uint8
	)

	for i = 0; i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	rsdpPhys, ok := multiboot.RSDP()
	if !ok {
		return nil
	}

	if err := Init(rsdpPhys); err != nil {
		return nil
	}

	return &acpiDriver{}
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderACPI,
		Probe: probeForACPI,
	})
}
