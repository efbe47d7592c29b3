// Package ahci drives an AHCI (Advanced Host Controller Interface) SATA
// controller: it resets and starts each implemented port, issues IDENTIFY to
// discover the attached drive, parses its MBR partition table, and registers
// the disk and its partitions with kernel/block and kernel/dev so the rest
// of the kernel can address storage by name. It registers itself against
// bus/pci as the class driver for PCI mass-storage/SATA controllers.
package ahci

import (
	"titankernel/bus/pci"
	"titankernel/kernel"
	"titankernel/kernel/cpu"
	"titankernel/kernel/kfmt"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"unsafe"
)

const (
	classMassStorage = 0x01
	subclassSATA     = 0x06

	abarIndex = 5
)

// HBA (host bus adapter) register offsets, relative to the memory-mapped
// ABAR (BAR5) the PCI configuration space hands out.
const (
	regCAP  = 0x00
	regGHC  = 0x04
	regIS   = 0x08
	regPI   = 0x0c
	regVS   = 0x10
	regCAP2 = 0x20
	regBOHC = 0x24

	ghcAE = 1 << 31 // AHCI enable

	portsBase   = 0x100
	portsStride = 0x80
)

// Per-port register offsets, relative to portsBase+port*portsStride.
const (
	portCLB  = 0x00
	portCLBU = 0x04
	portFB   = 0x08
	portFBU  = 0x0c
	portIS   = 0x10
	portIE   = 0x14
	portCMD  = 0x18
	portTFD  = 0x20
	portSIG  = 0x24
	portSSTS = 0x28
	portSCTL = 0x2c
	portSERR = 0x30
	portSACT = 0x34
	portCI   = 0x38
)

const (
	cmdST  = 1 << 0
	cmdFRE = 1 << 4
	cmdFR  = 1 << 14
	cmdCR  = 1 << 15

	tfdBSY = 1 << 7
	tfdDRQ = 1 << 3

	isTFES = 1 << 30

	sigATA   = 0x00000101
	sigATAPI = 0xeb140101

	sstsDETMask = 0xf
	sstsIPMMask = 0xf00
)

// maxPorts bounds the per-controller port state table at the AHCI maximum of
// 32 ports per controller.
const maxPorts = 32
const maxControllers = 4

// controller holds the mapped register window and per-port software state
// for a single AHCI PCI function.
type controller struct {
	abarPhys uintptr
	abarVirt uintptr
	ports    [maxPorts]portState
	diskName [maxPorts]string
}

// portState holds the virtual addresses of the command list, FIS receive
// area and command table this driver allocated for one implemented port, so
// repeated reads do not need to reallocate them.
type portState struct {
	inUse    bool
	clbVirt  uintptr
	clbPhys  uintptr
	fbVirt   uintptr
	fbPhys   uintptr
	ctblVirt uintptr
	ctblPhys uintptr
	bufVirt  uintptr
	bufPhys  uintptr
}

var (
	controllers    [maxControllers]controller
	controllerUsed [maxControllers]bool

	errNoFreeControllerSlots = &kernel.Error{Module: "ahci", Message: "too many AHCI controllers"}
	errMapFailed             = &kernel.Error{Module: "ahci", Message: "failed to map AHCI register window"}
	errAllocFailed           = &kernel.Error{Module: "ahci", Message: "failed to allocate port command structures"}
	errNoCmdSlot             = &kernel.Error{Module: "ahci", Message: "no free command slot"}
	errPortNotImplemented    = &kernel.Error{Module: "ahci", Message: "port is not implemented by this controller"}
	errTaskFileError         = &kernel.Error{Module: "ahci", Message: "device reported a task file error"}
	errCommandTimeout        = &kernel.Error{Module: "ahci", Message: "command did not complete before timeout"}
	errDeviceNotPresent      = &kernel.Error{Module: "ahci", Message: "no device present on port"}

	// mapRegionFn is swapped out in tests.
	mapRegionFn = vmm.MapRegion
)

func init() {
	pci.RegisterClassDriver(classMassStorage, subclassSATA, attach)
}

// attach is invoked by bus/pci.ProbeAll for every discovered AHCI
// controller. It maps the ABAR, globally enables AHCI mode, and identifies
// every implemented port.
func attach(dev *pci.Device) {
	slot := -1
	for i := range controllerUsed {
		if !controllerUsed[i] {
			slot = i
			break
		}
	}
	if slot == -1 {
		kfmt.Printf("ahci: %s\n", errNoFreeControllerSlots.Error())
		return
	}

	abarPhys := uintptr(dev.BAR[abarIndex])
	size := mem.Size(dev.BARSize[abarIndex])
	if size < mem.PageSize {
		size = mem.PageSize
	}

	page, err := mapRegionFn(pmm.FrameFromAddress(abarPhys), size, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute|vmm.FlagDoNotCache)
	if err != nil {
		kfmt.Printf("ahci: %s\n", errMapFailed.Error())
		return
	}

	ctrl := &controllers[slot]
	*ctrl = controller{abarPhys: abarPhys, abarVirt: page.Address() + vmm.PageOffset(abarPhys)}
	controllerUsed[slot] = true

	writeHBA(ctrl, regGHC, readHBA(ctrl, regGHC)|ghcAE)

	pi := readHBA(ctrl, regPI)
	for port := 0; port < maxPorts; port++ {
		if pi&(1<<uint(port)) == 0 {
			continue
		}
		identifyPort(ctrl, port)
	}
}

// findController returns the controller registered under the given
// physical ABAR base address, the same value handed to kernel/block at
// registration time.
func findController(abarPhys uintptr) (*controller, bool) {
	for i := range controllerUsed {
		if controllerUsed[i] && controllers[i].abarPhys == abarPhys {
			return &controllers[i], true
		}
	}
	return nil, false
}

func hbaPortAddr(ctrl *controller, port int, off uint32) uintptr {
	return ctrl.abarVirt + portsBase + uintptr(port)*portsStride + uintptr(off)
}

func readHBA(ctrl *controller, off uint32) uint32 {
	return read32(ctrl.abarVirt + uintptr(off))
}

func writeHBA(ctrl *controller, off uint32, v uint32) {
	write32(ctrl.abarVirt+uintptr(off), v)
}

func readPort(ctrl *controller, port int, off uint32) uint32 {
	return read32(hbaPortAddr(ctrl, port, off))
}

func writePort(ctrl *controller, port int, off uint32, v uint32) {
	write32(hbaPortAddr(ctrl, port, off), v)
}

func read32(addr uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(addr))
}

func write32(addr uintptr, v uint32) {
	*(*uint32)(unsafe.Pointer(addr)) = v
}

func read8(addr uintptr) uint8 {
	return *(*uint8)(unsafe.Pointer(addr))
}

func write8(addr uintptr, v uint8) {
	*(*uint8)(unsafe.Pointer(addr)) = v
}

func write16(addr uintptr, v uint16) {
	*(*uint16)(unsafe.Pointer(addr)) = v
}
