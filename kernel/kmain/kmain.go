// Package kmain implements the kernel's entry point: the orchestration
// sequence that brings up the CPU, memory managers, the Go runtime, device
// drivers and the root filesystem before handing control over to an
// infinite halt loop.
package kmain

import (
	"titankernel/bus/ahci"
	"titankernel/bus/pci"
	_ "titankernel/device/apic"
	"titankernel/fs/ext2"
	"titankernel/fs/ustar"
	"titankernel/fs/vfs"
	"titankernel/kernel"
	"titankernel/kernel/block"
	"titankernel/kernel/cpu"
	"titankernel/kernel/dev"
	"titankernel/kernel/gate"
	"titankernel/kernel/goruntime"
	"titankernel/kernel/hal"
	"titankernel/kernel/hal/multiboot"
	"titankernel/kernel/irq"
	"titankernel/kernel/kfmt"
	"titankernel/kernel/mem"
	"titankernel/kernel/mem/pmm"
	"titankernel/kernel/mem/vmm"
	"strings"
	"unsafe"
)

const (
	picOffset1 = 0x20
	picOffset2 = 0x28
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol visible to the rt0 initialization code. It is
// invoked by the rt0 assembly stub after the GDT has been set up and a
// minimal g0 allows Go code to run on the 4K bootstrap stack.
//
// The rt0 code passes the address of the multiboot info payload supplied by
// the bootloader together with the physical start/end addresses of the
// loaded kernel image.
//
// Kmain is not expected to return. If it does, the rt0 code halts the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	gate.Init()
	irq.PICRemap(picOffset1, picOffset2)
	cpu.EnableInterrupts()

	var err *kernel.Error
	if err = pmm.Init(kernelStart, kernelEnd); err != nil {
		kfmt.Panic(err)
	}

	vmm.SetFrameAllocator(pmm.AllocFrame)
	if err = vmm.Init(kernelStart); err != nil {
		kfmt.Panic(err)
	}

	if err = goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	applyLogLevel()

	hal.DetectHardware()

	if err = pci.Init(); err != nil {
		kfmt.Panic(err)
	}
	pci.ProbeAll()
	block.SetReader(ahci.NewBlockReader())

	mountRoot()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating this call as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// applyLogLevel configures kfmt's log level gate from the "loglevel" boot
// command line argument, leaving the default threshold untouched if it is
// absent or malformed.
func applyLogLevel() {
	lvl, ok := multiboot.GetBootCmdLine()["loglevel"]
	if !ok {
		return
	}

	switch lvl {
	case "0":
		kfmt.SetLogLevel(kfmt.LevelVerbose)
	case "1":
		kfmt.SetLogLevel(kfmt.LevelWarn)
	case "2":
		kfmt.SetLogLevel(kfmt.LevelError)
	case "3":
		kfmt.SetLogLevel(kfmt.LevelSilent)
	}
}

// mountRoot mounts an initrd boot module (if present) at /initrd and then
// resolves and mounts the root filesystem according to the "root" boot
// command line argument, falling back to the initrd module when no root
// device is specified or when mounting it fails.
func mountRoot() {
	mods := multiboot.Modules()

	var initrd []byte
	if len(mods) > 0 {
		initrd = mapModule(mods[0])
		if err := dev.Register("/dev/initrd", dev.TypeSpecial, nil, uint64(len(initrd))); err != nil {
			kfmt.Errorf("kmain: failed to register /dev/initrd: %s\n", err.Error())
		}
		if err := vfs.Mount("/initrd", ustar.Ops{}, initrd); err != nil {
			kfmt.Errorf("kmain: failed to mount initrd archive: %s\n", err.Error())
		} else {
			testRead("/initrd/test.txt")
		}
	}

	root, hasRoot := multiboot.GetBootCmdLine()["root"]

	switch {
	case hasRoot && root == "initrd":
		mountInitrdAsRoot(initrd)
	case hasRoot && strings.HasPrefix(root, "/dev/"):
		diskName := strings.TrimPrefix(root, "/dev/")
		if err := vfs.Mount("/", ext2.Ops{}, diskName); err != nil {
			kfmt.Errorf("kmain: failed to mount %s as ext2 root: %s\n", root, err.Error())
			mountInitrdAsRoot(initrd)
		}
	default:
		mountInitrdAsRoot(initrd)
	}

	testRead("/test.txt")
	testFDRoundtrip("/test.txt")
}

// mountInitrdAsRoot mounts the already-fetched initrd archive bytes at "/".
// It is a no-op if no boot module was present.
func mountInitrdAsRoot(initrd []byte) {
	if initrd == nil {
		return
	}
	if err := vfs.Mount("/", ustar.Ops{}, initrd); err != nil {
		kfmt.Errorf("kmain: failed to mount initrd archive as root: %s\n", err.Error())
	}
}

// testRead performs a diagnostic open/read/close of path, logging the
// outcome. It never panics: a missing diagnostic file is not fatal to boot.
func testRead(path string) {
	fh, err := vfs.Open(path)
	if err != nil {
		kfmt.Infof("kmain: could not open %s: %s\n", path, err.Error())
		return
	}
	defer fh.Close()

	buf := make([]byte, fh.Size())
	n, rerr := fh.ReadAt(buf, 0)
	if rerr != nil {
		kfmt.Infof("kmain: could not read %s: %s\n", path, rerr.Error())
		return
	}

	kfmt.Infof("kmain: read %d bytes from %s\n", n, path)
}

// testFDRoundtrip exercises the file descriptor table API as a smoke test.
func testFDRoundtrip(path string) {
	fd, err := vfs.FDOpen(path)
	if err != nil {
		kfmt.Infof("kmain: FDOpen(%s) failed: %s\n", path, err.Error())
		return
	}

	buf := make([]byte, 64)
	if _, err = vfs.FDRead(fd, buf); err != nil {
		kfmt.Infof("kmain: FDRead(%s) failed: %s\n", path, err.Error())
	}

	if err = vfs.FDClose(fd); err != nil {
		kfmt.Infof("kmain: FDClose(%s) failed: %s\n", path, err.Error())
	}
}

// mapModule maps the physical memory backing a boot module into the
// kernel's address space and returns it as a byte slice aliasing the
// mapped pages.
func mapModule(mod multiboot.Module) []byte {
	size := mem.Size(mod.End - mod.Start)
	page, err := vmm.MapRegion(
		pmm.FrameFromAddress(mod.Start),
		size,
		vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute,
	)
	if err != nil {
		kfmt.Errorf("kmain: failed to map boot module %q: %s\n", mod.Path, err.Error())
		return nil
	}

	return unsafe.Slice((*byte)(unsafe.Pointer(page.Address())), int(size))
}

// Run enters the kernel's idle loop. It never returns.
func Run() {
	for {
		cpu.Halt()
	}
}
