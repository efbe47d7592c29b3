package cpu

// PrepareAPTrampoline copies the real-mode application-processor trampoline
// into the page-aligned, sub-1MiB physical address destPhys and patches its
// protected-mode far jump to land inside the copy, returning the physical
// address the local APIC's INIT-SIPI-SIPI sequence should target (destPhys
// itself, since the SIPI vector is destPhys>>12).
//
// entryFn is called by the trampoline once the booting AP has reached long
// mode, on the AP's own stack; it must never return.
func PrepareAPTrampoline(destPhys uintptr, entryFn func(cpuIndex int)) uintptr

// APBootedCount returns the number of application processors that have
// called back into the trampoline's landing code so far.
func APBootedCount() int
