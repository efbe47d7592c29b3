package ahci

import "titankernel/kernel/cpu"

const spinLimit = 1_000_000

// stopPort clears ST and FRE and waits for the controller to acknowledge
// that both the command engine and the FIS receive engine have actually
// stopped (CR and FR clear), matching ahci_stop_port's ordering.
func stopPort(ctrl *controller, port int) {
	cmd := readPort(ctrl, port, portCMD)
	cmd &^= cmdST
	writePort(ctrl, port, portCMD, cmd)

	for i := 0; i < spinLimit; i++ {
		if readPort(ctrl, port, portCMD)&cmdCR == 0 {
			break
		}
		cpu.IOWait()
	}

	cmd = readPort(ctrl, port, portCMD)
	cmd &^= cmdFRE
	writePort(ctrl, port, portCMD, cmd)

	for i := 0; i < spinLimit; i++ {
		if readPort(ctrl, port, portCMD)&cmdFR == 0 {
			break
		}
		cpu.IOWait()
	}
}

// startPort sets FRE and ST, waiting for BSY/DRQ to clear first so the
// controller is not asked to start against a wedged device. A command engine
// that is still running (CR set) is stopped first, and after ST is set the
// function spins until CR reports the engine running.
func startPort(ctrl *controller, port int) {
	for i := 0; i < spinLimit; i++ {
		if readPort(ctrl, port, portTFD)&(tfdBSY|tfdDRQ) == 0 {
			break
		}
		cpu.IOWait()
	}

	if readPort(ctrl, port, portCMD)&cmdCR != 0 {
		stopPort(ctrl, port)
	}

	cmd := readPort(ctrl, port, portCMD)
	cmd |= cmdFRE
	writePort(ctrl, port, portCMD, cmd)

	cmd = readPort(ctrl, port, portCMD)
	cmd |= cmdST
	writePort(ctrl, port, portCMD, cmd)

	for i := 0; i < spinLimit; i++ {
		if readPort(ctrl, port, portCMD)&cmdCR != 0 {
			break
		}
		cpu.IOWait()
	}
}

// portResetAndWait performs a COMRESET against the port's SATA link and
// waits for the PHY to report a device present and in active power
// management state (DET==3, IPM==1), returning false if no device answers.
func portResetAndWait(ctrl *controller, port int) bool {
	writePort(ctrl, port, portSCTL, (readPort(ctrl, port, portSCTL)&^uint32(0xf))|1)
	for i := 0; i < 1000; i++ {
		cpu.IOWait()
	}
	writePort(ctrl, port, portSCTL, readPort(ctrl, port, portSCTL)&^uint32(0xf))

	for i := 0; i < spinLimit; i++ {
		ssts := readPort(ctrl, port, portSSTS)
		det := ssts & sstsDETMask
		ipm := (ssts & sstsIPMMask) >> 8
		if det == 3 && ipm == 1 {
			return true
		}
		cpu.IOWait()
	}
	return false
}

// findCmdSlot scans SACT|CI for the first command slot that is neither
// active nor pending completion.
func findCmdSlot(ctrl *controller, port int) (int, bool) {
	busy := readPort(ctrl, port, portSACT) | readPort(ctrl, port, portCI)
	for slot := 0; slot < cmdSlotCount; slot++ {
		if busy&(1<<uint(slot)) == 0 {
			return slot, true
		}
	}
	return 0, false
}
