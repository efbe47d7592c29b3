package pci

import "testing"

func TestConfigAddress(t *testing.T) {
	got := configAddress(1, 2, 3, 0x10)
	want := uint32(0x80000000) | 1<<16 | 2<<11 | 3<<8 | 0x10
	if got != want {
		t.Errorf("expected config address 0x%08x; got 0x%08x", want, got)
	}
}

func resetDriverRegistry() {
	classDrivers = nil
	deviceDrivers = nil
	devices = [maxDevices]Device{}
	deviceCount = 0
}

func TestProbeAllPrefersDeviceDriver(t *testing.T) {
	defer resetDriverRegistry()
	resetDriverRegistry()

	var classHit, deviceHit bool
	RegisterClassDriver(0x01, SubclassAny, func(*Device) { classHit = true })
	RegisterDeviceDriver(0x8086, 0x100e, func(*Device) { deviceHit = true })

	devices[0] = Device{VendorID: 0x8086, DeviceID: 0x100e, Class: 0x01, Subclass: 0x00}
	deviceCount = 1

	ProbeAll()

	if !deviceHit {
		t.Errorf("expected the device-specific driver to run")
	}
	if classHit {
		t.Errorf("expected the class driver to be skipped once the device driver claimed the device")
	}
}

func TestProbeAllFallsBackToClassDriver(t *testing.T) {
	defer resetDriverRegistry()
	resetDriverRegistry()

	var classHit bool
	RegisterClassDriver(0x01, 0x06, func(*Device) { classHit = true })

	devices[0] = Device{VendorID: 0x1234, DeviceID: 0x5678, Class: 0x01, Subclass: 0x06}
	deviceCount = 1

	ProbeAll()

	if !classHit {
		t.Errorf("expected the class driver to run when no device driver matches")
	}
}
