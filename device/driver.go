package device

import (
	"titankernel/kernel"
	"io"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output should be
	// written to w, which the HAL has already prefixed with the driver's
	// name and version.
	DriverInit(w io.Writer) *kernel.Error
}
