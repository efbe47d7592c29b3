package device

// DetectOrder values control the relative order in which registered drivers
// get a chance to probe the hardware. Lower values run first.
type DetectOrder uint8

const (
	// DetectOrderEarly is used by drivers that must run before everything
	// else (e.g. drivers that other probes depend on).
	DetectOrderEarly DetectOrder = iota * 10
	// DetectOrderBeforeACPI is used by drivers that need to run before the
	// ACPI driver (e.g. the multiboot-supplied framebuffer console).
	DetectOrderBeforeACPI
	// DetectOrderACPI is the priority used by the ACPI driver itself.
	DetectOrderACPI
	// DetectOrderLast is used by drivers that should run after everything
	// else has had a chance to probe the hardware.
	DetectOrderLast DetectOrder = 100
)

// DriverInfo describes a registered driver probe together with the order in
// which it should run relative to other probes.
type DriverInfo struct {
	// Order controls when this probe runs relative to other registered
	// drivers; lower values run first.
	Order DetectOrder

	// Probe attempts to detect and initialize the driver's hardware. It
	// returns nil if the hardware is not present.
	Probe func() Driver
}

// DriverInfoList implements sort.Interface ordering entries by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

// registeredDrivers accumulates every DriverInfo registered via
// RegisterDriver. Drivers register themselves from an init() function so
// that the HAL never needs to know about concrete driver packages.
var registeredDrivers DriverInfoList

// RegisterDriver appends a driver probe to the global registry consulted by
// hal.DetectHardware.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the full set of registered driver probes.
func DriverList() DriverInfoList {
	return registeredDrivers
}
