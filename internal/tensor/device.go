package tensor

import "fmt"

// DeviceKind distinguishes host memory from accelerator memory.
type DeviceKind int

// Supported device kinds.
const (
	Host DeviceKind = iota
	Accelerator
)

// String returns a human-readable kind name.
func (k DeviceKind) String() string {
	switch k {
	case Host:
		return "host"
	case Accelerator:
		return "accelerator"
	default:
		return "unknown"
	}
}

// Device identifies where a buffer lives. Ordinal is meaningful only for
// accelerators; Label is informational and ignored by Equal.
type Device struct {
	Kind    DeviceKind
	Ordinal int
	Label   string
}

// HostDevice returns the host device.
func HostDevice() Device {
	return Device{Kind: Host, Label: "host"}
}

// AcceleratorDevice returns the accelerator with the given ordinal.
func AcceleratorDevice(ordinal int, label string) Device {
	return Device{Kind: Accelerator, Ordinal: ordinal, Label: label}
}

// IsHost reports whether d is the host.
func (d Device) IsHost() bool {
	return d.Kind == Host
}

// Equal reports whether two devices address the same memory space.
func (d Device) Equal(other Device) bool {
	if d.Kind != other.Kind {
		return false
	}
	if d.Kind == Host {
		return true
	}
	return d.Ordinal == other.Ordinal
}

// String renders the device as "host" or "accelerator:N(label)".
func (d Device) String() string {
	if d.Kind == Host {
		return "host"
	}
	if d.Label == "" {
		return fmt.Sprintf("accelerator:%d", d.Ordinal)
	}
	return fmt.Sprintf("accelerator:%d(%s)", d.Ordinal, d.Label)
}
