//go:build !linux && !windows

package accel

// ThreadScopedDevices reports whether the sim driver tracks the current
// device per OS thread. On this platform every thread shares one slot.
const ThreadScopedDevices = false

func threadID() int {
	return 0
}
