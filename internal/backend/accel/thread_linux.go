//go:build linux

package accel

import "golang.org/x/sys/unix"

// ThreadScopedDevices reports whether the sim driver tracks the current
// device per OS thread, as the CUDA runtime does.
const ThreadScopedDevices = true

func threadID() int {
	return unix.Gettid()
}
