//go:build !linux

package shim

// waitStopped is only implemented on linux, the one platform the shim runs
// tasks on.
func waitStopped(pid int) error {
	return nil
}
