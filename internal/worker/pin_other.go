//go:build !linux

package worker

import "fmt"

// pinCPU is unsupported outside Linux; BSD/Darwin workers run without a
// hard CPU pin and rely on the OS scheduler.
func pinCPU(cpu int) error {
	return fmt.Errorf("cpu pinning is not supported on this platform")
}
