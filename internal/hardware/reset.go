package hardware

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Resetter performs a hard device reset. A successful Reset does not return
// on real hardware.
type Resetter interface {
	Reset() error
}

// SystemResetter restarts the machine through the reboot syscall. The
// process needs CAP_SYS_BOOT.
type SystemResetter struct{}

// Reset flushes filesystems and restarts.
func (SystemResetter) Reset() error {
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// ExitResetter ends the process and leaves the restart to the service
// supervisor.
type ExitResetter struct {
	Exit func(code int)
}

// Reset calls Exit with status 0.
func (r ExitResetter) Reset() error {
	r.Exit(0)
	return nil
}

// ResetterFunc adapts a function to Resetter.
type ResetterFunc func() error

// Reset calls f.
func (f ResetterFunc) Reset() error {
	return f()
}
