//go:build linux

package monitor

import (
	"golang.org/x/sys/unix"
)

const maxNice = 19

// lowerProcessPriority raises the nice value of the process by one.
func lowerProcessPriority() error {
	// the raw syscall reports 20 - nice
	raw, err := unix.Getpriority(unix.PRIO_PROCESS, 0)
	if err != nil {
		return err
	}
	nice := 20 - raw
	if nice >= maxNice {
		return nil
	}
	return unix.Setpriority(unix.PRIO_PROCESS, 0, nice+1)
}
