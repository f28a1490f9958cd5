//go:build unix

package stats

import (
	"time"

	"golang.org/x/sys/unix"
)

// childrenCPUTime is the CPU time of every child this process has reaped,
// which is where isolated workers spend theirs.
func childrenCPUTime() time.Duration {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return 0
	}
	return time.Duration(ru.Utime.Nano() + ru.Stime.Nano())
}
