//go:build linux

package cmd

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pollTimeoutMillis bounds how long waitReadable blocks before returning
// to let the caller re-check ctx.Done(); it is not a data timeout.
const pollTimeoutMillis = 1000

// waitReadable blocks until fd has data queued or the timeout elapses,
// retrying internally on EINTR so callers never see spurious wakeups.
func waitReadable(fd int) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		_, err := unix.Poll(fds, pollTimeoutMillis)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}
