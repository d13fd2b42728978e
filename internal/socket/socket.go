//go:build linux

// Package socket opens the kernel's NETLINK_KOBJECT_UEVENT socket and
// drains it in non-blocking mode, handing each accepted datagram to the
// uevent parser. It owns no device-manager state; it is purely the
// transport leaf of the pipeline.
package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/smazurov/ueventd/internal/metrics"
)

const (
	netlinkKobjectUevent = 15
	kernelBroadcastGroup = 1

	// maxDatagram is the largest uevent record this drain will accept.
	// Anything the kernel delivers that fills this buffer is treated as
	// truncated/overflowed and discarded rather than handed to the
	// parser half-formed.
	maxDatagram = 1024

	// targetRecvBuf is the SO_RCVBUF size requested at bind time. The
	// kernel may silently cap this lower; Drain does not treat a
	// smaller effective buffer as an error.
	targetRecvBuf = 1 << 20 // 1 MiB
)

// Socket wraps a bound, non-blocking NETLINK_KOBJECT_UEVENT file
// descriptor.
type Socket struct {
	fd int
}

// Open creates and binds the uevent netlink socket: non-blocking,
// close-on-exec, with a best-effort large receive buffer.
func Open() (*Socket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKobjectUevent)
	if err != nil {
		return nil, fmt.Errorf("socket: open netlink socket: %w", err)
	}

	// Best-effort: a failure here just means a smaller kernel-assigned
	// default buffer, not a fatal condition.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, targetRecvBuf)

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelBroadcastGroup}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("socket: bind netlink socket: %w", err)
	}

	return &Socket{fd: fd}, nil
}

// Close releases the underlying file descriptor.
func (s *Socket) Close() error {
	return unix.Close(s.fd)
}

// Fd returns the raw file descriptor, which the daemon's event loop polls
// for readability.
func (s *Socket) Fd() int {
	return s.fd
}

// Drain reads every currently-pending datagram from the socket, calling
// handle for each one that fits within maxDatagram, and returns once the
// kernel reports EAGAIN (no more data queued). It never blocks.
//
// Oversized datagrams -- ones that fill the read buffer exactly, which
// this drain treats as the overflow signal the spec calls for -- are
// discarded without being handed to handle.
func (s *Socket) Drain(handle func(msg []byte)) error {
	buf := make([]byte, maxDatagram)
	for {
		n, _, err := unix.Recvfrom(s.fd, buf, 0)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
				return nil
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("socket: recvfrom: %w", err)
		}

		if n <= 0 {
			continue
		}
		if n >= len(buf) {
			// Filled the buffer: presumed truncated/overflow, discard.
			metrics.SocketOverflows.Inc()
			continue
		}

		// Pad with a trailing null so UeventParser's buffer-sentinel
		// assumption holds even if the kernel didn't null-terminate
		// the final record.
		msg := make([]byte, n+1)
		copy(msg, buf[:n])
		handle(msg)
	}
}
