//go:build darwin || linux

package netpool

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// probeAlive asks the kernel whether the socket already hit an error or
// hangup. Inbound readiness is not a death signal here, a parked
// multiplexed connection legitimately has frames waiting.
func probeAlive(raw net.Conn) bool {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// *tls.Conn or a polyfilled TLS connection
		raw = t.NetConn()
	}
	sc, ok := raw.(syscall.Conn)
	if !ok {
		return true
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return true
	}
	alive := true
	rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: 0}}
		if n, err := unix.Poll(fds, 0); err == nil && n > 0 {
			if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
				alive = false
			}
		}
	})
	return alive
}
