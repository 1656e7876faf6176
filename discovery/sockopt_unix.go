//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseControl lets every per-interface socket bind the shared discovery port.
func reuseControl(broadcast bool) func(network, address string, c syscall.RawConn) error {
	return func(_, _ string, c syscall.RawConn) error {
		var sockErr error
		err := c.Control(func(fd uintptr) {
			opts := []int{unix.SO_REUSEADDR, unix.SO_REUSEPORT}
			if broadcast {
				opts = append(opts, unix.SO_BROADCAST)
			}
			for _, opt := range opts {
				if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); sockErr != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}
		return sockErr
	}
}
