//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package discovery

import "syscall"

// reuseControl is a no-op where the reuse options are unavailable. Only the
// first socket on the discovery port binds; the rest are skipped with a log line.
func reuseControl(bool) func(network, address string, c syscall.RawConn) error {
	return nil
}
