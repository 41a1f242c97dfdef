//go:build unix

package api

import (
	"net"

	"golang.org/x/sys/unix"
)

// setNoDelay disables Nagle on the raw socket so each frame leaves as
// soon as it is written.
func setNoDelay(c net.Conn) error {
	tcp, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	raw, err := tcp.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	if err := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	}); err != nil {
		return err
	}
	return sockErr
}
