//go:build !unix

package api

import "net"

func setNoDelay(c net.Conn) error {
	if tcp, ok := c.(*net.TCPConn); ok {
		return tcp.SetNoDelay(true)
	}
	return nil
}
