//go:build unix

package ftpcore

import (
	"net"

	"golang.org/x/sys/unix"
)

// receiveBufferBytes returns the number of bytes queued in the kernel
// receive buffer, or 0 if the query is not possible.
func receiveBufferBytes(conn net.Conn) int {
	tcp, ok := conn.(*net.TCPConn)
	if !ok {
		return 0
	}

	rc, err := tcp.SyscallConn()
	if err != nil {
		return 0
	}

	var n int
	_ = rc.Control(func(fd uintptr) {
		n, _ = unix.IoctlGetInt(int(fd), unix.SIOCINQ)
	})
	return n
}
