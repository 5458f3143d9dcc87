//go:build !unix

package ftpcore

import "net"

// receiveBufferBytes returns 0 on platforms without a FIONREAD query;
// the stale-data check then sees only what bufio already buffered.
func receiveBufferBytes(conn net.Conn) int {
	return 0
}
