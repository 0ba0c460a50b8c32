//go:build !linux && !darwin

package adminsock

import (
	"net"
	"os"
)

// getPeerCredentials falls back to assuming the peer shares this
// process's UID on platforms with no peer-credential syscall.
func getPeerCredentials(conn *net.UnixConn) (*PeerCredentials, error) {
	return &PeerCredentials{UID: os.Getuid(), GID: os.Getgid(), PID: os.Getpid()}, nil
}
