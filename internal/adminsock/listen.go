// Package adminsock implements a local Unix-socket admin interface for
// read-only DHT introspection — adapted from internal/ctlsocksrv's
// accept loop, peer-credential check and JSON request/response framing,
// re-themed from gocryptfs's EncryptPath/DecryptPath commands (which
// have no counterpart in this domain) to RoutingTableSnapshot,
// PendingRequestCount, KVStoreStat and Ping against an
// internal/dht.Manager.
package adminsock

import (
	"errors"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// cleanupOrphanedSocket deletes a stale socket file left behind by a
// previous, now-dead process: only if it is a socket, and only if
// connecting to it fails with ECONNREFUSED.
func cleanupOrphanedSocket(path string) {
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if fi.Mode().Type() != fs.ModeSocket {
		return
	}
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err == nil {
		conn.Close()
		return
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		tlog.Info.Printf("adminsock: deleting orphaned socket file %q", path)
		if err := os.Remove(path); err != nil {
			tlog.Warn.Printf("adminsock: deleting socket file failed: %v", err)
		}
	}
}

// Listen binds a Unix socket at path with 0600 permissions inside a
// 0700 parent directory, so only the owning user can reach it.
func Listen(path string) (net.Listener, error) {
	cleanupOrphanedSocket(path)

	parentDir := filepath.Dir(path)
	if err := os.MkdirAll(parentDir, 0700); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		os.Remove(path)
		return nil, err
	}
	if err := os.Chmod(parentDir, 0700); err != nil {
		tlog.Warn.Printf("adminsock: failed to secure parent directory permissions: %v", err)
	}
	return listener, nil
}
