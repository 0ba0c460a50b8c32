package adminsock

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/d42ejh/ilnyaplus-dev/internal/dht"
	"github.com/d42ejh/ilnyaplus-dev/internal/routingtable"
	"github.com/d42ejh/ilnyaplus-dev/internal/tlog"
)

// contextWithTimeout bounds a Ping command to the same timeout the
// DHT initiator itself uses, so a slow or dead peer cannot wedge an
// admin-socket connection past its own connectionTimeout.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), dht.DefaultRequestTimeout)
}

// PeerCredentials carries the identity of a process connected to the
// admin socket, as reported by the platform-specific
// getPeerCredentials implementation.
type PeerCredentials struct {
	UID int
	GID int
	PID int
}

type rateLimitEntry struct {
	lastRequest  time.Time
	requestCount int
}

// Rate limiting and connection handling constants.
const (
	maxRequestsPerMinute = 60
	rateLimitWindow      = time.Minute
	connectionTimeout    = 30 * time.Second
	readTimeout          = 5 * time.Second
)

// ReadBufSize bounds a single JSON request. Requests are short
// introspection commands, never file paths, so this is far smaller
// than the teacher's path-sized buffer.
const ReadBufSize = 1024

// handler serves introspection requests against a single DHT manager.
type handler struct {
	mgr    *dht.Manager
	socket *net.UnixListener

	rateMutex   sync.Mutex
	rateLimiter map[string]*rateLimitEntry
}

// Serve serves incoming connections on sock, answering read-only
// introspection requests against mgr. It blocks, so callers run it in
// its own goroutine — mirroring the teacher's ctlsocksrv.Serve.
func Serve(sock net.Listener, mgr *dht.Manager) {
	h := &handler{
		mgr:         mgr,
		socket:      sock.(*net.UnixListener),
		rateLimiter: make(map[string]*rateLimitEntry),
	}
	h.acceptLoop()
}

func (h *handler) acceptLoop() {
	for {
		conn, err := h.socket.Accept()
		if err != nil {
			tlog.Info.Printf("adminsock: accept error: %v", err)
			return
		}
		go h.handleConnection(conn.(*net.UnixConn))
	}
}

// checkPeerCredentials verifies that the connecting peer runs under
// this process's own UID: the admin socket exposes no write path, but
// routing-table and store contents are still local-only information.
func (h *handler) checkPeerCredentials(conn *net.UnixConn) error {
	cred, err := getPeerCredentials(conn)
	if err != nil {
		return err
	}
	if ourUID := os.Getuid(); cred.UID != ourUID {
		return errors.New("adminsock: peer UID does not match server UID")
	}
	return nil
}

func (h *handler) checkRateLimit(clientID string) error {
	h.rateMutex.Lock()
	defer h.rateMutex.Unlock()

	now := time.Now()
	entry, ok := h.rateLimiter[clientID]
	if !ok {
		h.rateLimiter[clientID] = &rateLimitEntry{lastRequest: now, requestCount: 1}
		return nil
	}
	if now.Sub(entry.lastRequest) > rateLimitWindow {
		entry.lastRequest = now
		entry.requestCount = 1
		return nil
	}
	if entry.requestCount >= maxRequestsPerMinute {
		return errors.New("adminsock: rate limit exceeded")
	}
	entry.requestCount++
	entry.lastRequest = now
	return nil
}

func (h *handler) handleConnection(conn *net.UnixConn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connectionTimeout))

	if err := h.checkPeerCredentials(conn); err != nil {
		tlog.Warn.Printf("adminsock: peer credential check failed: %v", err)
		return
	}

	clientID := getClientIdentifier(conn)
	buf := make([]byte, ReadBufSize)
	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, err := conn.Read(buf)
		if err == io.EOF {
			return
		} else if err != nil {
			tlog.Warn.Printf("adminsock: read error: %v", err)
			return
		}
		if n == ReadBufSize {
			tlog.Warn.Printf("adminsock: request too big (max = %d bytes)", ReadBufSize-1)
			return
		}

		if err := h.checkRateLimit(clientID); err != nil {
			sendError(conn, err)
			return
		}

		var req Request
		if err := json.Unmarshal(buf[:n], &req); err != nil {
			sendError(conn, errors.New("adminsock: invalid JSON request: "+err.Error()))
			continue
		}
		h.handleRequest(&req, conn)
	}
}

// Request is the single JSON request shape the admin socket accepts.
// Command names exactly one of the four introspection operations;
// Endpoint is only meaningful for Ping.
type Request struct {
	Command  string `json:"command"`
	Endpoint string `json:"endpoint,omitempty"`
}

// Response is the single JSON response shape, marshaled back with a
// trailing newline for the convenience of line-oriented clients
// (e.g. nc or jq --unbuffered), the same convenience the teacher's
// ctlsock wire format offers.
type Response struct {
	RoutingTable []routingtable.NodeInfo `json:"routing_table,omitempty"`
	PendingCount int                     `json:"pending_count,omitempty"`
	KVEntries    uint64                  `json:"kv_entries,omitempty"`
	KVDiskBytes  uint64                  `json:"kv_disk_bytes,omitempty"`
	Alive        bool                    `json:"alive,omitempty"`
	ErrText      string                  `json:"err_text,omitempty"`
}

const (
	cmdRoutingTableSnapshot = "routing_table_snapshot"
	cmdPendingRequestCount  = "pending_request_count"
	cmdKVStoreStat          = "kv_store_stat"
	cmdPing                 = "ping"
)

func (h *handler) handleRequest(req *Request, conn *net.UnixConn) {
	switch req.Command {
	case cmdRoutingTableSnapshot:
		sendResponse(conn, Response{RoutingTable: h.mgr.RouteTable().Snapshot()})
	case cmdPendingRequestCount:
		sendResponse(conn, Response{PendingCount: h.mgr.PendingRequestCount()})
	case cmdKVStoreStat:
		entries, diskBytes := h.mgr.Store().Stat()
		sendResponse(conn, Response{KVEntries: entries, KVDiskBytes: diskBytes})
	case cmdPing:
		if req.Endpoint == "" {
			sendError(conn, errors.New("adminsock: ping requires an endpoint"))
			return
		}
		ctx, cancel := contextWithTimeout()
		defer cancel()
		err := h.mgr.DoPing(ctx, req.Endpoint)
		sendResponse(conn, Response{Alive: err == nil})
	default:
		sendError(conn, errors.New("adminsock: unknown command "+req.Command))
	}
}

func sendResponse(conn *net.UnixConn, msg Response) {
	jsonMsg, err := json.Marshal(msg)
	if err != nil {
		tlog.Warn.Printf("adminsock: marshal failed: %v", err)
		return
	}
	jsonMsg = append(jsonMsg, '\n')
	if _, err := conn.Write(jsonMsg); err != nil {
		tlog.Warn.Printf("adminsock: write failed: %v", err)
	}
}

func sendError(conn *net.UnixConn, err error) {
	sendResponse(conn, Response{ErrText: err.Error()})
}

// getClientIdentifier returns a key for the rate limiter: the peer's
// remote address is a unix-socket client id, same as gocryptfs's
// ctlsocksrv uses for its local peer.
func getClientIdentifier(conn *net.UnixConn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
