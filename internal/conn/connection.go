// Package conn implements the per-socket Connection (spec.md C3): framing,
// timeouts, and the request/response dispatch loop that feeds packets to
// the auth state machine and, once authorized, to the rest of the server.
package conn

import (
	"net"
	"sync"
	"time"

	"github.com/rdtc8822/battleshipd/internal/protocol"
	"go.uber.org/zap"
)

// readTimeout bounds a single Get() call, per spec.md §4.3.
const readTimeout = 10 * time.Second

// HandlerFunc processes one inbound packet and optionally returns a
// packet to send back. A nil response means nothing is sent.
type HandlerFunc func(p protocol.Packet) *protocol.Packet

// Connection owns one TCP socket. Send serializes writes with a mutex and
// may be called from several goroutines; Get takes no lock, so concurrent
// Get calls are not serialized against each other.
type Connection struct {
	conn net.Conn
	IP   string

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    bool
	closedMu  sync.Mutex

	onDisconnect     func()
	onDisconnectOnce sync.Once

	log *zap.Logger
}

// New wraps an accepted socket. IP is set from the socket's remote
// address and is recorded for logging and for the User model.
func New(c net.Conn, log *zap.Logger) *Connection {
	ip := c.RemoteAddr().String()
	return &Connection{conn: c, IP: ip, log: log}
}

// Connected reports whether the connection has not yet been torn down.
func (c *Connection) Connected() bool {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	return !c.closed
}

// Send encodes and frames p, writing it to the socket. Returns false on
// any transport error or if the connection is already closed.
func (c *Connection) Send(p protocol.Packet) bool {
	if !c.Connected() {
		return false
	}
	data, err := protocol.Encode(p)
	if err != nil {
		c.log.Error("encode packet failed", zap.Error(err))
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(readTimeout))
	if err := protocol.WriteFrame(c.conn, data); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}

// Get blocks for up to 10 seconds waiting for one complete packet.
// Returns the UNDEFINED packet on timeout, transport error, or decode
// failure — never an error to the caller (spec.md §4.1, §4.3).
func (c *Connection) Get() protocol.Packet {
	if !c.Connected() {
		return protocol.Undefined
	}
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	data, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return protocol.Undefined
	}
	return protocol.Decode(data)
}

// Disconnect closes the socket exactly once and invokes the onDisconnect
// hook exactly once (spec.md §4.3: "idempotent").
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		c.closedMu.Lock()
		c.closed = true
		c.closedMu.Unlock()
		c.conn.Close()
	})
	c.fireOnDisconnect()
}

func (c *Connection) fireOnDisconnect() {
	c.onDisconnectOnce.Do(func() {
		if c.onDisconnect != nil {
			c.onDisconnect()
		}
	})
}

// SetOnDisconnect installs the teardown hook. Must be called before
// Handle, and only once — it is how the server/session layer learns a
// peer has gone away without polling.
func (c *Connection) SetOnDisconnect(fn func()) {
	c.onDisconnect = fn
}

// Handle runs the request/response loop described in spec.md §4.3:
// repeatedly Get() a packet, hand non-UNDEFINED packets to handler, write
// back any response, and terminate (invoking onDisconnect) on UNDEFINED
// or when the handler signals end by returning a CodeUndefined packet
// (which is not sent).
func (c *Connection) Handle(handler HandlerFunc) {
	defer c.Disconnect()

	for c.Connected() {
		req := c.Get()
		if req.IsUndefined() {
			return
		}
		resp := handler(req)
		if resp != nil {
			if resp.IsUndefined() {
				return
			}
			c.Send(*resp)
		}
	}
}
