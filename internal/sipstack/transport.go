package sipstack

import (
	"fmt"
	"io"
	"net"
)

// Transport is a pinned handle to a peer connection (SPEC_FULL §5, "pinned
// transport"). Ref returns the handle a new owner keeps; neither
// implementation in this file counts references, both return the same handle,
// and nothing releases a transport when a Target or UACTsx is done with it.
type Transport interface {
	io.Writer
	Proto() string
	RemoteAddr() net.Addr
	Close() error
	Ref() Transport
}

// UDPTransport is a transport implementation for UDP. The underlying
// PacketConn is shared across every transaction using this listener, so
// Close is a no-op and Ref just returns the same handle.
type UDPTransport struct {
	conn net.PacketConn
	dest net.Addr
}

// NewUDPTransport wraps a shared UDP listener conn and a fixed destination.
func NewUDPTransport(conn net.PacketConn, dest net.Addr) *UDPTransport {
	return &UDPTransport{conn: conn, dest: dest}
}

func (t *UDPTransport) Write(p []byte) (int, error)  { return t.conn.WriteTo(p, t.dest) }
func (t *UDPTransport) Proto() string                { return "UDP" }
func (t *UDPTransport) RemoteAddr() net.Addr          { return t.dest }
func (t *UDPTransport) Close() error                 { return nil }
func (t *UDPTransport) Ref() Transport                { return t }

// TCPTransport wraps a single persistent TCP connection.
type TCPTransport struct {
	conn net.Conn
}

// NewTCPTransport wraps an established TCP connection.
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err == nil && n < len(p) {
		return n, fmt.Errorf("sipstack: short write on tcp transport, wrote %d of %d bytes", n, len(p))
	}
	return n, err
}
func (t *TCPTransport) Proto() string       { return "TCP" }
func (t *TCPTransport) RemoteAddr() net.Addr { return t.conn.RemoteAddr() }
func (t *TCPTransport) Close() error        { return t.conn.Close() }
func (t *TCPTransport) Ref() Transport       { return t }
