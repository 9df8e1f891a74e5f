// Package sipserver is the transport layer: UDP and TCP listeners that
// parse raw datagrams/streams into sipstack messages and feed them to RAF
// and the proxy core's Dispatcher. Adapted from the donor's
// internal/sip/server.go Run/dispatchMessage/handleConnection loop.
package sipserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sipcore/proxy/internal/metrics"
	"github.com/sipcore/proxy/internal/proxycore"
	"github.com/sipcore/proxy/internal/raf"
	"github.com/sipcore/proxy/internal/registrar"
	"github.com/sipcore/proxy/internal/sipstack"
	"github.com/sipcore/proxy/internal/trail"
)

// Server owns the UDP/TCP listeners for the S-CSCF port: RAF runs first on
// every REGISTER, admitted requests (and everything else) continue to the
// proxy core's Dispatcher.
type Server struct {
	filter     *raf.Filter
	registrar  *registrar.Table
	dispatcher *proxycore.Dispatcher
	log        *slog.Logger

	listenAddr  string
	udpConn     net.PacketConn
	tcpListener *net.TCPListener
}

// NewServer builds a Server and the Dispatcher it drives, wiring the
// dispatcher's transport-resolution hooks back to this server's own
// listener once it's listening. m may be nil.
func NewServer(homeDomain, ownRouteHost string, delayTrying bool, filter *raf.Filter, reg *registrar.Table, m *metrics.Metrics, log *slog.Logger) *Server {
	s := &Server{filter: filter, registrar: reg, log: log}
	s.dispatcher = proxycore.NewDispatcher(homeDomain, ownRouteHost, delayTrying, s.dialTarget, s.dialAddr, trail.New, m, log)
	return s
}

func (s *Server) dialTarget(req *sipstack.Request) (sipstack.Transport, error) {
	return s.dial(req.RequestURI.Host, req.RequestURI.Port, "UDP")
}

func (s *Server) dialAddr(host string, port int, proto string) (sipstack.Transport, error) {
	return s.dial(host, port, proto)
}

func (s *Server) dial(host string, port int, proto string) (sipstack.Transport, error) {
	if s.udpConn == nil {
		return nil, fmt.Errorf("sipserver: udp listener not started yet")
	}
	if port == 0 {
		port = sipstack.DefaultPort(proto)
	}
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("sipserver: resolving %s:%d: %w", host, port, err)
	}
	return sipstack.NewUDPTransport(s.udpConn, addr), nil
}

// Run starts the UDP and TCP listeners on addr and blocks until ctx is
// cancelled or either listener fails.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("sipserver: could not listen on udp: %w", err)
		}
		defer pc.Close()
		s.udpConn = pc
		s.listenAddr = pc.LocalAddr().String()
		s.log.Info("listening", "proto", "udp", "addr", s.listenAddr)

		go func() {
			<-gCtx.Done()
			pc.Close()
		}()

		buf := make([]byte, 65536)
		for {
			n, clientAddr, err := pc.ReadFrom(buf)
			if err != nil {
				if gCtx.Err() != nil {
					return nil
				}
				s.log.Warn("udp read error", "err", err)
				continue
			}
			message := string(buf[:n])
			transport := sipstack.NewUDPTransport(pc, clientAddr)
			go s.dispatchMessage(transport, message)
		}
	})

	g.Go(func() error {
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("sipserver: could not listen on tcp: %w", err)
		}
		defer listener.Close()
		s.tcpListener = listener.(*net.TCPListener)
		s.log.Info("listening", "proto", "tcp", "addr", listener.Addr().String())

		go func() {
			<-gCtx.Done()
			listener.Close()
		}()

		for {
			conn, err := listener.Accept()
			if err != nil {
				if gCtx.Err() != nil {
					return nil
				}
				s.log.Warn("tcp accept error", "err", err)
				continue
			}
			go s.handleConnection(gCtx, conn)
		}
	})

	return g.Wait()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	transport := sipstack.NewTCPTransport(conn)
	reader := bufio.NewReader(conn)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var head strings.Builder
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					s.log.Warn("tcp read error", "remote", conn.RemoteAddr(), "err", err)
				}
				return
			}
			head.WriteString(line)
			if line == "\r\n" {
				break
			}
		}
		headStr := head.String()

		contentLength := parseContentLength(headStr)
		body := make([]byte, contentLength)
		if contentLength > 0 {
			if _, err := io.ReadFull(reader, body); err != nil {
				s.log.Warn("tcp body read error", "remote", conn.RemoteAddr(), "err", err)
				return
			}
		}

		go s.dispatchMessage(transport, headStr+string(body))
	}
}

func parseContentLength(headStr string) int {
	for _, line := range strings.Split(headStr, "\r\n") {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "content-length:") || strings.HasPrefix(lower, "l:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					return n
				}
			}
		}
	}
	return 0
}

// dispatchMessage tells requests from responses by their start line, the
// same heuristic the donor's server.go uses.
func (s *Server) dispatchMessage(transport sipstack.Transport, raw string) {
	if strings.HasPrefix(raw, "SIP/2.0") {
		s.handleResponse(raw)
	} else {
		s.handleRequest(transport, raw)
	}
}

func (s *Server) handleResponse(raw string) {
	resp, err := sipstack.ParseResponse(raw)
	if err != nil {
		s.log.Warn("failed to parse response", "err", err)
		return
	}
	s.dispatcher.OnRxResponse(resp)
}

func (s *Server) handleRequest(transport sipstack.Transport, raw string) {
	req, err := sipstack.ParseRequest(raw)
	if err != nil {
		s.log.Warn("failed to parse request", "err", err)
		return
	}

	if req.Method == "REGISTER" {
		admitted, resp := s.filter.Admit(context.Background(), req)
		if !admitted {
			if resp != nil {
				if _, err := transport.Write([]byte(resp.String())); err != nil {
					s.log.Warn("failed to send raf response", "err", err)
				}
			}
			return
		}
		s.registrar.Update(raf.AOR(req.HeaderValue("To")), req)
	}

	s.dispatcher.OnRxRequest(req, transport)
}
