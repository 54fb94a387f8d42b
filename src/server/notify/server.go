// Package notify streams connectivity and diagnostic events to one host
// client over TCP as JSON lines.
package notify

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"gata-mixer/src/server/logging"

	"github.com/rs/zerolog"
)

const (
	TypeWelcome = "welcome"
	TypeOnline  = "online"
	TypeOffline = "offline"
	TypeRaw     = "raw"
)

// writeTimeout bounds a single event write. A client that stops reading is
// dropped rather than stalling the publisher.
var writeTimeout = 250 * time.Millisecond

// Event is one message on the stream.
type Event struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// WelcomeMessage is sent to clients when they connect
type WelcomeMessage struct {
	Type     string `json:"type"`
	Server   string `json:"server"`
	Version  string `json:"version,omitempty"`
	Protocol string `json:"protocol"`
}

// Server accepts a single client at a time. Events published while no
// client is connected are dropped.
type Server struct {
	port      string
	version   string
	localOnly bool
	logger    zerolog.Logger

	listener   net.Listener
	mu         sync.RWMutex
	clientConn *clientConnection
	stopChan   chan struct{}
	stopOnce   sync.Once
}

type clientConnection struct {
	conn    net.Conn
	encoder *json.Encoder
	mu      sync.Mutex
}

func NewServer(port, version string, serveExternally bool) *Server {
	return &Server{
		port:      port,
		version:   version,
		localOnly: !serveExternally,
		logger:    logging.ComponentLogger("notify"),
		stopChan:  make(chan struct{}),
	}
}

func (s *Server) Start() error {
	addr := "127.0.0.1:" + s.port
	if !s.localOnly {
		addr = "0.0.0.0:" + s.port
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start notification server on %s: %w", addr, err)
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Bool("localOnly", s.localOnly).Msg("notification server listening")

	go s.acceptLoop()
	return nil
}

// Addr is the bound listener address, useful when started on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		if s.clientConn != nil {
			s.clientConn.conn.Close()
			s.clientConn = nil
		}
		s.mu.Unlock()
	})
}

func (s *Server) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientConn != nil
}

func (s *Server) Online() {
	s.publish(Event{Type: TypeOnline})
}

func (s *Server) Offline(reason string) {
	s.publish(Event{Type: TypeOffline, Text: reason})
}

func (s *Server) RawText(text string) {
	s.publish(Event{Type: TypeRaw, Text: text})
}

func (s *Server) publish(ev Event) {
	s.mu.RLock()
	cc := s.clientConn
	s.mu.RUnlock()
	if cc == nil {
		return
	}
	s.send(cc, ev)
}

func (s *Server) send(cc *clientConnection, msg any) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := cc.encoder.Encode(msg); err != nil {
		s.logger.Warn().Err(err).Msg("failed to send event, dropping client")
		s.drop(cc)
	}
}

// drop frees the client slot and closes the connection; handleClient then
// exits on its read error.
func (s *Server) drop(cc *clientConnection) {
	s.mu.Lock()
	if s.clientConn == cc {
		s.clientConn = nil
	}
	s.mu.Unlock()
	cc.conn.Close()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				s.logger.Warn().Err(err).Msg("accept error")
				continue
			}
		}

		remoteAddr := conn.RemoteAddr().(*net.TCPAddr)
		if s.localOnly && !remoteAddr.IP.IsLoopback() {
			s.logger.Warn().Str("ip", remoteAddr.IP.String()).Msg("connection rejected: non-localhost IP")
			conn.Close()
			continue
		}

		s.mu.Lock()
		if s.clientConn != nil {
			s.mu.Unlock()
			s.logger.Warn().Msg("connection rejected: client already connected")
			conn.Close()
			continue
		}
		cc := &clientConnection{conn: conn, encoder: json.NewEncoder(conn)}
		s.clientConn = cc
		s.mu.Unlock()

		s.logger.Info().Str("remote", remoteAddr.String()).Msg("client connected")
		s.send(cc, WelcomeMessage{
			Type:     TypeWelcome,
			Server:   "gata-mixer",
			Version:  s.version,
			Protocol: "JSON",
		})
		go s.handleClient(cc)
	}
}

// handleClient drains the client until it disconnects. Inbound lines are
// not interpreted.
func (s *Server) handleClient(cc *clientConnection) {
	defer func() {
		s.drop(cc)
		s.logger.Info().Msg("client disconnected")
	}()

	if _, err := io.Copy(io.Discard, cc.conn); err != nil {
		s.logger.Debug().Err(err).Msg("client read error")
	}
}
