package vmixer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ErrAlreadyConnected is what an engine returns from Connect when a session
// is already up. Callers treat it as success.
var ErrAlreadyConnected = errors.New("engine already connected")

var ErrNotConnected = errors.New("engine not connected")

// Engine is a virtual mixing engine's remote-control session. Engines expose
// no "am I connected" query.
type Engine interface {
	Connect(ctx context.Context) error
	Login(ctx context.Context) error
	Get(ctx context.Context, name string) (float64, error)
	Set(ctx context.Context, name string, value float64) error
	Close() error
}

// OSCEngine talks to the engine's OSC endpoint over UDP. Set sends the
// parameter address with a float argument; Get sends the bare address and
// waits for the engine to echo it back with the value.
type OSCEngine struct {
	addr    string
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func NewOSCEngine(addr string, timeout time.Duration) *OSCEngine {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	return &OSCEngine{addr: addr, timeout: timeout}
}

func (e *OSCEngine) Connect(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		return ErrAlreadyConnected
	}
	d := net.Dialer{Timeout: e.timeout}
	conn, err := d.DialContext(ctx, "udp", e.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", e.addr, err)
	}
	e.conn = conn
	return nil
}

func (e *OSCEngine) Login(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked("/login")
}

func (e *OSCEngine) Set(ctx context.Context, name string, value float64) error {
	addr, err := paramAddress(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendLocked(addr, float32(value))
}

func (e *OSCEngine) Get(ctx context.Context, name string) (float64, error) {
	addr, err := paramAddress(name)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.sendLocked(addr); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(e.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := e.conn.SetReadDeadline(deadline); err != nil {
		return 0, err
	}
	defer e.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, 1024)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}
		got, args, err := parseOSC(buf[:n])
		if err != nil || got != addr || len(args) == 0 {
			continue
		}
		switch v := args[0].(type) {
		case float32:
			return float64(v), nil
		case int32:
			return float64(v), nil
		}
	}
}

func (e *OSCEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// sendLocked drops the session on write failure so the next Connect redials.
func (e *OSCEngine) sendLocked(addr string, args ...any) error {
	if e.conn == nil {
		return ErrNotConnected
	}
	msg, err := buildOSC(addr, args...)
	if err != nil {
		return fmt.Errorf("encode %s: %w", addr, err)
	}
	if _, err := e.conn.Write(msg); err != nil {
		e.conn.Close()
		e.conn = nil
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
