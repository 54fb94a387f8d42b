package vmixer

import (
	"context"
	"net"
	"sync"
	"time"

	"gata-mixer/src/server/link"
)

// mockEngineServer is a UDP OSC endpoint that stores set values and answers
// bare-address queries with the stored value.
type mockEngineServer struct {
	conn *net.UDPConn

	mu     sync.Mutex
	params map[string]float32
	logins int
}

func newMockEngineServer() (*mockEngineServer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	m := &mockEngineServer{conn: conn, params: make(map[string]float32)}
	go m.serve()
	return m, nil
}

func (m *mockEngineServer) Addr() string {
	return m.conn.LocalAddr().String()
}

func (m *mockEngineServer) Close() error {
	return m.conn.Close()
}

func (m *mockEngineServer) param(addr string) (float32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.params[addr]
	return v, ok
}

func (m *mockEngineServer) loginCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logins
}

func (m *mockEngineServer) serve() {
	buf := make([]byte, 2048)
	for {
		n, from, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		addr, args, err := parseOSC(buf[:n])
		if err != nil {
			continue
		}

		m.mu.Lock()
		switch {
		case addr == "/login":
			m.logins++
		case len(args) == 1:
			if v, ok := args[0].(float32); ok {
				m.params[addr] = v
			}
		case len(args) == 0:
			if v, ok := m.params[addr]; ok {
				if reply, err := buildOSC(addr, v); err == nil {
					m.conn.WriteToUDP(reply, from)
				}
			}
		}
		m.mu.Unlock()
	}
}

// fakeEngine scripts Engine results for Client tests.
type fakeEngine struct {
	mu         sync.Mutex
	connectErr []error
	loginErr   error
	getErr     error
	setErr     error
	values     map[string]float64

	connects int
	logins   int
	closes   int
	sets     map[string]float64
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{values: map[string]float64{}, sets: map[string]float64{}}
}

func (f *fakeEngine) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if len(f.connectErr) == 0 {
		return ErrAlreadyConnected
	}
	err := f.connectErr[0]
	f.connectErr = f.connectErr[1:]
	return err
}

func (f *fakeEngine) Login(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logins++
	return f.loginErr
}

func (f *fakeEngine) Get(ctx context.Context, name string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return 0, f.getErr
	}
	return f.values[name], nil
}

func (f *fakeEngine) Set(ctx context.Context, name string, value float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.sets[name] = value
	return nil
}

func (f *fakeEngine) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

// stepClock is a manual link.Clock.
type stepClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*stepTimer
}

type stepTimer struct {
	c    *stepClock
	at   time.Duration
	f    func()
	done bool
}

func (c *stepClock) AfterFunc(d time.Duration, f func()) link.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &stepTimer{c: c, at: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *stepTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	was := !t.done
	t.done = true
	return was
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*stepTimer
	for _, t := range c.timers {
		if !t.done && t.at <= c.now {
			t.done = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}
