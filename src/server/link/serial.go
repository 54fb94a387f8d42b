package link

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"

	"github.com/goburrow/serial"
	"github.com/rs/zerolog"
)

// DefaultBaud is the control surface's fixed line speed.
const DefaultBaud = 9600

const (
	maxLineBytes    = 1024
	readPollTimeout = 500 * time.Millisecond
)

var ErrNotOpen = errors.New("link not open")

type State int

const (
	Closed State = iota
	Opening
	Open
	Faulted
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Opener opens a device path at the given baud rate.
type Opener func(path string, baud int) (io.ReadWriteCloser, error)

// SerialOpener opens a real serial port, 8N1.
func SerialOpener(path string, baud int) (io.ReadWriteCloser, error) {
	return serial.Open(&serial.Config{
		Address:  path,
		BaudRate: baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  readPollTimeout,
	})
}

// Events are the callbacks a link reports through. Each may be nil.
type Events struct {
	// OnOnline reports an opened port; probe is set for a Probe open, which
	// is closed again right after the callback returns.
	OnOnline  func(probe bool)
	OnOffline func(err error)
	// OnLine receives each non-empty inbound line, trimmed, in arrival order.
	// Lines are delivered one at a time from a single goroutine.
	OnLine func(line string)
}

// SerialLink is one connection to the control surface. It reconnects on
// faults and on silence when opened with reconnect set.
type SerialLink struct {
	opener Opener
	baud   int
	events Events
	sup    *Supervisor
	logger zerolog.Logger

	mu        sync.Mutex
	state     State
	port      io.ReadWriteCloser
	path      string
	reconnect bool
	active    bool
	session   uint64
}

func NewSerialLink(opener Opener, clock Clock, baud int, events Events) *SerialLink {
	if opener == nil {
		opener = SerialOpener
	}
	if baud <= 0 {
		baud = DefaultBaud
	}
	l := &SerialLink{
		opener: opener,
		baud:   baud,
		events: events,
		logger: logging.ComponentLogger("serial"),
	}
	l.sup = NewSupervisor("serial", clock, l.reopen)
	metrics.LinkState.WithLabelValues("serial").Set(float64(Closed))
	return l
}

func (l *SerialLink) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *SerialLink) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.path
}

// PendingReconnect reports the reason of the armed reconnect timer, if any.
func (l *SerialLink) PendingReconnect() string {
	return l.sup.Pending()
}

// Connect opens path and starts reading. With reconnect set, faults, silence
// and a stuck open all lead to another attempt.
func (l *SerialLink) Connect(path string, reconnect bool) bool {
	return l.open(path, reconnect, false)
}

// Probe opens path, reports it online and closes it again.
func (l *SerialLink) Probe(path string) bool {
	return l.open(path, false, true)
}

// Close shuts the link and cancels pending timers. Calling it on a closed
// link does nothing.
func (l *SerialLink) Close() {
	l.mu.Lock()
	l.active = false
	port := l.shutdownLocked()
	l.mu.Unlock()

	if port != nil {
		if err := port.Close(); err != nil {
			l.logger.Debug().Err(err).Msg("closing port")
		}
	}
}

// Send writes one status line. Failures are logged and returned but do not
// change the link state; the reader or the liveness timer handles that.
func (l *SerialLink) Send(line string) error {
	l.mu.Lock()
	port, state := l.port, l.state
	l.mu.Unlock()

	if port == nil || state != Open {
		l.logger.Warn().Str("line", line).Msg("send while link not open")
		return ErrNotOpen
	}
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		l.logger.Warn().Err(err).Msg("error sending message to device")
		return err
	}
	return nil
}

func (l *SerialLink) open(path string, reconnect, probe bool) bool {
	l.mu.Lock()
	old := l.shutdownLocked()
	l.active = true
	l.path = path
	l.reconnect = reconnect
	l.setStateLocked(Opening)
	gen := l.session
	if reconnect {
		l.sup.Schedule("watchdog", OpenWatchdog)
	}
	l.mu.Unlock()

	if old != nil {
		old.Close()
	}

	port, err := l.opener(path, l.baud)
	if err != nil {
		l.logger.Error().Err(err).Str("port", path).Msg("error connecting to device")
		l.fault(gen, err)
		return false
	}

	l.mu.Lock()
	if gen != l.session {
		// closed or reopened while the device was opening
		l.mu.Unlock()
		port.Close()
		return false
	}
	l.port = port
	l.setStateLocked(Open)
	l.sup.Cancel()
	l.mu.Unlock()

	l.logger.Info().Str("port", path).Bool("reconnect", reconnect).Bool("probe", probe).Msg("port opened")
	if l.events.OnOnline != nil {
		l.events.OnOnline(probe)
	}

	if probe {
		l.Close()
		return true
	}

	go l.readLoop(gen, port)
	return true
}

// shutdownLocked cancels timers, invalidates the current session and returns
// the port to close, if any.
func (l *SerialLink) shutdownLocked() io.ReadWriteCloser {
	l.sup.Cancel()
	l.session++
	if l.state == Closed {
		return nil
	}
	port := l.port
	l.port = nil
	l.setStateLocked(Closed)
	return port
}

func (l *SerialLink) fault(gen uint64, err error) {
	l.mu.Lock()
	if gen != l.session || l.state == Closed || l.state == Faulted {
		l.mu.Unlock()
		return
	}
	port := l.port
	l.port = nil
	l.setStateLocked(Faulted)
	if l.reconnect {
		l.sup.Schedule("fault", FaultRetryDelay)
	}
	l.mu.Unlock()

	if port != nil {
		port.Close()
	}
	l.logger.Warn().Err(err).Msg("port error")
	if l.events.OnOffline != nil {
		l.events.OnOffline(err)
	}
}

func (l *SerialLink) reopen(reason string) {
	l.mu.Lock()
	if !l.active || !l.reconnect {
		l.mu.Unlock()
		return
	}
	path := l.path
	l.mu.Unlock()

	l.logger.Info().Str("reason", reason).Str("port", path).Msg("reconnecting")
	l.open(path, true, false)
}

func (l *SerialLink) current(gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return gen == l.session
}

func (l *SerialLink) readLoop(gen uint64, port io.Reader) {
	buf := make([]byte, 256)
	var pending []byte

	for {
		n, err := port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				i := bytes.IndexByte(pending, '\n')
				if i < 0 {
					break
				}
				line := string(pending[:i])
				pending = pending[i+1:]
				if !l.handleLine(gen, line) {
					return
				}
			}
			if len(pending) > maxLineBytes {
				l.logger.Warn().Int("bytes", len(pending)).Msg("discarding unterminated input")
				pending = pending[:0]
			}
		}
		if err != nil {
			if !l.current(gen) {
				return
			}
			if errors.Is(err, serial.ErrTimeout) {
				continue
			}
			l.fault(gen, err)
			return
		}
	}
}

// handleLine reports false once the session is gone.
func (l *SerialLink) handleLine(gen uint64, line string) bool {
	l.mu.Lock()
	if gen != l.session {
		l.mu.Unlock()
		return false
	}
	text := strings.TrimSpace(line)
	if text == "" {
		l.mu.Unlock()
		return true
	}
	if l.reconnect {
		l.sup.Schedule("liveness", LivenessTimeout)
	}
	l.mu.Unlock()

	if l.events.OnLine != nil {
		l.events.OnLine(text)
	}
	return true
}

func (l *SerialLink) setStateLocked(s State) {
	if l.state != s {
		l.logger.Debug().Stringer("from", l.state).Stringer("to", s).Msg("link state")
	}
	l.state = s
	metrics.LinkState.WithLabelValues("serial").Set(float64(s))
}
