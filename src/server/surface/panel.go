// Package surface polls a Modbus RTU control panel and turns its switch and
// knob registers into telemetry frames.
package surface

import (
	"encoding/binary"
	"fmt"
	"slices"
	"sync"
	"time"

	"gata-mixer/src/server/config"
	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"
	"gata-mixer/src/server/protocol"

	"github.com/goburrow/modbus"
	"github.com/rs/zerolog"
)

const (
	switchInputAddr  = 0x0000
	knobRegisterAddr = 0x0000
	maxKnobs         = 16
)

// ModbusHandler extends modbus.ClientHandler with Connect and SetSlave
type ModbusHandler interface {
	modbus.ClientHandler
	Connect() error
	Close() error
	SetSlave(slave byte)
}

type rtuWrapper struct {
	*modbus.RTUClientHandler
}

func (r *rtuWrapper) SetSlave(slave byte) {
	r.SlaveId = slave
}

type ClientFactory func(handler modbus.ClientHandler) modbus.Client
type HandlerFactory func(path string, baud int, timeout time.Duration) (ModbusHandler, error)

func defaultHandlerFactory(path string, baud int, timeout time.Duration) (ModbusHandler, error) {
	h := modbus.NewRTUClientHandler(path)
	h.BaudRate = baud
	h.DataBits = 8
	h.Parity = "N"
	h.StopBits = 1
	h.Timeout = timeout
	return &rtuWrapper{h}, nil
}

// FrameHandler receives each frame that differs from the previous one.
type FrameHandler func(f protocol.Frame)

// State is the last poll result.
type State struct {
	Timestamp time.Time `json:"timestamp"`
	Switch    bool      `json:"switch"`
	Knobs     []uint16  `json:"knobs,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Panel owns one RTU port with a single slave. Discrete input 0 is the
// switch; input registers 0..knobs-1 hold raw knob samples.
type Panel struct {
	path     string
	slave    byte
	baud     int
	knobs    int
	interval time.Duration
	timeout  time.Duration
	onFrame  FrameHandler
	logger   zerolog.Logger

	clientFactory  ClientFactory
	handlerFactory HandlerFactory

	mu       sync.Mutex
	handler  ModbusHandler
	client   modbus.Client
	last     State
	stopChan chan struct{}
	done     chan struct{}
}

func NewPanel(cfg config.ModbusConfig, onFrame FrameHandler) *Panel {
	interval := time.Duration(cfg.PollMS) * time.Millisecond
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &Panel{
		path:           cfg.Port,
		slave:          cfg.SlaveID,
		baud:           cfg.Baud,
		knobs:          cfg.Knobs,
		interval:       interval,
		timeout:        200 * time.Millisecond,
		onFrame:        onFrame,
		logger:         logging.ComponentLogger("surface"),
		clientFactory:  modbus.NewClient,
		handlerFactory: defaultHandlerFactory,
	}
}

// Open connects the port without starting the poll loop.
func (p *Panel) Open() error {
	if p.knobs < 0 || p.knobs > maxKnobs {
		return fmt.Errorf("knob count %d out of range 0..%d", p.knobs, maxKnobs)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}

	h, err := p.handlerFactory(p.path, p.baud, p.timeout)
	if err != nil {
		return err
	}
	if err := h.Connect(); err != nil {
		return fmt.Errorf("open %s: %w", p.path, err)
	}
	h.SetSlave(p.slave)
	p.handler = h
	p.client = p.clientFactory(h)
	return nil
}

// Start opens the port and polls it until Stop.
func (p *Panel) Start() error {
	if err := p.Open(); err != nil {
		return err
	}

	p.mu.Lock()
	if p.stopChan != nil {
		p.mu.Unlock()
		return nil
	}
	p.stopChan = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopChan, p.done
	p.mu.Unlock()

	p.logger.Info().Str("port", p.path).Uint8("slave", p.slave).Int("knobs", p.knobs).Msg("polling modbus panel")
	go p.pollLoop(stop, done)
	return nil
}

func (p *Panel) Stop() {
	p.mu.Lock()
	stop, done := p.stopChan, p.done
	p.stopChan, p.done = nil, nil
	p.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handler != nil {
		p.handler.Close()
		p.handler = nil
		p.client = nil
	}
}

// Last returns the most recent poll result.
func (p *Panel) Last() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.last
	s.Knobs = slices.Clone(p.last.Knobs)
	return s
}

func (p *Panel) pollLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var prev State
	first := true
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			state, err := p.Poll()
			if err != nil {
				continue
			}
			if !first && state.Switch == prev.Switch && slices.Equal(state.Knobs, prev.Knobs) {
				continue
			}
			prev, first = state, false
			if p.onFrame != nil {
				p.onFrame(FrameFromState(state))
			}
		}
	}
}

// Poll reads the switch and knobs once.
func (p *Panel) Poll() (State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := State{Timestamp: time.Now()}
	if p.client == nil {
		state.Error = "panel not open"
		return state, fmt.Errorf("panel %s not open", p.path)
	}

	raw, err := p.client.ReadDiscreteInputs(switchInputAddr, 1)
	if err != nil {
		return p.failLocked(state, fmt.Errorf("switch read error: %w", err))
	}
	state.Switch = len(raw) > 0 && raw[0]&0x01 != 0

	if p.knobs > 0 {
		regs, err := p.client.ReadInputRegisters(knobRegisterAddr, uint16(p.knobs))
		if err != nil {
			return p.failLocked(state, fmt.Errorf("knob read error: %w", err))
		}
		if len(regs) < p.knobs*2 {
			return p.failLocked(state, fmt.Errorf("knob read returned %d bytes, want %d", len(regs), p.knobs*2))
		}
		state.Knobs = make([]uint16, p.knobs)
		for i := range state.Knobs {
			state.Knobs[i] = binary.BigEndian.Uint16(regs[i*2 : i*2+2])
		}
	}

	p.last = state
	return state, nil
}

func (p *Panel) failLocked(state State, err error) (State, error) {
	state.Error = err.Error()
	p.last = state
	metrics.BackendErrors.WithLabelValues("modbus").Inc()
	p.logger.Debug().Err(err).Str("port", p.path).Msg("poll failed")
	return state, err
}

// FrameFromState converts a poll result into a telemetry frame; knob i
// feeds the strip with Index i.
func FrameFromState(s State) protocol.Frame {
	f := protocol.Frame{SwitchOn: s.Switch, Raw: make([]float64, len(s.Knobs))}
	for i, k := range s.Knobs {
		f.Raw[i] = float64(k)
	}
	return f
}
