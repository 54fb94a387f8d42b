// Package bridge runs the telemetry pipeline from the control surface to the
// audio backends and back to the surface's display, and exposes the command
// surface the host drives it through.
package bridge

import (
	"context"
	"sync"
	"time"

	"gata-mixer/src/server/link"
	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"
	"gata-mixer/src/server/osmixer"
	"gata-mixer/src/server/protocol"

	"github.com/rs/zerolog"
)

// frameTimeout bounds the backend calls made for one frame.
const frameTimeout = 2 * time.Second

// Notifier receives connectivity and diagnostic events.
type Notifier interface {
	Online()
	Offline(reason string)
	RawText(text string)
}

// FrameRouter turns one decoded frame into display tokens.
type FrameRouter interface {
	Route(ctx context.Context, f protocol.Frame) []protocol.Token
}

// Engine is the virtual mixer client as the command surface uses it.
type Engine interface {
	Start(ctx context.Context, reconnect bool) bool
	Get(ctx context.Context, name string) (float64, bool)
	Set(ctx context.Context, name string, value float64)
}

// SessionLister enumerates OS audio sessions.
type SessionLister interface {
	ListSessions(ctx context.Context) ([]osmixer.Session, error)
}

// PortLister enumerates candidate serial devices.
type PortLister func() ([]string, error)

type Options struct {
	Opener   link.Opener
	Clock    link.Clock
	Baud     int
	Router   FrameRouter
	Engine   Engine
	Sessions SessionLister
	Ports    PortLister
	Notifier Notifier
}

type Bridge struct {
	serial   *link.SerialLink
	router   FrameRouter
	engine   Engine
	sessions SessionLister
	ports    PortLister
	notifier Notifier
	logger   zerolog.Logger

	// frameMu serializes the decode, route and send pass so display writes
	// follow decode order.
	frameMu sync.Mutex
	render  *protocol.RenderState
}

func New(opts Options) *Bridge {
	b := &Bridge{
		router:   opts.Router,
		engine:   opts.Engine,
		sessions: opts.Sessions,
		ports:    opts.Ports,
		notifier: opts.Notifier,
		logger:   logging.ComponentLogger("bridge"),
		render:   protocol.NewRenderState(),
	}
	if b.notifier == nil {
		b.notifier = nopNotifier{}
	}
	b.serial = link.NewSerialLink(opts.Opener, opts.Clock, opts.Baud, link.Events{
		OnOnline:  b.onOnline,
		OnOffline: b.onOffline,
		OnLine:    b.onLine,
	})
	return b
}

func (b *Bridge) onOnline(probe bool) {
	if probe {
		b.notifier.Online()
		return
	}

	b.frameMu.Lock()
	b.render.Reset()
	sentinel := b.render.Last()
	b.frameMu.Unlock()

	// the sentinel is a baseline for dedup, not proof the display shows it
	if err := b.serial.Send(sentinel); err == nil {
		metrics.LinesSent.Inc()
	}
	b.notifier.Online()
}

func (b *Bridge) onOffline(err error) {
	reason := ""
	if err != nil {
		reason = err.Error()
	}
	b.notifier.Offline(reason)
}

func (b *Bridge) onLine(line string) {
	b.notifier.RawText(line)
	b.HandleFrame(line)
}

// HandleFrame runs one inbound line through decode, routing and display
// feedback. The returned line is what the display should show.
func (b *Bridge) HandleFrame(line string) string {
	b.frameMu.Lock()
	defer b.frameMu.Unlock()

	frame := protocol.Decode(line)
	metrics.FramesDecoded.Inc()

	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	out := protocol.Encode(b.router.Route(ctx, frame))

	if out == b.render.Last() {
		metrics.LinesDeduplicated.Inc()
		return out
	}
	// only a line that reached the device becomes the dedup baseline
	if err := b.serial.Send(out); err != nil {
		return out
	}
	b.render.Update(out)
	metrics.LinesSent.Inc()
	return out
}

// ListAvailablePorts returns candidate serial device paths.
func (b *Bridge) ListAvailablePorts() ([]string, error) {
	if b.ports == nil {
		return nil, nil
	}
	return b.ports()
}

// TestPort opens and immediately closes path. It reports whether the open
// succeeded; any current connection is closed first.
func (b *Bridge) TestPort(path string) bool {
	return b.serial.Probe(path)
}

func (b *Bridge) Connect(path string, reconnect bool) bool {
	return b.serial.Connect(path, reconnect)
}

func (b *Bridge) Close() {
	b.serial.Close()
}

// LinkStatus is a point-in-time view of the serial link.
type LinkStatus struct {
	State            string `json:"state"`
	Port             string `json:"port,omitempty"`
	PendingReconnect string `json:"pendingReconnect,omitempty"`
	LastLine         string `json:"lastLine"`
}

func (b *Bridge) Status() LinkStatus {
	b.frameMu.Lock()
	last := b.render.Last()
	b.frameMu.Unlock()
	return LinkStatus{
		State:            b.serial.State().String(),
		Port:             b.serial.Path(),
		PendingReconnect: b.serial.PendingReconnect(),
		LastLine:         last,
	}
}

func (b *Bridge) StartVirtualMixerConnection(ctx context.Context, reconnect bool) bool {
	return b.engine.Start(ctx, reconnect)
}

func (b *Bridge) GetVirtualMixerParam(ctx context.Context, name string) (float64, bool) {
	return b.engine.Get(ctx, name)
}

func (b *Bridge) SetVirtualMixerParam(ctx context.Context, name string, value float64) {
	b.engine.Set(ctx, name, value)
}

func (b *Bridge) ListOSAudioSessions(ctx context.Context) ([]osmixer.Session, error) {
	return b.sessions.ListSessions(ctx)
}

type nopNotifier struct{}

func (nopNotifier) Online()        {}
func (nopNotifier) Offline(string) {}
func (nopNotifier) RawText(string) {}
