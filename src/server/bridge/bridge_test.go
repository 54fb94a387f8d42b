package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"gata-mixer/src/server/config"
	"gata-mixer/src/server/link"
	"gata-mixer/src/server/osmixer"
	"gata-mixer/src/server/protocol"
	"gata-mixer/src/server/routing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipePort struct {
	reads     chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	written    []string
	failWrites int
}

func newPipePort() *pipePort {
	return &pipePort{reads: make(chan []byte, 16), closed: make(chan struct{})}
}

func (p *pipePort) Read(b []byte) (int, error) {
	select {
	case d := <-p.reads:
		return copy(b, d), nil
	case <-p.closed:
		return 0, io.EOF
	}
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failWrites > 0 {
		p.failWrites--
		return 0, errors.New("write timeout")
	}
	p.written = append(p.written, string(b))
	return len(b), nil
}

func (p *pipePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipePort) Written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.written...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(s string) {
	n.mu.Lock()
	n.events = append(n.events, s)
	n.mu.Unlock()
}

func (n *recordingNotifier) Online()              { n.add("online") }
func (n *recordingNotifier) Offline(reason string) { n.add("offline") }
func (n *recordingNotifier) RawText(text string)   { n.add("raw:" + text) }

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type stubEngine struct {
	mu      sync.Mutex
	sets    map[string]float64
	started []bool
}

func (e *stubEngine) Start(ctx context.Context, reconnect bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.started = append(e.started, reconnect)
	return true
}

func (e *stubEngine) Get(ctx context.Context, name string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.sets[name]
	return v, ok
}

func (e *stubEngine) Set(ctx context.Context, name string, value float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sets[name] = value
}

type stubOS struct {
	sessions []osmixer.Session
}

func (o *stubOS) ListSessions(ctx context.Context) ([]osmixer.Session, error) {
	return o.sessions, nil
}
func (o *stubOS) SetMasterVolume(ctx context.Context, scalar float64) error { return nil }
func (o *stubOS) MuteMaster(ctx context.Context, mute bool) error          { return nil }
func (o *stubOS) SetSessionVolume(ctx context.Context, s osmixer.Session, scalar float64) error {
	return nil
}
func (o *stubOS) MuteSession(ctx context.Context, s osmixer.Session, mute bool) error { return nil }

type fixture struct {
	bridge   *Bridge
	engine   *stubEngine
	notifier *recordingNotifier
	port     *pipePort
	openErr  error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := &config.Config{
		Ranges: config.Ranges{VolumeMin: -60, VolumeMax: 0, KnobMin: 0, KnobMax: 1023, Display: config.DisplayDecibel},
		Strips: []config.Strip{
			{Index: 0, MicrophoneGated: true, Target: config.VirtualStrip{Index: 0}},
			{Index: 1, Target: config.OSMaster{}},
		},
	}
	require.NoError(t, config.Validate(cfg))

	f := &fixture{
		engine:   &stubEngine{sets: map[string]float64{}},
		notifier: &recordingNotifier{},
		port:     newPipePort(),
	}
	osm := &stubOS{sessions: []osmixer.Session{{Name: "firefox", PID: 42, ID: 7}}}
	f.bridge = New(Options{
		Opener: func(path string, baud int) (io.ReadWriteCloser, error) {
			if f.openErr != nil {
				return nil, f.openErr
			}
			return f.port, nil
		},
		Clock:    link.RealClock,
		Router:   routing.NewRouter(config.NewStore(cfg), f.engine, osm),
		Engine:   f.engine,
		Sessions: osm,
		Ports:    func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil },
		Notifier: f.notifier,
	})
	t.Cleanup(f.bridge.Close)
	return f
}

func TestConnectSendsSentinel(t *testing.T) {
	f := newFixture(t)

	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))
	assert.Equal(t, []string{protocol.Sentinel + "\n"}, f.port.Written())
	assert.Equal(t, []string{"online"}, f.notifier.Events())
	assert.Equal(t, "open", f.bridge.Status().State)
	assert.Equal(t, "/dev/ttyUSB0", f.bridge.Status().Port)
}

func TestFramePipeline(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))

	f.port.reads <- []byte("ON|1023|0\n")
	require.Eventually(t, func() bool { return len(f.port.Written()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, "SW: (ON)|S1: 0dB|WM: 0%\n", f.port.Written()[1])
	assert.Equal(t, []string{"online", "raw:ON|1023|0"}, f.notifier.Events())

	v, ok := f.engine.Get(context.Background(), routing.GainParam(0))
	assert.True(t, ok)
	assert.Equal(t, 0.0, v)
	v, _ = f.engine.Get(context.Background(), routing.MuteParam(0))
	assert.Equal(t, 0.0, v)
}

func TestIdenticalFramesAreDeduplicated(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))

	first := f.bridge.HandleFrame("OFF|0|1023")
	second := f.bridge.HandleFrame("OFF|0|1023")
	assert.Equal(t, first, second)
	assert.Equal(t, "SW: [OFF]|S1: -60dB|WM: 100%", first)

	written := f.port.Written()
	require.Len(t, written, 2)
	assert.Equal(t, first+"\n", written[1])

	f.bridge.HandleFrame("OFF|1|1023")
	assert.Len(t, f.port.Written(), 3)
}

func TestFailedSendIsRetriedOnNextFrame(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))

	f.port.mu.Lock()
	f.port.failWrites = 1
	f.port.mu.Unlock()

	line := f.bridge.HandleFrame("ON|512|512")
	assert.Equal(t, protocol.Sentinel, f.bridge.Status().LastLine)
	assert.Equal(t, []string{protocol.Sentinel + "\n"}, f.port.Written())

	f.bridge.HandleFrame("ON|512|512")
	assert.Equal(t, []string{protocol.Sentinel + "\n", line + "\n"}, f.port.Written())
	assert.Equal(t, line, f.bridge.Status().LastLine)
}

func TestFrameWhileClosedIsNotRecorded(t *testing.T) {
	f := newFixture(t)

	f.bridge.HandleFrame("ON|512|512")
	assert.Equal(t, protocol.Sentinel, f.bridge.Status().LastLine)
}

func TestReconnectResetsRenderBaseline(t *testing.T) {
	f := newFixture(t)
	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))
	line := f.bridge.HandleFrame("ON|512|512")
	f.bridge.Close()

	f.port = newPipePort()
	require.True(t, f.bridge.Connect("/dev/ttyUSB0", false))
	assert.Equal(t, protocol.Sentinel, f.bridge.Status().LastLine)

	f.bridge.HandleFrame("ON|512|512")
	assert.Equal(t, []string{protocol.Sentinel + "\n", line + "\n"}, f.port.Written())
}

func TestConnectFailure(t *testing.T) {
	f := newFixture(t)
	f.openErr = errors.New("no such device")

	assert.False(t, f.bridge.Connect("/dev/ttyUSB9", false))
	assert.Equal(t, "faulted", f.bridge.Status().State)
	assert.Equal(t, []string{"offline"}, f.notifier.Events())
}

func TestTestPort(t *testing.T) {
	f := newFixture(t)

	assert.True(t, f.bridge.TestPort("/dev/ttyUSB0"))
	assert.Equal(t, "closed", f.bridge.Status().State)
	assert.Empty(t, f.port.Written(), "a probe must not write the sentinel")
	assert.Equal(t, []string{"online"}, f.notifier.Events())

	f.openErr = errors.New("busy")
	assert.False(t, f.bridge.TestPort("/dev/ttyUSB0"))
}

func TestCommandSurfacePassThrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ports, err := f.bridge.ListAvailablePorts()
	require.NoError(t, err)
	assert.Equal(t, []string{"/dev/ttyUSB0"}, ports)

	assert.True(t, f.bridge.StartVirtualMixerConnection(ctx, true))
	assert.Equal(t, []bool{true}, f.engine.started)

	f.bridge.SetVirtualMixerParam(ctx, "Strip[3].Gain", -12)
	v, ok := f.bridge.GetVirtualMixerParam(ctx, "Strip[3].Gain")
	assert.True(t, ok)
	assert.Equal(t, -12.0, v)

	sessions, err := f.bridge.ListOSAudioSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, "firefox", sessions[0].Name)
}
