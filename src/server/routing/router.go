// Package routing turns decoded telemetry frames into mute and gain commands
// for the virtual mixing engine and the OS mixer.
package routing

import (
	"context"
	"fmt"
	"sort"

	"gata-mixer/src/server/config"
	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"
	"gata-mixer/src/server/osmixer"
	"gata-mixer/src/server/protocol"

	"github.com/rs/zerolog"
)

// EngineControl is the slice of the virtual mixer client the router needs.
// Failures are absorbed by the client.
type EngineControl interface {
	Set(ctx context.Context, name string, value float64)
}

// OSControl is the OS session mixer.
type OSControl interface {
	ListSessions(ctx context.Context) ([]osmixer.Session, error)
	SetMasterVolume(ctx context.Context, scalar float64) error
	MuteMaster(ctx context.Context, mute bool) error
	SetSessionVolume(ctx context.Context, s osmixer.Session, scalar float64) error
	MuteSession(ctx context.Context, s osmixer.Session, mute bool) error
}

// GainParam and MuteParam name the engine parameters of strip i.
func GainParam(i int) string { return fmt.Sprintf("Strip[%d].Gain", i) }
func MuteParam(i int) string { return fmt.Sprintf("Strip[%d].Mute", i) }

type Router struct {
	store  *config.Store
	engine EngineControl
	os     OSControl
	logger zerolog.Logger
}

func NewRouter(store *config.Store, engine EngineControl, os OSControl) *Router {
	return &Router{
		store:  store,
		engine: engine,
		os:     os,
		logger: logging.ComponentLogger("router"),
	}
}

// frameSessions lists OS sessions at most once per frame.
type frameSessions struct {
	os      OSControl
	fetched bool
	list    []osmixer.Session
}

func (fs *frameSessions) get(ctx context.Context, logger *zerolog.Logger) []osmixer.Session {
	if fs.fetched {
		return fs.list
	}
	fs.fetched = true
	list, err := fs.os.ListSessions(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("listing OS audio sessions failed")
		return nil
	}
	fs.list = list
	return list
}

// Route dispatches one frame and returns the status tokens, switch first and
// strips in ascending index. It never fails: every per-strip problem is
// logged and skipped.
func (r *Router) Route(ctx context.Context, f protocol.Frame) []protocol.Token {
	cfg := r.store.Load()

	strips := make([]config.Strip, len(cfg.Strips))
	copy(strips, cfg.Strips)
	sort.Slice(strips, func(i, j int) bool { return strips[i].Index < strips[j].Index })

	sessions := &frameSessions{os: r.os}
	tokens := make([]protocol.Token, 0, len(strips)+1)
	tokens = append(tokens, protocol.SwitchToken(f.SwitchOn))

	for _, strip := range strips {
		var target Target
		if _, ok := strip.Target.(config.OSSession); ok {
			target = Resolve(strip, sessions.get(ctx, &r.logger))
		} else {
			target = Resolve(strip, nil)
		}
		if target.Kind == TargetUnresolved {
			metrics.UnresolvedTargets.Inc()
			r.logger.Info().Int("strip", strip.Index).Msg("no OS session matches strip target, dropping")
		}

		if strip.MicrophoneGated {
			r.mute(ctx, strip, target, !f.SwitchOn)
		}

		raw, ok := f.RawAt(strip.Index)
		if !ok {
			metrics.ParseSkips.Inc()
			r.logger.Debug().Int("strip", strip.Index).Msg("no usable knob sample, skipping gain")
			continue
		}

		knobMin, knobMax := strip.KnobRange(cfg.Ranges)
		volMin, volMax := strip.VolumeRange(cfg.Ranges)
		gain, percent := MapKnob(raw, knobMin, knobMax, volMin, volMax)

		if tok, ok := r.gain(ctx, strip, target, gain, percent, cfg.Ranges.Display); ok {
			tokens = append(tokens, tok)
		}
	}
	return tokens
}

func (r *Router) mute(ctx context.Context, strip config.Strip, target Target, mute bool) {
	var err error
	switch target.Kind {
	case TargetVirtualStrip:
		value := 0.0
		if mute {
			value = 1
		}
		r.engine.Set(ctx, MuteParam(target.VirtualIndex), value)
	case TargetMaster:
		err = r.os.MuteMaster(ctx, mute)
	case TargetSession:
		err = r.os.MuteSession(ctx, target.Session, mute)
	}
	if err != nil {
		r.logger.Warn().Err(err).Int("strip", strip.Index).Bool("mute", mute).Msg("mute failed")
	}
}

func (r *Router) gain(ctx context.Context, strip config.Strip, target Target, gain, percent int, display config.DisplayMode) (protocol.Token, bool) {
	scalar := float64(percent) / 100
	var err error
	var tok protocol.Token

	switch t := strip.Target.(type) {
	case config.VirtualStrip:
		r.engine.Set(ctx, GainParam(t.Index), float64(gain))
		tok = protocol.VirtualStripToken(t.Index, gain, percent, display)
	case config.OSMaster:
		err = r.os.SetMasterVolume(ctx, scalar)
		tok = protocol.MasterToken(percent)
	case config.OSSession:
		if target.Kind == TargetSession {
			err = r.os.SetSessionVolume(ctx, target.Session, scalar)
		}
		tok = protocol.SessionToken(t.Name, percent)
	default:
		return "", false
	}

	if err != nil {
		r.logger.Warn().Err(err).Int("strip", strip.Index).Int("percent", percent).Msg("volume update failed")
	}
	return tok, true
}
