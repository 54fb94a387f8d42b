// Package osmixer controls the operating system's per-application mixer
// through pactl (PulseAudio or PipeWire's pulse server).
package osmixer

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"gata-mixer/src/server/logging"
	"gata-mixer/src/server/metrics"

	"github.com/rs/zerolog"
)

const defaultSink = "@DEFAULT_SINK@"

var execCommand = exec.CommandContext

// Session is one application audio stream. ID is the pactl sink-input index.
type Session struct {
	Name string `json:"name"`
	PID  int    `json:"pid"`
	ID   int    `json:"-"`
}

type Mixer struct {
	logger zerolog.Logger
}

func New() *Mixer {
	return &Mixer{logger: logging.ComponentLogger("osmixer")}
}

// CheckPactlAvailable reports whether pactl is on PATH.
func CheckPactlAvailable() bool {
	return execCommand(context.Background(), "which", "pactl").Run() == nil
}

type sinkInput struct {
	Index      int               `json:"index"`
	Properties map[string]string `json:"properties"`
}

// ListSessions enumerates the current sink inputs.
func (m *Mixer) ListSessions(ctx context.Context) ([]Session, error) {
	out, err := execCommand(ctx, "pactl", "-f", "json", "list", "sink-inputs").Output()
	if err != nil {
		metrics.BackendErrors.WithLabelValues("os").Inc()
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}
	return parseSinkInputs(out)
}

func parseSinkInputs(data []byte) ([]Session, error) {
	var inputs []sinkInput
	if err := json.Unmarshal(data, &inputs); err != nil {
		return nil, fmt.Errorf("pactl: decode sink-inputs: %w", err)
	}
	sessions := make([]Session, 0, len(inputs))
	for _, in := range inputs {
		s := Session{ID: in.Index, Name: in.Properties["application.process.binary"]}
		if s.Name == "" {
			s.Name = in.Properties["application.name"]
		}
		if pid, err := strconv.Atoi(in.Properties["application.process.id"]); err == nil {
			s.PID = pid
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func (m *Mixer) SetMasterVolume(ctx context.Context, scalar float64) error {
	return m.run(ctx, "set-sink-volume", defaultSink, volumeArg(scalar))
}

func (m *Mixer) MuteMaster(ctx context.Context, mute bool) error {
	return m.run(ctx, "set-sink-mute", defaultSink, muteArg(mute))
}

func (m *Mixer) SetSessionVolume(ctx context.Context, s Session, scalar float64) error {
	return m.run(ctx, "set-sink-input-volume", strconv.Itoa(s.ID), volumeArg(scalar))
}

func (m *Mixer) MuteSession(ctx context.Context, s Session, mute bool) error {
	return m.run(ctx, "set-sink-input-mute", strconv.Itoa(s.ID), muteArg(mute))
}

func (m *Mixer) run(ctx context.Context, args ...string) error {
	cmd := execCommand(ctx, "pactl", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		metrics.BackendErrors.WithLabelValues("os").Inc()
		return fmt.Errorf("pactl %s: %w (%s)", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	m.logger.Trace().Strs("args", args).Msg("pactl ok")
	return nil
}

// volumeArg clamps to [0,1]; the router hands through unclamped values.
func volumeArg(scalar float64) string {
	scalar = math.Max(0, math.Min(1, scalar))
	return fmt.Sprintf("%d%%", int(math.Round(scalar*100)))
}

func muteArg(mute bool) string {
	if mute {
		return "1"
	}
	return "0"
}
