// Package protocol implements the control surface line protocol: inbound
// telemetry lines ("ON|512|1023") and outbound status lines for the LCD.
package protocol

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"gata-mixer/src/server/config"
)

const (
	fieldSep  = "|"
	switchOn  = "ON"
	MaxTokens = 7

	// Sentinel is the status line sent when a link opens, before any frame.
	Sentinel = "LOADING..."
)

// Frame is one decoded telemetry sample. Raw[i] belongs to the strip with
// Index i; NaN marks a missing or unparseable sample.
type Frame struct {
	SwitchOn bool
	Raw      []float64
}

// RawAt returns the sample for strip index i and whether it is usable.
func (f Frame) RawAt(i int) (float64, bool) {
	if i < 0 || i >= len(f.Raw) || math.IsNaN(f.Raw[i]) {
		return 0, false
	}
	return f.Raw[i], true
}

// Decode parses one inbound line. It never fails: bad knob fields decode to
// NaN so the rest of the frame still routes.
func Decode(line string) Frame {
	fields := strings.Split(strings.TrimSpace(line), fieldSep)
	f := Frame{
		SwitchOn: fields[0] == switchOn,
		Raw:      make([]float64, 0, len(fields)-1),
	}
	for _, field := range fields[1:] {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			f.Raw = append(f.Raw, math.NaN())
			continue
		}
		f.Raw = append(f.Raw, float64(n))
	}
	return f
}

// Token is one "|"-separated cell of the status line.
type Token string

func SwitchToken(on bool) Token {
	if on {
		return "SW: (ON)"
	}
	return "SW: [OFF]"
}

// VirtualStripToken renders engine strip virtualIndex (0-based) as S<n>.
func VirtualStripToken(virtualIndex, gain, percent int, mode config.DisplayMode) Token {
	if mode == config.DisplayPercentage {
		return Token(fmt.Sprintf("S%d: %d%%", virtualIndex+1, percent))
	}
	return Token(fmt.Sprintf("S%d: %ddB", virtualIndex+1, gain))
}

func MasterToken(percent int) Token {
	return Token(fmt.Sprintf("WM: %d%%", percent))
}

func SessionToken(name string, percent int) Token {
	initial := "?"
	if r, _ := utf8.DecodeRuneInString(name); r != utf8.RuneError {
		initial = string(r)
	}
	return Token(fmt.Sprintf("W%s: %d%%", initial, percent))
}

// Encode joins at most MaxTokens tokens; the display has no room for more.
func Encode(tokens []Token) string {
	if len(tokens) > MaxTokens {
		tokens = tokens[:MaxTokens]
	}
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = string(t)
	}
	return strings.Join(parts, fieldSep)
}

// RenderState remembers the last line sent to the display. The LCD breaks
// easily, so identical lines must never be sent twice in a row.
type RenderState struct {
	mu   sync.Mutex
	last string
}

func NewRenderState() *RenderState {
	return &RenderState{last: Sentinel}
}

// Update records line and reports whether it differs from the last one.
func (r *RenderState) Update(line string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.last {
		return false
	}
	r.last = line
	return true
}

// Reset returns to the sentinel baseline used right after a link opens.
func (r *RenderState) Reset() {
	r.mu.Lock()
	r.last = Sentinel
	r.mu.Unlock()
}

func (r *RenderState) Last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}
