package vmixer

import (
	"fmt"
	"strings"

	"github.com/hypebeast/go-osc/osc"
)

// buildOSC encodes one OSC message.
func buildOSC(addr string, args ...any) ([]byte, error) {
	return osc.NewMessage(addr, args...).MarshalBinary()
}

// parseOSC decodes a single OSC message. Bundles are rejected; the engine
// never sends them.
func parseOSC(data []byte) (addr string, args []any, err error) {
	packet, err := osc.ParsePacket(string(data))
	if err != nil {
		return "", nil, fmt.Errorf("osc: %w", err)
	}
	msg, ok := packet.(*osc.Message)
	if !ok {
		return "", nil, fmt.Errorf("osc: unexpected bundle")
	}
	return msg.Address, msg.Arguments, nil
}

// paramAddress maps an engine parameter name such as "Strip[0].Gain" onto
// its OSC address "/Strip/0/Gain".
func paramAddress(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("empty parameter name")
	}
	r := strings.NewReplacer("[", "/", "]", "", ".", "/")
	addr := "/" + r.Replace(name)
	if strings.Contains(addr, "//") || strings.HasSuffix(addr, "/") || strings.ContainsAny(addr, " #*,?{}") {
		return "", fmt.Errorf("invalid parameter name %q", name)
	}
	return addr, nil
}
