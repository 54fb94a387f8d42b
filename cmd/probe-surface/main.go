// probe-surface opens a control surface and prints what it reports, for
// checking wiring and firmware without starting the bridge.
//
// Build (to dist/):
//   mkdir -p dist && go build -o dist/probe-surface ./cmd/probe-surface
//
// Usage:
//   go run ./cmd/probe-surface -port=/dev/ttyUSB0
//   go run ./cmd/probe-surface -port=/dev/ttyUSB0 -duration=30s
//   go run ./cmd/probe-surface -modbus -port=/dev/ttyS7 -slaves=1,2,3 -knobs=4
//
// Serial mode prints every telemetry line with its decoded frame. Modbus mode
// polls each slave once and prints the switch and knob registers.

package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gata-mixer/src/server/config"
	"gata-mixer/src/server/link"
	"gata-mixer/src/server/protocol"
	"gata-mixer/src/server/surface"
)

func main() {
	port := flag.String("port", "/dev/ttyUSB0", "Serial port")
	baud := flag.Int("baud", link.DefaultBaud, "Baud rate")
	duration := flag.Duration("duration", 10*time.Second, "How long to listen in serial mode")
	useModbus := flag.Bool("modbus", false, "Probe a Modbus RTU panel instead of a line-protocol surface")
	slavesFlag := flag.String("slaves", "1", "Comma-separated slave IDs to try in modbus mode")
	knobs := flag.Int("knobs", 4, "Knob registers to read in modbus mode")
	flag.Parse()

	if *useModbus {
		slaves, err := parseSlaves(*slavesFlag)
		if err != nil {
			log.Fatalf("slaves: %v", err)
		}
		probeModbus(*port, *baud, *knobs, slaves)
		return
	}
	probeSerial(*port, *baud, *duration)
}

func probeSerial(port string, baud int, duration time.Duration) {
	var lines atomic.Int32
	l := link.NewSerialLink(link.SerialOpener, link.RealClock, baud, link.Events{
		OnOnline: func(bool) { fmt.Printf("%s open at %d baud\n", port, baud) },
		OnOffline: func(err error) {
			fmt.Printf("%s offline: %v\n", port, err)
		},
		OnLine: func(line string) {
			lines.Add(1)
			fmt.Printf("%-40s %s\n", line, describeFrame(protocol.Decode(line)))
		},
	})
	if !l.Connect(port, false) {
		log.Fatalf("could not open %s", port)
	}
	time.Sleep(duration)
	l.Close()

	n := lines.Load()
	if n == 0 {
		log.Fatalf("no telemetry received from %s in %s (check baud %d and firmware)", port, duration, baud)
	}
	fmt.Printf("Done. %d line(s) received.\n", n)
}

func probeModbus(port string, baud, knobs int, slaves []byte) {
	found := 0
	for _, sid := range slaves {
		p := surface.NewPanel(config.ModbusConfig{Port: port, SlaveID: sid, Baud: baud, Knobs: knobs}, nil)
		if err := p.Open(); err != nil {
			log.Fatalf("connect %s at %d: %v", port, baud, err)
		}
		state, err := p.Poll()
		p.Stop()
		if err != nil {
			log.Printf("slave %d: not found or no response (%v)", sid, err)
			continue
		}
		found++
		fmt.Printf("slave %d: %s\n", sid, describeFrame(surface.FrameFromState(state)))
	}
	if found == 0 {
		log.Fatalf("no panels answered (check port, baud %d, and slave IDs)", baud)
	}
}

func describeFrame(f protocol.Frame) string {
	var b strings.Builder
	if f.SwitchOn {
		b.WriteString("switch=on")
	} else {
		b.WriteString("switch=off")
	}
	for i := range f.Raw {
		if raw, ok := f.RawAt(i); ok {
			fmt.Fprintf(&b, " k%d=%d", i, int(raw))
		} else {
			fmt.Fprintf(&b, " k%d=?", i)
		}
	}
	return b.String()
}

func parseSlaves(s string) ([]byte, error) {
	var out []byte
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 247 {
			return nil, fmt.Errorf("invalid slave id %q", p)
		}
		out = append(out, byte(n))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no slave IDs")
	}
	return out, nil
}
