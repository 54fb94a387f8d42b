package routing

import (
	"gata-mixer/src/server/config"
	"gata-mixer/src/server/osmixer"
)

type TargetKind int

const (
	TargetUnresolved TargetKind = iota
	TargetVirtualStrip
	TargetMaster
	TargetSession
)

// Target is a strip's concrete destination for one frame.
type Target struct {
	Kind         TargetKind
	VirtualIndex int
	Session      osmixer.Session
}

// Resolve picks the concrete target for strip. Sessions are matched by PID
// first and by name second; no match yields TargetUnresolved.
func Resolve(strip config.Strip, sessions []osmixer.Session) Target {
	switch t := strip.Target.(type) {
	case config.VirtualStrip:
		return Target{Kind: TargetVirtualStrip, VirtualIndex: t.Index}
	case config.OSMaster:
		return Target{Kind: TargetMaster}
	case config.OSSession:
		if s, ok := findSession(sessions, t); ok {
			return Target{Kind: TargetSession, Session: s}
		}
	}
	return Target{Kind: TargetUnresolved}
}

func findSession(sessions []osmixer.Session, want config.OSSession) (osmixer.Session, bool) {
	if want.PID != 0 {
		for _, s := range sessions {
			if s.PID == want.PID {
				return s, true
			}
		}
	}
	if want.Name != "" {
		for _, s := range sessions {
			if s.Name == want.Name {
				return s, true
			}
		}
	}
	return osmixer.Session{}, false
}
