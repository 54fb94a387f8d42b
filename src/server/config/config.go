package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gata-mixer/src/server/util"

	"gopkg.in/yaml.v3"
)

const (
	prodConfigDir  = "/var/lib/gata-mixer"
	configFileName = "config.yaml"
	configDirEnv   = "GATA_MIXER_CONFIG_DIR"
)

// LoudVolumeMax replaces Ranges.VolumeMax for strips marked loud.
const LoudVolumeMax = 12

// ErrInvalidRange is returned when a min/max pair would make the knob mapping divide by zero or invert.
var ErrInvalidRange = errors.New("invalid range")

type DisplayMode int

const (
	DisplayDecibel DisplayMode = iota
	DisplayPercentage
)

func (d DisplayMode) String() string {
	if d == DisplayPercentage {
		return "percent"
	}
	return "db"
}

// Ranges holds the global gain and knob bounds.
type Ranges struct {
	VolumeMin int
	VolumeMax int
	KnobMin   int
	KnobMax   int
	Display   DisplayMode
}

// Target is the closed set of things a strip can control.
type Target interface {
	isTarget()
}

// VirtualStrip addresses a strip of the virtual mixing engine.
type VirtualStrip struct {
	Index int
}

// OSMaster addresses the operating system master volume.
type OSMaster struct{}

// OSSession addresses one application's audio session, looked up by PID then name.
type OSSession struct {
	Name string
	PID  int
}

func (VirtualStrip) isTarget() {}
func (OSMaster) isTarget()     {}
func (OSSession) isTarget()    {}

// Strip is the routing rule for one knob slot of the control surface.
type Strip struct {
	Index           int
	MicrophoneGated bool
	Loud            bool
	KnobMin         *int
	KnobMax         *int
	Target          Target
}

// KnobRange returns the strip's raw sample bounds, falling back to the global ones.
func (s Strip) KnobRange(r Ranges) (int, int) {
	lo, hi := r.KnobMin, r.KnobMax
	if s.KnobMin != nil {
		lo = *s.KnobMin
	}
	if s.KnobMax != nil {
		hi = *s.KnobMax
	}
	return lo, hi
}

// VolumeRange returns the strip's gain bounds.
func (s Strip) VolumeRange(r Ranges) (int, int) {
	if s.Loud {
		return r.VolumeMin, LoudVolumeMax
	}
	return r.VolumeMin, r.VolumeMax
}

type SerialConfig struct {
	Port      string
	Baud      int
	AutoStart bool
}

type EngineConfig struct {
	Address   string
	TimeoutMS int
	AutoStart bool
}

type NotifyConfig struct {
	Port            string
	ServeExternally bool
}

type ModbusConfig struct {
	Enabled bool
	Port    string
	SlaveID byte
	Baud    int
	Knobs   int
	PollMS  int
}

// Config is one immutable configuration snapshot. Replace it through Store.Swap,
// never mutate a snapshot that has been published.
type Config struct {
	HTTPAddr string
	Serial   SerialConfig
	Engine   EngineConfig
	Notify   NotifyConfig
	Modbus   ModbusConfig
	Ranges   Ranges
	Strips   []Strip
}

// GetConfigPath resolves where config.yaml lives.
func GetConfigPath() string {
	if dir := util.Getenv(configDirEnv); dir != "" {
		return filepath.Join(dir, configFileName)
	}
	if info, err := os.Stat(prodConfigDir); err == nil && info.IsDir() {
		return filepath.Join(prodConfigDir, configFileName)
	}
	return filepath.Join("tmp", configFileName)
}

// Load reads and validates the configuration at path. A missing file is
// created with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	fc := defaultFileConfig()
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg, err := fc.toConfig()
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the routing math cannot handle.
func Validate(cfg *Config) error {
	r := cfg.Ranges
	if r.VolumeMax <= r.VolumeMin {
		return fmt.Errorf("volume_max %d must exceed volume_min %d: %w", r.VolumeMax, r.VolumeMin, ErrInvalidRange)
	}
	if r.KnobMax <= r.KnobMin {
		return fmt.Errorf("knob_max %d must exceed knob_min %d: %w", r.KnobMax, r.KnobMin, ErrInvalidRange)
	}

	seen := make(map[int]bool, len(cfg.Strips))
	for i, s := range cfg.Strips {
		if s.Index < 0 {
			return fmt.Errorf("strip %d: negative index %d", i, s.Index)
		}
		if seen[s.Index] {
			return fmt.Errorf("strip %d: duplicate index %d", i, s.Index)
		}
		seen[s.Index] = true

		if lo, hi := s.KnobRange(r); hi <= lo {
			return fmt.Errorf("strip %d: knob_max %d must exceed knob_min %d: %w", s.Index, hi, lo, ErrInvalidRange)
		}
		if lo, hi := s.VolumeRange(r); hi <= lo {
			return fmt.Errorf("strip %d: volume ceiling %d must exceed volume_min %d: %w", s.Index, hi, lo, ErrInvalidRange)
		}

		switch t := s.Target.(type) {
		case VirtualStrip:
			if t.Index < 0 {
				return fmt.Errorf("strip %d: negative virtual_index %d", s.Index, t.Index)
			}
		case OSMaster:
		case OSSession:
			if t.Name == "" && t.PID == 0 {
				return fmt.Errorf("strip %d: session target needs a name or pid", s.Index)
			}
		default:
			return fmt.Errorf("strip %d: no target", s.Index)
		}
	}
	return nil
}

type fileRanges struct {
	VolumeMin int    `yaml:"volume_min"`
	VolumeMax int    `yaml:"volume_max"`
	KnobMin   int    `yaml:"knob_min"`
	KnobMax   int    `yaml:"knob_max"`
	Display   string `yaml:"display"`
}

type fileSession struct {
	Name string `yaml:"name,omitempty"`
	PID  int    `yaml:"pid,omitempty"`
}

type fileStrip struct {
	Index        int          `yaml:"index"`
	Type         string       `yaml:"type"`
	VirtualIndex int          `yaml:"virtual_index,omitempty"`
	Session      *fileSession `yaml:"session,omitempty"`
	Microphone   bool         `yaml:"microphone,omitempty"`
	Loud         bool         `yaml:"loud,omitempty"`
	KnobMin      *int         `yaml:"knob_min,omitempty"`
	KnobMax      *int         `yaml:"knob_max,omitempty"`
}

type fileSerial struct {
	Port      string `yaml:"port"`
	Baud      int    `yaml:"baud"`
	AutoStart bool   `yaml:"auto_start,omitempty"`
}

type fileEngine struct {
	Address   string `yaml:"address"`
	TimeoutMS int    `yaml:"timeout_ms"`
	AutoStart bool   `yaml:"auto_start,omitempty"`
}

type fileNotify struct {
	Port            string `yaml:"port"`
	ServeExternally bool   `yaml:"serve_externally,omitempty"`
}

type fileModbus struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port,omitempty"`
	SlaveID int    `yaml:"slave_id,omitempty"`
	Baud    int    `yaml:"baud,omitempty"`
	Knobs   int    `yaml:"knobs,omitempty"`
	PollMS  int    `yaml:"poll_ms,omitempty"`
}

type fileConfig struct {
	HTTPAddr string      `yaml:"http_addr"`
	Serial   fileSerial  `yaml:"serial"`
	Engine   fileEngine  `yaml:"engine"`
	Notify   fileNotify  `yaml:"notify"`
	Modbus   fileModbus  `yaml:"modbus"`
	Ranges   fileRanges  `yaml:"ranges"`
	Strips   []fileStrip `yaml:"strips"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		HTTPAddr: ":9080",
		Serial:   fileSerial{Port: "/dev/ttyUSB0", Baud: 9600},
		Engine:   fileEngine{Address: "127.0.0.1:9000", TimeoutMS: 500},
		Notify:   fileNotify{Port: "9081"},
		Modbus:   fileModbus{SlaveID: 1, Baud: 9600, Knobs: 4, PollMS: 50},
		Ranges: fileRanges{
			VolumeMin: -60,
			VolumeMax: 0,
			KnobMin:   0,
			KnobMax:   1023,
			Display:   "db",
		},
	}
}

func (fc fileConfig) toConfig() (*Config, error) {
	cfg := &Config{
		HTTPAddr: fc.HTTPAddr,
		Serial:   SerialConfig{Port: fc.Serial.Port, Baud: fc.Serial.Baud, AutoStart: fc.Serial.AutoStart},
		Engine:   EngineConfig{Address: fc.Engine.Address, TimeoutMS: fc.Engine.TimeoutMS, AutoStart: fc.Engine.AutoStart},
		Notify:   NotifyConfig{Port: fc.Notify.Port, ServeExternally: fc.Notify.ServeExternally},
		Modbus: ModbusConfig{
			Enabled: fc.Modbus.Enabled,
			Port:    fc.Modbus.Port,
			SlaveID: byte(fc.Modbus.SlaveID),
			Baud:    fc.Modbus.Baud,
			Knobs:   fc.Modbus.Knobs,
			PollMS:  fc.Modbus.PollMS,
		},
		Ranges: Ranges{
			VolumeMin: fc.Ranges.VolumeMin,
			VolumeMax: fc.Ranges.VolumeMax,
			KnobMin:   fc.Ranges.KnobMin,
			KnobMax:   fc.Ranges.KnobMax,
		},
	}

	switch strings.ToLower(strings.TrimSpace(fc.Ranges.Display)) {
	case "", "db":
		cfg.Ranges.Display = DisplayDecibel
	case "percent", "percentage", "%":
		cfg.Ranges.Display = DisplayPercentage
	default:
		return nil, fmt.Errorf("config: unknown display mode %q", fc.Ranges.Display)
	}

	for i, fs := range fc.Strips {
		s := Strip{
			Index:           fs.Index,
			MicrophoneGated: fs.Microphone,
			Loud:            fs.Loud,
			KnobMin:         fs.KnobMin,
			KnobMax:         fs.KnobMax,
		}
		switch strings.ToLower(fs.Type) {
		case "vm", "virtual":
			s.Target = VirtualStrip{Index: fs.VirtualIndex}
		case "master", "_main":
			s.Target = OSMaster{}
		case "session", "app":
			if fs.Session == nil {
				return nil, fmt.Errorf("config: strip %d: session type without session block", i)
			}
			s.Target = OSSession{Name: fs.Session.Name, PID: fs.Session.PID}
		default:
			return nil, fmt.Errorf("config: strip %d: unknown type %q", i, fs.Type)
		}
		cfg.Strips = append(cfg.Strips, s)
	}
	return cfg, nil
}

func createDefaultConfig(path string) (*Config, error) {
	fc := defaultFileConfig()
	data, err := yaml.Marshal(&fc)
	if err != nil {
		return nil, err
	}
	if err := writeAtomic(path, data); err != nil {
		return nil, err
	}
	return fc.toConfig()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
