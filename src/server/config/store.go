package config

import "sync/atomic"

// Store publishes configuration snapshots. Readers take one snapshot per
// frame, so a reload is never partially visible mid-frame.
type Store struct {
	cur atomic.Pointer[Config]
}

func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.cur.Store(cfg)
	return s
}

func (s *Store) Load() *Config {
	return s.cur.Load()
}

// Swap validates cfg and replaces the current snapshot.
func (s *Store) Swap(cfg *Config) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	s.cur.Store(cfg)
	return nil
}

// Reload re-reads path and swaps it in.
func (s *Store) Reload(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	return s.Swap(cfg)
}
