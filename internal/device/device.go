// Package device carries the platform values a tracker receives as opaque
// input: screen and locale metadata, advertising/vendor identifiers and geo.
package device

import (
	"sync"
	"time"

	"osb-tracker/internal/config"
)

type Info struct {
	Language        string
	Region          string
	TZOffsetMinutes int
	ScreenWidth     float64
	ScreenHeight    float64
	FreeStorage     int64
}

// Lang renders "ll-RR".
func (i Info) Lang() string {
	return i.Language + "-" + i.Region
}

// Identifiers are nil when unavailable.
type Identifiers struct {
	IDFA  *string
	IDFV  *string
	CDUID *string
}

type Geo struct {
	Enabled   bool
	Latitude  float64
	Longitude float64
}

// Valid reports whether geo may be sent: location enabled and both coordinates nonzero.
func (g Geo) Valid() bool {
	return g.Enabled && g.Latitude != 0 && g.Longitude != 0
}

type Provider interface {
	Info() Info
	Identifiers() Identifiers
	Geo() Geo
}

// Static is a Provider whose values are pushed in by the host.
type Static struct {
	mu   sync.RWMutex
	info Info
	ids  Identifiers
	geo  Geo
}

func NewStatic(info Info) *Static {
	return &Static{info: info}
}

// FromConfig builds a Static provider from the device section, using the
// local zone offset.
func FromConfig(cfg config.Config) *Static {
	_, offset := time.Now().Zone()
	s := NewStatic(Info{
		Language:        cfg.Device.Language,
		Region:          cfg.Device.Region,
		TZOffsetMinutes: offset / 60,
		ScreenWidth:     float64(cfg.Device.ScreenWidth),
		ScreenHeight:    float64(cfg.Device.ScreenHeight),
	})
	if cfg.Device.IDFV != "" {
		idfv := cfg.Device.IDFV
		s.SetIdentifiers(Identifiers{IDFV: &idfv})
	}
	return s
}

func (s *Static) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

func (s *Static) Identifiers() Identifiers {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ids
}

func (s *Static) Geo() Geo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geo
}

func (s *Static) SetInfo(info Info) {
	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
}

func (s *Static) SetIdentifiers(ids Identifiers) {
	s.mu.Lock()
	s.ids = ids
	s.mu.Unlock()
}

func (s *Static) SetGeo(g Geo) {
	s.mu.Lock()
	s.geo = g
	s.mu.Unlock()
}
