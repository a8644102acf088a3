package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile describes the device an agent reports as. It is read from a yaml
// file, an optional per-environment overlay next to it and OSB_* env vars.
type Profile struct {
	Language     string  `yaml:"language"`
	Region       string  `yaml:"region"`
	TZOffset     *int    `yaml:"tzOffsetMinutes"`
	ScreenWidth  float64 `yaml:"screenWidth"`
	ScreenHeight float64 `yaml:"screenHeight"`
	FreeStorage  int64   `yaml:"freeStorage"`

	IDFA  string `yaml:"idfa"`
	IDFV  string `yaml:"idfv"`
	CDUID string `yaml:"cduid"`

	Geo struct {
		Enabled   bool    `yaml:"enabled"`
		Latitude  float64 `yaml:"latitude"`
		Longitude float64 `yaml:"longitude"`
	} `yaml:"geo"`
}

// LoadProfile reads path, then <name>.<ENV>.yaml when present, then env overrides.
func LoadProfile(path string) (Profile, error) {
	var p Profile
	if err := loadYAML(path, &p); err != nil {
		return p, err
	}

	if env := strings.ToLower(os.Getenv("ENV")); env != "" {
		ext := filepath.Ext(path)
		overlay := strings.TrimSuffix(path, ext) + "." + env + ext
		if _, err := os.Stat(overlay); err == nil {
			if err := loadYAML(overlay, &p); err != nil {
				return p, err
			}
		}
	}

	applyEnvOverrides(&p)
	return p, nil
}

func loadYAML(path string, out any) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open device profile %s: %w", path, err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("decode device profile %s: %w", path, err)
	}
	return nil
}

func applyEnvOverrides(p *Profile) {
	if v := os.Getenv("OSB_IDFA"); v != "" {
		p.IDFA = v
	}
	if v := os.Getenv("OSB_IDFV"); v != "" {
		p.IDFV = v
	}
	if v := os.Getenv("OSB_CDUID"); v != "" {
		p.CDUID = v
	}
	if v := os.Getenv("OSB_LANGUAGE"); v != "" {
		p.Language = v
	}
	if v := os.Getenv("OSB_REGION"); v != "" {
		p.Region = v
	}
	if v := os.Getenv("OSB_LATITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Geo.Latitude = f
		}
	}
	if v := os.Getenv("OSB_LONGITUDE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Geo.Longitude = f
		}
	}
}

// Apply pushes the non-empty profile values into s.
func (p Profile) Apply(s *Static) {
	info := s.Info()
	if p.Language != "" {
		info.Language = p.Language
	}
	if p.Region != "" {
		info.Region = p.Region
	}
	if p.TZOffset != nil {
		info.TZOffsetMinutes = *p.TZOffset
	}
	if p.ScreenWidth > 0 {
		info.ScreenWidth = p.ScreenWidth
	}
	if p.ScreenHeight > 0 {
		info.ScreenHeight = p.ScreenHeight
	}
	if p.FreeStorage > 0 {
		info.FreeStorage = p.FreeStorage
	}
	s.SetInfo(info)

	ids := s.Identifiers()
	if p.IDFA != "" {
		ids.IDFA = &p.IDFA
	}
	if p.IDFV != "" {
		ids.IDFV = &p.IDFV
	}
	if p.CDUID != "" {
		ids.CDUID = &p.CDUID
	}
	s.SetIdentifiers(ids)

	s.SetGeo(Geo{Enabled: p.Geo.Enabled, Latitude: p.Geo.Latitude, Longitude: p.Geo.Longitude})
}
