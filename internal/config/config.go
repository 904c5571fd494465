// Package config handles configuration loading and shared data structures.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration file structure.
type Config struct {
	// DefaultSRS is the assumed source reference system for point tables
	// and for projected data with no resolvable CRS.
	DefaultSRS string `yaml:"default_srs,omitempty"`

	// SRS lists the reference systems known to this deployment, loaded
	// into the registry at startup.
	SRS []SRSEntry `yaml:"srs,omitempty"`

	// Heuristic configures the last-resort SRS guess for projected
	// coordinates that arrive without any CRS metadata.
	Heuristic Heuristic `yaml:"heuristic,omitempty"`

	// Encodings is the candidate order tried by the text decoder.
	Encodings []string `yaml:"encodings,omitempty"`

	MaxUploadMB int64 `yaml:"max_upload_mb,omitempty"`
	Workers     int   `yaml:"workers,omitempty"`
}

// SRSEntry is one registry entry: an authority code and its projection
// definition string.
type SRSEntry struct {
	Code       string `yaml:"code"`
	Definition string `yaml:"definition"`
}

// Heuristic maps easting/northing bands to SRS codes. Bands are checked in
// order; the first match wins. Code is used when no band matches.
type Heuristic struct {
	Code  string `yaml:"code,omitempty"`
	Bands []Band `yaml:"bands,omitempty"`
}

// Band is a rectangle of projected coordinate magnitudes.
type Band struct {
	Code        string  `yaml:"code"`
	MinEasting  float64 `yaml:"min_easting"`
	MaxEasting  float64 `yaml:"max_easting"`
	MinNorthing float64 `yaml:"min_northing"`
	MaxNorthing float64 `yaml:"max_northing"`
}

// Default returns the built-in deployment configuration: the Tunisian
// national grid (Carthage / UTM 32N), its WGS 84 equivalent and geographic
// WGS 84.
func Default() *Config {
	return &Config{
		DefaultSRS: "EPSG:22332",
		SRS: []SRSEntry{
			{Code: "EPSG:4326", Definition: "+proj=longlat +datum=WGS84 +no_defs"},
			{Code: "EPSG:32632", Definition: "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs"},
			{Code: "EPSG:22332", Definition: "+proj=utm +zone=32 +a=6378249.2 +rf=293.4660212936269 +towgs84=-263.0,6.0,431.0 +units=m +no_defs"},
		},
		Heuristic: Heuristic{
			Code: "EPSG:22332",
			Bands: []Band{
				// Carthage UTM 32N magnitudes over the Tunisian territory.
				{Code: "EPSG:22332", MinEasting: 300000, MaxEasting: 700000, MinNorthing: 3300000, MaxNorthing: 4500000},
				{Code: "EPSG:32632", MinEasting: 100000, MaxEasting: 900000, MinNorthing: 0, MaxNorthing: 10000000},
			},
		},
		Encodings:   []string{"utf-8", "windows-1252", "iso-8859-1", "windows-1256"},
		MaxUploadMB: 64,
		Workers:     4,
	}
}

// Load reads and parses the YAML configuration file from the specified path.
// An empty path yields the built-in defaults; values present in the file
// override them.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}

	return cfg, nil
}
