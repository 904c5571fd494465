// Package crs resolves source reference systems and reprojects coordinates
// into canonical geographic WGS 84.
package crs

import (
	"fmt"
	"sync"

	"github.com/wroge/wgs84"
)

// SRS describes one source reference system: an authority code and the
// projection definition string it was built from.
type SRS struct {
	Code       string
	Definition string

	sys wgs84.CoordinateReferenceSystem
}

// IsZero reports whether the descriptor is empty (unresolved).
func (s SRS) IsZero() bool { return s.Code == "" }

// WGS84 is the canonical geographic target of the whole pipeline.
var WGS84 = SRS{
	Code:       "EPSG:4326",
	Definition: "+proj=longlat +datum=WGS84 +no_defs",
	sys:        wgs84.LonLat(),
}

// Registry holds the reference systems known to the process. It is populated
// once at startup and read-mostly afterward; transient runtime registrations
// go through a batch-scoped copy so they never leak across uploads.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]SRS
}

// NewRegistry returns a registry seeded with the canonical WGS 84 entry.
func NewRegistry() *Registry {
	return &Registry{entries: map[string]SRS{WGS84.Code: WGS84}}
}

// Register parses a projection definition string and stores it under code.
func (r *Registry) Register(code, definition string) (SRS, error) {
	sys, err := parseProj(definition)
	if err != nil {
		return SRS{}, fmt.Errorf("register %s: %w", code, err)
	}
	srs := SRS{Code: code, Definition: definition, sys: sys}

	r.mu.Lock()
	r.entries[code] = srs
	r.mu.Unlock()
	return srs, nil
}

// Get returns the registered descriptor for code.
func (r *Registry) Get(code string) (SRS, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	srs, ok := r.entries[code]
	return srs, ok
}

// Batch returns an independent copy of the registry for one upload batch.
// Registrations on the copy are invisible to the parent.
func (r *Registry) Batch() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make(map[string]SRS, len(r.entries))
	for code, srs := range r.entries {
		entries[code] = srs
	}
	return &Registry{entries: entries}
}
