package crs

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Resolution is the outcome of one detector strategy. Heuristic marks
// guesses (coordinate magnitude, zone/datum inference) as opposed to
// explicit metadata, and must be preserved in diagnostics.
type Resolution struct {
	SRS       SRS
	Heuristic bool
	Source    string
}

// Band is a rectangle of projected magnitudes mapped to an SRS code.
type Band struct {
	Code        string
	MinEasting  float64
	MaxEasting  float64
	MinNorthing float64
	MaxNorthing float64
}

// HeuristicPolicy configures the last-resort guess for projected data with
// no CRS metadata. Bands run in order; Code applies when none match.
type HeuristicPolicy struct {
	Code  string
	Bands []Band
}

// Resolver determines the source reference system of a dataset from explicit
// metadata or, failing that, from coordinate magnitude.
type Resolver struct {
	Registry *Registry
	Policy   HeuristicPolicy
}

var (
	epsgCodeRe  = regexp.MustCompile(`(?i)EPSG:{0,2}(\d+)`)
	authorityRe = regexp.MustCompile(`(?i)AUTHORITY\[\s*"EPSG"\s*,\s*"?(\d+)"?\s*\]`)
	zoneRe      = regexp.MustCompile(`(?i)zone[_\s]*(\d{1,2})\s*([NS]?)`)
)

// Well-known projection names matched against definition text before any
// zone/datum inference.
var wellKnownNames = map[string]string{
	"carthage / utm zone 32n": "EPSG:22332",
	"carthage_utm_zone_32n":   "EPSG:22332",
	"wgs 84 / utm zone 32n":   "EPSG:32632",
	"wgs_1984_utm_zone_32n":   "EPSG:32632",
}

// FromCRSName resolves an explicit CRS identifier such as "EPSG:32632" or
// "urn:ogc:def:crs:EPSG::32632". Returns nil when the identifier is not
// recognized and its parameters cannot be derived.
func (r *Resolver) FromCRSName(name string) *Resolution {
	if name == "" {
		return nil
	}
	if strings.Contains(strings.ToUpper(name), "CRS84") {
		return &Resolution{SRS: WGS84, Source: "crs-name"}
	}

	match := epsgCodeRe.FindStringSubmatch(name)
	if match == nil {
		log.Warn().Str("crs", name).Msg("Unrecognized CRS identifier, coordinates left untransformed")
		return nil
	}
	return r.byEPSG(match[1], "crs-name")
}

// FromProjectionText resolves a projection-definition blob (WKT-like): an
// explicit authority code wins, then well-known projection names, then a
// zone/datum signature, and an unrecognized WGS 84 zone computes its UTM
// code algorithmically.
func (r *Resolver) FromProjectionText(text string) *Resolution {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if matches := authorityRe.FindAllStringSubmatch(text, -1); len(matches) > 0 {
		// The last authority entry belongs to the outermost CS node.
		code := matches[len(matches)-1][1]
		if res := r.byEPSG(code, "projection-authority"); res != nil {
			return res
		}
	}

	lower := strings.ToLower(text)
	for name, code := range wellKnownNames {
		if strings.Contains(lower, name) {
			if srs, ok := r.Registry.Get(code); ok {
				return &Resolution{SRS: srs, Source: "projection-name"}
			}
		}
	}

	zone := zoneRe.FindStringSubmatch(text)
	if zone == nil {
		log.Warn().Msg("Projection definition matched no known signature, coordinates left untransformed")
		return nil
	}
	zoneNum, _ := strconv.Atoi(zone[1])
	south := strings.EqualFold(zone[2], "S") || strings.Contains(lower, `"false_northing",10000000`)

	if strings.Contains(lower, "carthage") {
		if srs, ok := r.Registry.Get("EPSG:22332"); ok && zoneNum == 32 && !south {
			return &Resolution{SRS: srs, Source: "projection-signature"}
		}
		log.Warn().Int("zone", zoneNum).Msg("Carthage datum outside the registered zone, coordinates left untransformed")
		return nil
	}

	if strings.Contains(lower, "wgs") {
		srs, err := r.registerUTM(zoneNum, south)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to derive UTM system from projection definition")
			return nil
		}
		return &Resolution{SRS: srs, Source: "projection-zone"}
	}

	log.Warn().Int("zone", zoneNum).Msg("Unrecognized zone/datum combination, coordinates left untransformed")
	return nil
}

// FromMagnitude is the last-resort guess: coordinates beyond geographic
// bounds are assumed projected and matched against the configured easting
// bands. Always heuristic, always logged.
func (r *Resolver) FromMagnitude(x, y float64) *Resolution {
	if math.Abs(x) <= 180 && math.Abs(y) <= 90 {
		return nil
	}

	for _, band := range r.Policy.Bands {
		if x >= band.MinEasting && x <= band.MaxEasting &&
			y >= band.MinNorthing && y <= band.MaxNorthing {
			if srs, ok := r.Registry.Get(band.Code); ok {
				log.Warn().Str("srs", band.Code).Float64("x", x).Float64("y", y).
					Bool("heuristic", true).
					Msg("No CRS metadata, source system guessed from coordinate magnitude")
				return &Resolution{SRS: srs, Heuristic: true, Source: "magnitude"}
			}
		}
	}

	if srs, ok := r.Registry.Get(r.Policy.Code); ok {
		log.Warn().Str("srs", r.Policy.Code).Float64("x", x).Float64("y", y).
			Bool("heuristic", true).
			Msg("No CRS metadata and no band matched, falling back to default source system")
		return &Resolution{SRS: srs, Heuristic: true, Source: "magnitude-default"}
	}
	return nil
}

// byEPSG looks up EPSG:<code>, deriving and transiently registering standard
// WGS 84 UTM codes that are not preconfigured.
func (r *Resolver) byEPSG(digits, source string) *Resolution {
	code := "EPSG:" + digits
	if srs, ok := r.Registry.Get(code); ok {
		return &Resolution{SRS: srs, Source: source}
	}

	n, _ := strconv.Atoi(digits)
	switch {
	case n >= 32601 && n <= 32660:
		if srs, err := r.registerUTM(n-32600, false); err == nil {
			return &Resolution{SRS: srs, Source: source}
		}
	case n >= 32701 && n <= 32760:
		if srs, err := r.registerUTM(n-32700, true); err == nil {
			return &Resolution{SRS: srs, Source: source}
		}
	}

	log.Warn().Str("crs", code).Msg("Unregistered SRS, coordinates left untransformed")
	return nil
}

func (r *Resolver) registerUTM(zone int, south bool) (SRS, error) {
	if zone < 1 || zone > 60 {
		return SRS{}, fmt.Errorf("utm zone %d out of range", zone)
	}
	code := fmt.Sprintf("EPSG:%d", 32600+zone)
	definition := fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", zone)
	if south {
		code = fmt.Sprintf("EPSG:%d", 32700+zone)
		definition = fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", zone)
	}
	if srs, ok := r.Registry.Get(code); ok {
		return srs, nil
	}
	return r.Registry.Register(code, definition)
}
