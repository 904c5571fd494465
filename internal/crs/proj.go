package crs

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wroge/wgs84"
)

// Named ellipsoids accepted in definition strings: semi-major axis and
// inverse flattening.
var ellipsoids = map[string][2]float64{
	"wgs84":     {6378137, 298.257223563},
	"grs80":     {6378137, 298.257222101},
	"intl":      {6378388, 297},
	"clrk80ign": {6378249.2, 293.4660212936269},
	"clrk66":    {6378206.4, 294.9786982},
}

// parseProj builds a coordinate reference system from a proj4-style
// definition string. Supported projections are longlat, utm and tmerc,
// which cover every system this deployment ingests.
func parseProj(definition string) (wgs84.CoordinateReferenceSystem, error) {
	params := map[string]string{}
	for _, token := range strings.Fields(definition) {
		token = strings.TrimPrefix(token, "+")
		key, value, _ := strings.Cut(token, "=")
		params[strings.ToLower(key)] = value
	}

	a, rf := 6378137.0, 298.257223563
	var shift [7]float64

	if datum, ok := params["datum"]; ok && !strings.EqualFold(datum, "WGS84") {
		return nil, fmt.Errorf("unsupported datum %q", datum)
	}
	if name, ok := params["ellps"]; ok {
		e, known := ellipsoids[strings.ToLower(name)]
		if !known {
			return nil, fmt.Errorf("unknown ellipsoid %q", name)
		}
		a, rf = e[0], e[1]
	}
	if v, ok := params["a"]; ok {
		a = parseFloat(v, a)
	}
	if v, ok := params["rf"]; ok {
		rf = parseFloat(v, rf)
	}
	if v, ok := params["b"]; ok {
		if b := parseFloat(v, 0); b > 0 && b != a {
			rf = a / (a - b)
		}
	}
	if v, ok := params["towgs84"]; ok {
		for i, field := range strings.Split(v, ",") {
			if i >= len(shift) {
				break
			}
			shift[i] = parseFloat(field, 0)
		}
	}

	datum := wgs84.Helmert(a, rf, shift[0], shift[1], shift[2], shift[3], shift[4], shift[5], shift[6])

	switch params["proj"] {
	case "longlat":
		return datum.LonLat(), nil

	case "utm":
		zone, err := strconv.Atoi(params["zone"])
		if err != nil || zone < 1 || zone > 60 {
			return nil, fmt.Errorf("utm projection needs a zone, got %q", params["zone"])
		}
		northing := 0.0
		if _, south := params["south"]; south {
			northing = 10000000
		}
		return datum.TransverseMercator(float64(zone)*6-183, 0, 0.9996, 500000, northing), nil

	case "tmerc":
		scale := parseFloat(params["k"], parseFloat(params["k_0"], 1))
		return datum.TransverseMercator(
			parseFloat(params["lon_0"], 0),
			parseFloat(params["lat_0"], 0),
			scale,
			parseFloat(params["x_0"], 0),
			parseFloat(params["y_0"], 0),
		), nil

	default:
		return nil, fmt.Errorf("unsupported projection %q", params["proj"])
	}
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}
