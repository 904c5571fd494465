package ingest

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/sigweb/surveymap/internal/crs"
)

var geometryTypes = map[string]bool{
	"Point": true, "LineString": true, "Polygon": true,
	"MultiPoint": true, "MultiLineString": true, "MultiPolygon": true,
}

var (
	lonAliases = []string{"lon", "lng", "long", "longitude"}
	latAliases = []string{"lat", "latitude"}
)

// NormalizeGeoJSON validates structured-geometry input of unknown shape and
// produces the canonical feature collection. Any of the seven GeoJSON type
// discriminants is accepted; everything else is a typed failure. Coordinates
// are reprojected when a CRS block resolves to a non-canonical system.
func NormalizeGeoJSON(file string, raw []byte, resolver *crs.Resolver) (*geojson.FeatureCollection, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fileErr(file, StageParse, err, "invalid JSON: %v", err)
	}

	typ, _ := doc["type"].(string)
	var entries []map[string]any

	switch {
	case typ == "FeatureCollection":
		list, ok := doc["features"].([]any)
		if !ok {
			return nil, fileErr(file, StageValidate, nil, "features is not a list")
		}
		for i, item := range list {
			entry, ok := item.(map[string]any)
			if !ok || !featureShaped(entry) {
				log.Warn().Str("file", file).Int("index", i).Msg("Dropping entry: not feature-shaped or missing coordinates")
				continue
			}
			entries = append(entries, entry)
		}

	case typ == "Feature":
		if !featureShaped(doc) {
			return nil, fileErr(file, StageValidate, nil, "feature has no geometry coordinates")
		}
		entries = append(entries, doc)

	case geometryTypes[typ]:
		if doc["coordinates"] == nil {
			return nil, fileErr(file, StageValidate, nil, "%s geometry has no coordinates", typ)
		}
		entries = append(entries, wrapGeometry(doc))

	case typ == "GeometryCollection":
		list, ok := doc["geometries"].([]any)
		if !ok {
			return nil, fileErr(file, StageValidate, nil, "geometries is not a list")
		}
		for i, item := range list {
			geometry, ok := item.(map[string]any)
			if !ok || geometry["coordinates"] == nil {
				log.Warn().Str("file", file).Int("index", i).Msg("Dropping geometry without coordinates")
				continue
			}
			entries = append(entries, wrapGeometry(geometry))
		}

	default:
		return nil, fileErr(file, StageValidate, nil, "unsupported type %q", typ)
	}

	fc := geojson.NewFeatureCollection()
	for i, entry := range entries {
		data, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		feature, err := geojson.UnmarshalFeature(data)
		if err != nil {
			log.Warn().Str("file", file).Int("index", i).Err(err).Msg("Dropping malformed feature")
			continue
		}
		if feature.Properties == nil {
			feature.Properties = geojson.Properties{}
		}
		fc.Append(feature)
	}
	if len(fc.Features) == 0 {
		return nil, fileErr(file, StageValidate, nil, "no valid features survived normalization")
	}

	reproject(file, fc, crsName(doc), resolver)
	validateRange(file, fc)

	return fc, nil
}

// reproject applies the CRS pipeline: an explicit CRS block wins; with no
// block at all, projected-looking coordinates are recovered from explicit
// longitude/latitude side-properties where present, and transformation
// without a known source system is not attempted.
func reproject(file string, fc *geojson.FeatureCollection, name string, resolver *crs.Resolver) {
	if name != "" {
		resolution := resolver.FromCRSName(name)
		if resolution == nil || resolution.SRS.Code == crs.WGS84.Code {
			return
		}
		for _, feature := range fc.Features {
			if _, ok := feature.Geometry.(orb.Point); ok {
				// Explicit lon/lat attributes are authoritative WGS 84.
				if ll, found := lonLatFromProps(feature.Properties); found {
					feature.Geometry = ll
					continue
				}
			}
			transformed, err := crs.TransformGeometry(feature.Geometry, resolution.SRS, crs.WGS84)
			if err != nil {
				log.Warn().Str("file", file).Err(err).Msg("Feature left untransformed")
				continue
			}
			feature.Geometry = transformed
		}
		return
	}

	first := firstCoordinate(fc.Features[0].Geometry)
	if math.Abs(first[0]) <= 180 && math.Abs(first[1]) <= 90 {
		return
	}
	for _, feature := range fc.Features {
		if ll, found := lonLatFromProps(feature.Properties); found {
			feature.Geometry = ll
			continue
		}
		log.Warn().Str("file", file).
			Msg("Projected-looking coordinates without CRS metadata or lon/lat attributes, left untransformed")
	}
}

// validateRange walks every geometry, nested collections included, and logs
// a warning per coordinate outside geographic bounds. Diagnostics only,
// never removal.
func validateRange(file string, fc *geojson.FeatureCollection) {
	for _, feature := range fc.Features {
		walkPoints(feature.Geometry, func(p orb.Point) {
			if math.Abs(p[0]) > 180 || math.Abs(p[1]) > 90 {
				log.Warn().Str("file", file).
					Float64("lon", p[0]).Float64("lat", p[1]).
					Msg("Coordinate outside geographic bounds")
			}
		})
	}
}

func featureShaped(entry map[string]any) bool {
	geometry, ok := entry["geometry"].(map[string]any)
	if !ok {
		return false
	}
	if geometry["coordinates"] != nil {
		return true
	}
	gtype, _ := geometry["type"].(string)
	if gtype == "GeometryCollection" {
		list, ok := geometry["geometries"].([]any)
		return ok && len(list) > 0
	}
	return false
}

func wrapGeometry(geometry map[string]any) map[string]any {
	return map[string]any{
		"type":       "Feature",
		"geometry":   geometry,
		"properties": map[string]any{},
	}
}

func crsName(doc map[string]any) string {
	block, ok := doc["crs"].(map[string]any)
	if !ok {
		return ""
	}
	props, ok := block["properties"].(map[string]any)
	if !ok {
		return ""
	}
	name, _ := props["name"].(string)
	return name
}

// lonLatFromProps extracts explicit longitude/latitude attributes carried
// alongside projected geometry.
func lonLatFromProps(props geojson.Properties) (orb.Point, bool) {
	lon, okLon := propNumber(props, lonAliases)
	lat, okLat := propNumber(props, latAliases)
	if !okLon || !okLat {
		return orb.Point{}, false
	}
	return orb.Point{lon, lat}, true
}

func propNumber(props geojson.Properties, aliases []string) (float64, bool) {
	for _, alias := range aliases {
		for key, value := range props {
			if !strings.EqualFold(key, alias) {
				continue
			}
			switch v := value.(type) {
			case float64:
				return v, true
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					return f, true
				}
			}
		}
	}
	return 0, false
}

func firstCoordinate(g orb.Geometry) orb.Point {
	var first orb.Point
	found := false
	walkPoints(g, func(p orb.Point) {
		if !found {
			first = p
			found = true
		}
	})
	return first
}

// walkPoints visits every coordinate of a geometry with the nesting depth
// dictated by its type.
func walkPoints(g orb.Geometry, visit func(orb.Point)) {
	switch geom := g.(type) {
	case orb.Point:
		visit(geom)
	case orb.MultiPoint:
		for _, p := range geom {
			visit(p)
		}
	case orb.LineString:
		for _, p := range geom {
			visit(p)
		}
	case orb.MultiLineString:
		for _, line := range geom {
			for _, p := range line {
				visit(p)
			}
		}
	case orb.Ring:
		for _, p := range geom {
			visit(p)
		}
	case orb.Polygon:
		for _, ring := range geom {
			for _, p := range ring {
				visit(p)
			}
		}
	case orb.MultiPolygon:
		for _, poly := range geom {
			for _, ring := range poly {
				for _, p := range ring {
					visit(p)
				}
			}
		}
	case orb.Collection:
		for _, member := range geom {
			walkPoints(member, visit)
		}
	}
}
