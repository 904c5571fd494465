package crs

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog/log"
	"github.com/wroge/wgs84"
)

// TransformFunc reprojects a single X/Y pair.
type TransformFunc func(x, y float64) (float64, float64)

// Transformer builds a reprojection from src to dst. When the two systems
// are identical the projection math is skipped entirely. A non-finite result
// for a coordinate leaves that coordinate unchanged with a logged warning;
// one bad vertex must not discard an otherwise valid geometry.
func Transformer(src, dst SRS) (TransformFunc, error) {
	if src.Code == dst.Code {
		return func(x, y float64) (float64, float64) { return x, y }, nil
	}
	if src.sys == nil || dst.sys == nil {
		return nil, fmt.Errorf("transform %s to %s: system not resolvable", src.Code, dst.Code)
	}

	project := wgs84.Transform(src.sys, dst.sys)
	return func(x, y float64) (float64, float64) {
		a, b, _ := project(x, y, 0)
		if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
			log.Warn().Float64("x", x).Float64("y", y).
				Str("from", src.Code).Str("to", dst.Code).
				Msg("Non-finite projection result, coordinate left unchanged")
			return x, y
		}
		return a, b
	}, nil
}

// TransformCoords reprojects the first two elements of a coordinate array.
// Dimensions beyond X/Y (elevation and the like) pass through unmodified.
func TransformCoords(coords []float64, src, dst SRS) ([]float64, error) {
	if len(coords) < 2 {
		return coords, fmt.Errorf("coordinate needs at least two dimensions, got %d", len(coords))
	}
	project, err := Transformer(src, dst)
	if err != nil {
		return coords, err
	}

	out := make([]float64, len(coords))
	copy(out, coords)
	out[0], out[1] = project(coords[0], coords[1])
	return out, nil
}

// TransformGeometry reprojects a geometry of any type, preserving its
// structure. Nested collections are transformed recursively.
func TransformGeometry(g orb.Geometry, src, dst SRS) (orb.Geometry, error) {
	project, err := Transformer(src, dst)
	if err != nil {
		return g, err
	}
	return applyGeometry(g, project), nil
}

func applyGeometry(g orb.Geometry, project TransformFunc) orb.Geometry {
	switch geom := g.(type) {
	case orb.Point:
		return applyPoint(geom, project)
	case orb.MultiPoint:
		out := make(orb.MultiPoint, len(geom))
		for i, p := range geom {
			out[i] = applyPoint(p, project)
		}
		return out
	case orb.LineString:
		return orb.LineString(applyPoints(geom, project))
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(geom))
		for i, line := range geom {
			out[i] = orb.LineString(applyPoints(line, project))
		}
		return out
	case orb.Ring:
		return orb.Ring(applyPoints(geom, project))
	case orb.Polygon:
		return applyPolygon(geom, project)
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(geom))
		for i, poly := range geom {
			out[i] = applyPolygon(poly, project)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(geom))
		for i, member := range geom {
			out[i] = applyGeometry(member, project)
		}
		return out
	default:
		return g
	}
}

func applyPolygon(poly orb.Polygon, project TransformFunc) orb.Polygon {
	out := make(orb.Polygon, len(poly))
	for i, ring := range poly {
		out[i] = orb.Ring(applyPoints(ring, project))
	}
	return out
}

func applyPoints(points []orb.Point, project TransformFunc) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		out[i] = applyPoint(p, project)
	}
	return out
}

func applyPoint(p orb.Point, project TransformFunc) orb.Point {
	x, y := project(p[0], p[1])
	return orb.Point{x, y}
}
