package ingest

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
)

const kmlNamespace = "http://www.opengis.net/kml/2.2"

var kmlOpenTagRe = regexp.MustCompile(`<kml\b[^>]*>`)

type kmlContainer struct {
	Placemarks []kmlPlacemark `xml:"Placemark"`
	Documents  []kmlContainer `xml:"Document"`
	Folders    []kmlContainer `xml:"Folder"`
	Styles     []kmlStyle     `xml:"Style"`
	StyleMaps  []kmlStyleMap  `xml:"StyleMap"`
}

type kmlPlacemark struct {
	Name          string           `xml:"name"`
	Description   string           `xml:"description"`
	StyleURL      string           `xml:"styleUrl"`
	Style         *kmlStyle        `xml:"Style"`
	ExtendedData  *kmlExtendedData `xml:"ExtendedData"`
	Point         *kmlGeom         `xml:"Point"`
	LineString    *kmlGeom         `xml:"LineString"`
	Polygon       *kmlPolygon      `xml:"Polygon"`
	MultiGeometry *kmlMulti        `xml:"MultiGeometry"`
}

type kmlGeom struct {
	Coordinates string `xml:"coordinates"`
}

type kmlPolygon struct {
	Outer kmlBoundary   `xml:"outerBoundaryIs"`
	Inner []kmlBoundary `xml:"innerBoundaryIs"`
}

type kmlBoundary struct {
	LinearRing kmlGeom `xml:"LinearRing"`
}

type kmlMulti struct {
	Points      []kmlGeom    `xml:"Point"`
	LineStrings []kmlGeom    `xml:"LineString"`
	Polygons    []kmlPolygon `xml:"Polygon"`
}

type kmlStyle struct {
	ID        string        `xml:"id,attr"`
	PolyStyle *kmlPolyStyle `xml:"PolyStyle"`
}

type kmlPolyStyle struct {
	Color   string `xml:"color"`
	Opacity string `xml:"opacity"`
}

type kmlStyleMap struct {
	ID    string `xml:"id,attr"`
	Pairs []struct {
		Key      string `xml:"key"`
		StyleURL string `xml:"styleUrl"`
	} `xml:"Pair"`
}

type kmlExtendedData struct {
	Data []struct {
		Name  string `xml:"name,attr"`
		Value string `xml:"value"`
	} `xml:"Data"`
	SchemaData []struct {
		SimpleData []struct {
			Name  string `xml:"name,attr"`
			Value string `xml:",chardata"`
		} `xml:"SimpleData"`
	} `xml:"SchemaData"`
}

// NormalizeKML converts a placemark document into the canonical feature
// collection, repairing the missing-namespace defects common in exported
// files before parsing. Style and extended-data side-channels enrich the
// feature properties.
func NormalizeKML(file, text string) (*geojson.FeatureCollection, error) {
	text = repairNamespaces(text)

	var root kmlContainer
	if err := xml.Unmarshal([]byte(text), &root); err != nil {
		return nil, fileErr(file, StageParse, err, "invalid markup: %s", firstLine(err.Error()))
	}

	styles := map[string]kmlStyle{}
	styleMaps := map[string]kmlStyleMap{}
	collectStyles(&root, styles, styleMaps)

	fc := geojson.NewFeatureCollection()
	collectPlacemarks(&root, func(pm kmlPlacemark) {
		geometry, ok := placemarkGeometry(pm)
		if !ok {
			log.Warn().Str("file", file).Str("placemark", pm.Name).Msg("Skipping placemark without geometry")
			return
		}
		feature := geojson.NewFeature(geometry)
		enrichProperties(feature.Properties, pm, styles, styleMaps)
		fc.Append(feature)
	})

	if len(fc.Features) == 0 {
		return nil, fileErr(file, StageValidate, nil, "no features found in document")
	}

	validateRange(file, fc)
	return fc, nil
}

// repairNamespaces injects a default namespace declaration when absent and
// the schema-instance namespace when a schema-location attribute is used
// without it.
func repairNamespaces(text string) string {
	open := kmlOpenTagRe.FindString(text)
	if open == "" {
		return text
	}

	repaired := open
	if !strings.Contains(repaired, "xmlns") {
		repaired = strings.Replace(repaired, "<kml", `<kml xmlns="`+kmlNamespace+`"`, 1)
	}
	if strings.Contains(repaired, "schemaLocation") && !strings.Contains(repaired, "xmlns:xsi") {
		repaired = strings.Replace(repaired, "<kml", `<kml xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance"`, 1)
	}
	return strings.Replace(text, open, repaired, 1)
}

func collectPlacemarks(c *kmlContainer, visit func(kmlPlacemark)) {
	for _, pm := range c.Placemarks {
		visit(pm)
	}
	for i := range c.Documents {
		collectPlacemarks(&c.Documents[i], visit)
	}
	for i := range c.Folders {
		collectPlacemarks(&c.Folders[i], visit)
	}
}

func collectStyles(c *kmlContainer, styles map[string]kmlStyle, styleMaps map[string]kmlStyleMap) {
	for _, style := range c.Styles {
		if style.ID != "" {
			styles[style.ID] = style
		}
	}
	for _, sm := range c.StyleMaps {
		if sm.ID != "" {
			styleMaps[sm.ID] = sm
		}
	}
	for i := range c.Documents {
		collectStyles(&c.Documents[i], styles, styleMaps)
	}
	for i := range c.Folders {
		collectStyles(&c.Folders[i], styles, styleMaps)
	}
}

func placemarkGeometry(pm kmlPlacemark) (orb.Geometry, bool) {
	switch {
	case pm.Point != nil:
		points := parseCoordinates(pm.Point.Coordinates)
		if len(points) == 0 {
			return nil, false
		}
		return points[0], true

	case pm.LineString != nil:
		points := parseCoordinates(pm.LineString.Coordinates)
		if len(points) < 2 {
			return nil, false
		}
		return orb.LineString(points), true

	case pm.Polygon != nil:
		return polygonGeometry(*pm.Polygon)

	case pm.MultiGeometry != nil:
		var collection orb.Collection
		for _, point := range pm.MultiGeometry.Points {
			if points := parseCoordinates(point.Coordinates); len(points) > 0 {
				collection = append(collection, points[0])
			}
		}
		for _, line := range pm.MultiGeometry.LineStrings {
			if points := parseCoordinates(line.Coordinates); len(points) >= 2 {
				collection = append(collection, orb.LineString(points))
			}
		}
		for _, polygon := range pm.MultiGeometry.Polygons {
			if g, ok := polygonGeometry(polygon); ok {
				collection = append(collection, g)
			}
		}
		if len(collection) == 0 {
			return nil, false
		}
		return collection, true
	}
	return nil, false
}

func polygonGeometry(p kmlPolygon) (orb.Geometry, bool) {
	outer := parseCoordinates(p.Outer.LinearRing.Coordinates)
	if len(outer) < 4 {
		return nil, false
	}
	polygon := orb.Polygon{orb.Ring(outer)}
	for _, inner := range p.Inner {
		if ring := parseCoordinates(inner.LinearRing.Coordinates); len(ring) >= 4 {
			polygon = append(polygon, orb.Ring(ring))
		}
	}
	return polygon, true
}

// parseCoordinates reads the "lon,lat[,alt]" tuples of a coordinates
// element; altitude is ignored.
func parseCoordinates(text string) []orb.Point {
	var points []orb.Point
	for _, tuple := range strings.Fields(text) {
		parts := strings.Split(tuple, ",")
		if len(parts) < 2 {
			continue
		}
		lon, errLon := strconv.ParseFloat(parts[0], 64)
		lat, errLat := strconv.ParseFloat(parts[1], 64)
		if errLon != nil || errLat != nil {
			continue
		}
		points = append(points, orb.Point{lon, lat})
	}
	return points
}

func enrichProperties(props geojson.Properties, pm kmlPlacemark, styles map[string]kmlStyle, styleMaps map[string]kmlStyleMap) {
	if pm.Name != "" {
		props["name"] = pm.Name
	}
	if pm.Description != "" {
		props["description"] = strings.TrimSpace(pm.Description)
	}

	if pm.ExtendedData != nil {
		for _, data := range pm.ExtendedData.Data {
			props[data.Name] = typedValue(data.Value)
		}
		for _, schema := range pm.ExtendedData.SchemaData {
			for _, simple := range schema.SimpleData {
				props[simple.Name] = typedValue(simple.Value)
			}
		}
	}

	style := resolveStyle(pm, styles, styleMaps)
	if style == nil || style.PolyStyle == nil {
		return
	}
	if fill, opacity, ok := parseKMLColor(style.PolyStyle.Color); ok {
		props["fill"] = fill
		props["fill-opacity"] = opacity
	}
	if style.PolyStyle.Opacity != "" {
		if opacity, err := strconv.ParseFloat(style.PolyStyle.Opacity, 64); err == nil && opacity >= 0 && opacity <= 1 {
			props["fill-opacity"] = opacity
		}
	}
}

// resolveStyle prefers an inline style, then follows a style reference,
// through a style map's normal pair when needed.
func resolveStyle(pm kmlPlacemark, styles map[string]kmlStyle, styleMaps map[string]kmlStyleMap) *kmlStyle {
	if pm.Style != nil {
		return pm.Style
	}
	id := strings.TrimPrefix(strings.TrimSpace(pm.StyleURL), "#")
	if id == "" {
		return nil
	}
	if style, ok := styles[id]; ok {
		return &style
	}
	if sm, ok := styleMaps[id]; ok {
		for _, pair := range sm.Pairs {
			if pair.Key != "normal" && pair.Key != "" {
				continue
			}
			ref := strings.TrimPrefix(strings.TrimSpace(pair.StyleURL), "#")
			if style, ok := styles[ref]; ok {
				return &style
			}
		}
	}
	return nil
}

// parseKMLColor converts the markup's aabbggrr hex form into a standard RGB
// hex color and a 0-1 opacity. A 6-digit bbggrr form is accepted with full
// opacity.
func parseKMLColor(value string) (string, float64, bool) {
	value = strings.TrimSpace(strings.TrimPrefix(value, "#"))
	opacity := 1.0

	if len(value) == 8 {
		alpha, err := strconv.ParseUint(value[:2], 16, 8)
		if err != nil {
			return "", 0, false
		}
		opacity = float64(alpha) / 255
		value = value[2:]
	}
	if len(value) != 6 {
		return "", 0, false
	}

	if _, err := strconv.ParseUint(value, 16, 32); err != nil {
		return "", 0, false
	}
	bb, gg, rr := value[0:2], value[2:4], value[4:6]
	return fmt.Sprintf("#%s%s%s", rr, gg, bb), opacity, true
}

func typedValue(value string) any {
	trimmed := strings.TrimSpace(value)
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil && trimmed != "" {
		return f
	}
	return trimmed
}

func firstLine(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(line)
}
