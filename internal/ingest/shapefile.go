package ingest

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"

	"github.com/sigweb/surveymap/internal/crs"
	"github.com/sigweb/surveymap/internal/encdetect"
)

// ComponentGroup is one shapefile dataset: the co-named geometry, index,
// attribute, projection and codepage components of a single upload batch.
type ComponentGroup struct {
	BaseName string
	SHP      []byte
	SHX      []byte
	DBF      []byte
	PRJ      string
	CPG      string
}

// Normalize parses the group's binary components and produces the canonical
// feature collection. Attribute records pair with geometry records
// positionally. The attribute and index components are optional; the
// geometry component is not.
func (g *ComponentGroup) Normalize(resolver *crs.Resolver) (*geojson.FeatureCollection, error) {
	if len(g.SHP) == 0 {
		return nil, fileErr(g.BaseName, StageValidate, nil,
			"missing geometry component, provide the full %s.shp/.shx/.dbf set", g.BaseName)
	}

	decoder := codepageDecoder(g.BaseName, g.CPG)

	var resolution *crs.Resolution
	if g.PRJ != "" {
		resolution = resolver.FromProjectionText(g.PRJ)
	}

	fc, err := g.read(decoder, true)
	if err != nil && len(g.DBF) > 0 {
		// Combined parse failed; a corrupt attribute table must not take
		// the geometry down with it. Parse the components separately and
		// merge whatever attribute rows still decode.
		log.Warn().Err(err).Str("group", g.BaseName).Msg("Combined parse failed, reading components separately")
		fc, err = g.read(decoder, false)
		if err == nil {
			g.mergeAttributes(fc, decoder)
		}
	}
	if err != nil {
		return nil, fileErr(g.BaseName, StageParse, err,
			"unreadable shapefile %s: %v, provide the full component set", g.BaseName, err)
	}
	if len(fc.Features) == 0 {
		return nil, fileErr(g.BaseName, StageValidate, nil,
			"shapefile %s contains no features", g.BaseName)
	}

	if resolution == nil {
		first := firstCoordinate(fc.Features[0].Geometry)
		resolution = resolver.FromMagnitude(first[0], first[1])
	}
	if resolution != nil && resolution.SRS.Code != crs.WGS84.Code {
		for _, feature := range fc.Features {
			transformed, err := crs.TransformGeometry(feature.Geometry, resolution.SRS, crs.WGS84)
			if err != nil {
				log.Warn().Str("group", g.BaseName).Err(err).Msg("Feature left untransformed")
				continue
			}
			feature.Geometry = transformed
		}
	}

	validateRange(g.BaseName, fc)
	return fc, nil
}

func (g *ComponentGroup) read(decoder *encoding.Decoder, withAttributes bool) (fc *geojson.FeatureCollection, err error) {
	// The sequential reader cannot run without an attribute stream, so a
	// group with no table (or a table being bypassed) reads against a
	// synthesized fieldless one.
	dbf := emptyAttributes()
	if withAttributes && len(g.DBF) > 0 {
		dbf = io.NopCloser(bytes.NewReader(g.DBF))
	}
	reader := shp.SequentialReaderFromExt(io.NopCloser(bytes.NewReader(g.SHP)), dbf)
	defer func() {
		if closeErr := reader.Close(); err == nil && closeErr != nil {
			err = closeErr
		}
	}()

	fields := reader.Fields()

	fc = geojson.NewFeatureCollection()
	for reader.Next() {
		_, shape := reader.Shape()
		geometry, ok := shapeGeometry(shape)
		if !ok {
			log.Warn().Str("group", g.BaseName).Msg("Skipping record with null or unsupported shape")
			continue
		}

		feature := geojson.NewFeature(geometry)
		for i, field := range fields {
			name := reencode(field.String(), decoder)
			feature.Properties[name] = attributeValue(field, reader.Attribute(i), decoder)
		}
		fc.Append(feature)
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		return nil, err
	}
	return fc, nil
}

// mergeAttributes re-reads the components pairing attribute rows with the
// already-parsed geometry by record position, keeping every row that decodes
// before the table breaks down. Features past the breakage keep geometry only.
func (g *ComponentGroup) mergeAttributes(fc *geojson.FeatureCollection, decoder *encoding.Decoder) {
	reader := shp.SequentialReaderFromExt(
		io.NopCloser(bytes.NewReader(g.SHP)),
		io.NopCloser(bytes.NewReader(g.DBF)),
	)
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	merged := 0
	for reader.Next() && merged < len(fc.Features) {
		// Pair rows the way the geometry pass did: records whose shape was
		// skipped get no feature, so their rows are skipped too.
		_, shape := reader.Shape()
		if _, ok := shapeGeometry(shape); !ok {
			continue
		}
		for i, field := range fields {
			name := reencode(field.String(), decoder)
			fc.Features[merged].Properties[name] = attributeValue(field, reader.Attribute(i), decoder)
		}
		merged++
	}
	if err := reader.Err(); err != nil && err != io.EOF {
		log.Warn().Err(err).Str("group", g.BaseName).Int("merged", merged).
			Msg("Attribute table unreadable past this row, remaining features keep geometry only")
	}
}

// emptyAttributes synthesizes a valid attribute stream with no fields: a
// 33-byte header (no field descriptors, one byte per record) followed by an
// unbounded run of not-deleted record indicators. It lets the sequential
// reader pair every geometry record with a blank row.
func emptyAttributes() io.ReadCloser {
	header := make([]byte, 33)
	header[0] = 0x03
	binary.LittleEndian.PutUint16(header[8:], 33)
	binary.LittleEndian.PutUint16(header[10:], 1)
	header[32] = 0x0d
	return io.NopCloser(io.MultiReader(bytes.NewReader(header), blankRows{}))
}

// blankRows is an endless stream of DBF not-deleted record indicators.
type blankRows struct{}

func (blankRows) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0x20
	}
	return len(p), nil
}

// shapeGeometry converts a binary shape record into the canonical geometry
// model. Multi-part polylines become MultiLineStrings; polygon parts are
// treated as rings of one polygon.
func shapeGeometry(shape shp.Shape) (orb.Geometry, bool) {
	switch s := shape.(type) {
	case *shp.Point:
		return orb.Point{s.X, s.Y}, true
	case *shp.PointM:
		return orb.Point{s.X, s.Y}, true
	case *shp.PointZ:
		return orb.Point{s.X, s.Y}, true
	case *shp.MultiPoint:
		return orb.MultiPoint(toPoints(s.Points)), true
	case *shp.PolyLine:
		lines := splitParts(s.Points, s.Parts)
		if len(lines) == 1 {
			return orb.LineString(lines[0]), true
		}
		multi := make(orb.MultiLineString, len(lines))
		for i, line := range lines {
			multi[i] = orb.LineString(line)
		}
		return multi, true
	case *shp.PolyLineZ:
		return shapeGeometry(&shp.PolyLine{Points: s.Points, Parts: s.Parts})
	case *shp.Polygon:
		rings := splitParts(s.Points, s.Parts)
		polygon := make(orb.Polygon, len(rings))
		for i, ring := range rings {
			polygon[i] = orb.Ring(ring)
		}
		return polygon, true
	case *shp.PolygonZ:
		return shapeGeometry(&shp.Polygon{Points: s.Points, Parts: s.Parts})
	default:
		return nil, false
	}
}

func toPoints(points []shp.Point) []orb.Point {
	out := make([]orb.Point, len(points))
	for i, p := range points {
		out[i] = orb.Point{p.X, p.Y}
	}
	return out
}

func splitParts(points []shp.Point, parts []int32) [][]orb.Point {
	if len(parts) == 0 {
		return [][]orb.Point{toPoints(points)}
	}
	out := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) >= end {
			continue
		}
		out = append(out, toPoints(points[start:end]))
	}
	return out
}

// attributeValue re-encodes one attribute cell and coerces numeric DBF field
// types to numbers. Empty numeric cells become nil.
func attributeValue(field shp.Field, raw string, decoder *encoding.Decoder) any {
	value := strings.TrimSpace(reencode(raw, decoder))
	if field.Fieldtype == 'N' || field.Fieldtype == 'F' {
		if value == "" {
			return nil
		}
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

// reencode converts attribute text from the resolved codepage to Unicode.
// A nil decoder means the table is already canonical.
func reencode(raw string, decoder *encoding.Decoder) string {
	raw = strings.Trim(raw, "\x00 ")
	if decoder == nil {
		return raw
	}
	decoded, err := decoder.String(raw)
	if err != nil {
		return encdetect.DecodeWindows1252([]byte(raw))
	}
	return decoded
}

// codepageDecoder maps a codepage component's text to a decoder. Explicit
// codepage numbers and names map to specific legacy encodings; anything
// unrecognized defaults to canonical Unicode.
func codepageDecoder(group, cpg string) *encoding.Decoder {
	value := strings.ToUpper(strings.TrimSpace(cpg))
	switch {
	case value == "" || strings.Contains(value, "UTF"):
		return nil
	case strings.Contains(value, "1252"):
		return encdetect.DecoderFor("windows-1252")
	case strings.Contains(value, "1256"):
		return encdetect.DecoderFor("windows-1256")
	case strings.Contains(value, "8859-15") || strings.Contains(value, "885915"):
		return encdetect.DecoderFor("iso-8859-15")
	case strings.Contains(value, "8859-1") || strings.Contains(value, "88591"):
		return encdetect.DecoderFor("iso-8859-1")
	case strings.Contains(value, "850"):
		return encdetect.DecoderFor("ibm-850")
	default:
		log.Warn().Str("group", group).Str("codepage", cpg).Msg("Unrecognized codepage, assuming UTF-8")
		return nil
	}
}
