package ingest

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/sigweb/surveymap/internal/crs"
	"github.com/sigweb/surveymap/internal/tabular"
)

// nameAliases are the column names accepted as a feature display name, in
// priority order. Survey exports label the site column inconsistently.
var nameAliases = []string{"name", "nom", "sites", "site", "localite", "lieu", "commune", "label"}

// unnamedPlaceholder fills the name property when no alias column exists.
const unnamedPlaceholder = "Unnamed"

// NormalizePoints converts tabular rows with explicit X/Y columns into a
// collection of point features in canonical WGS 84. Rows without finite
// numeric X and Y values are dropped silently: that is data-quality
// filtering, not an error. Rows whose reprojection fails outright are
// dropped with a logged error.
func NormalizePoints(file string, rows []tabular.Row, source crs.SRS) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()

	for _, row := range rows {
		rawX, okX := row.Get("x")
		rawY, okY := row.Get("y")
		if !okX || !okY {
			continue
		}
		x, okX := parseNumber(rawX)
		y, okY := parseNumber(rawY)
		if !okX || !okY {
			continue
		}

		coords, err := crs.TransformCoords([]float64{x, y}, source, crs.WGS84)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Dropping row: reprojection failed")
			continue
		}

		feature := geojson.NewFeature(orb.Point{coords[0], coords[1]})
		for _, col := range row.Columns {
			if col == "" {
				continue
			}
			feature.Properties[col] = row.Values[col]
		}
		setName(feature.Properties, row)

		// Original projected values kept as numbers for traceability.
		for _, col := range row.Columns {
			if strings.EqualFold(col, "x") {
				feature.Properties[col] = x
			} else if strings.EqualFold(col, "y") {
				feature.Properties[col] = y
			}
		}

		fc.Append(feature)
	}

	if len(fc.Features) == 0 {
		return nil, fileErr(file, StageValidate, nil, "no rows with numeric X/Y columns")
	}
	return fc, nil
}

func setName(props geojson.Properties, row tabular.Row) {
	if _, has := props["name"]; has {
		return
	}
	for _, alias := range nameAliases {
		if value, ok := row.Get(alias); ok {
			props["name"] = value
			return
		}
	}
	props["name"] = unnamedPlaceholder
}

// parseNumber reads a cell as a finite float, tolerating a comma decimal
// separator common in the source exports.
func parseNumber(value string) (float64, bool) {
	value = strings.TrimSpace(strings.ReplaceAll(value, ",", "."))
	if value == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
