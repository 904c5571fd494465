package crs

import (
	"strings"
	"testing"
)

const (
	carthageDef = "+proj=utm +zone=32 +a=6378249.2 +rf=293.4660212936269 +towgs84=-263.0,6.0,431.0 +units=m +no_defs"
	utm32Def    = "+proj=utm +zone=32 +datum=WGS84 +units=m +no_defs"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	registry := NewRegistry()
	for code, def := range map[string]string{
		"EPSG:22332": carthageDef,
		"EPSG:32632": utm32Def,
	} {
		if _, err := registry.Register(code, def); err != nil {
			t.Fatalf("register %s: %v", code, err)
		}
	}
	return &Resolver{
		Registry: registry,
		Policy: HeuristicPolicy{
			Code: "EPSG:22332",
			Bands: []Band{
				{Code: "EPSG:22332", MinEasting: 300000, MaxEasting: 700000, MinNorthing: 3300000, MaxNorthing: 4500000},
				{Code: "EPSG:32632", MinEasting: 100000, MaxEasting: 900000, MinNorthing: 0, MaxNorthing: 10000000},
			},
		},
	}
}

func TestFromCRSName(t *testing.T) {
	r := testResolver(t)

	cases := []struct {
		name string
		want string
	}{
		{"EPSG:32632", "EPSG:32632"},
		{"urn:ogc:def:crs:EPSG::32632", "EPSG:32632"},
		{"urn:ogc:def:crs:OGC:1.3:CRS84", "EPSG:4326"},
		{"EPSG:4326", "EPSG:4326"},
	}
	for _, tc := range cases {
		res := r.FromCRSName(tc.name)
		if res == nil {
			t.Errorf("%s: expected a resolution", tc.name)
			continue
		}
		if res.SRS.Code != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, res.SRS.Code)
		}
		if res.Heuristic {
			t.Errorf("%s: explicit identifiers must not be flagged heuristic", tc.name)
		}
	}
}

func TestFromCRSNameUnknown(t *testing.T) {
	r := testResolver(t)
	if res := r.FromCRSName("urn:ogc:def:crs:ESRI::102100"); res != nil {
		t.Errorf("expected nil for unknown authority, got %s", res.SRS.Code)
	}
}

func TestFromCRSNameDerivedUTM(t *testing.T) {
	r := testResolver(t)
	res := r.FromCRSName("EPSG:32633")
	if res == nil {
		t.Fatal("expected a derived UTM resolution")
	}
	if res.SRS.Code != "EPSG:32633" {
		t.Errorf("expected EPSG:32633, got %s", res.SRS.Code)
	}
	if _, ok := r.Registry.Get("EPSG:32633"); !ok {
		t.Error("derived system must be registered")
	}
}

func TestFromProjectionTextAuthority(t *testing.T) {
	r := testResolver(t)
	wkt := `PROJCS["Carthage / UTM zone 32N",GEOGCS["Carthage",DATUM["Carthage",SPHEROID["Clarke 1880 (IGN)",6378249.2,293.466021293627,AUTHORITY["EPSG","7011"]],AUTHORITY["EPSG","6223"]],AUTHORITY["EPSG","4223"]],PROJECTION["Transverse_Mercator"],AUTHORITY["EPSG","22332"]]`

	res := r.FromProjectionText(wkt)
	if res == nil {
		t.Fatal("expected a resolution")
	}
	if res.SRS.Code != "EPSG:22332" {
		t.Errorf("expected EPSG:22332, got %s", res.SRS.Code)
	}
	if res.Source != "projection-authority" {
		t.Errorf("authority token must win, got source %q", res.Source)
	}
}

func TestFromProjectionTextWellKnownName(t *testing.T) {
	r := testResolver(t)
	wkt := `PROJCS["Carthage_UTM_Zone_32N",GEOGCS["GCS_Carthage",DATUM["D_Carthage",SPHEROID["Clarke_1880_IGN",6378249.2,293.46602]]],PROJECTION["Transverse_Mercator"],UNIT["Meter",1.0]]`

	res := r.FromProjectionText(wkt)
	if res == nil {
		t.Fatal("expected a resolution")
	}
	if res.SRS.Code != "EPSG:22332" {
		t.Errorf("expected EPSG:22332, got %s", res.SRS.Code)
	}
}

func TestFromProjectionTextComputedZone(t *testing.T) {
	r := testResolver(t)
	wkt := `PROJCS["WGS_1984_UTM_Zone_33N",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]]],PROJECTION["Transverse_Mercator"]]`

	res := r.FromProjectionText(wkt)
	if res == nil {
		t.Fatal("expected a computed UTM resolution")
	}
	if res.SRS.Code != "EPSG:32633" {
		t.Errorf("expected EPSG:32633, got %s", res.SRS.Code)
	}
}

func TestFromProjectionTextUnrecognized(t *testing.T) {
	r := testResolver(t)
	if res := r.FromProjectionText(`PROJCS["Lambert_Nord_Tunisie",PROJECTION["Lambert_Conformal_Conic"]]`); res != nil {
		t.Errorf("expected nil for unrecognized definition, got %s", res.SRS.Code)
	}
}

func TestFromMagnitude(t *testing.T) {
	r := testResolver(t)

	res := r.FromMagnitude(463379, 4063948)
	if res == nil {
		t.Fatal("expected a heuristic resolution")
	}
	if res.SRS.Code != "EPSG:22332" {
		t.Errorf("expected the national grid band, got %s", res.SRS.Code)
	}
	if !res.Heuristic {
		t.Error("magnitude guesses must be flagged heuristic")
	}

	if res := r.FromMagnitude(9.56, 36.2); res != nil {
		t.Errorf("geographic magnitudes must not resolve, got %s", res.SRS.Code)
	}
}

func TestBatchRegistryIsolation(t *testing.T) {
	r := testResolver(t)
	batch := &Resolver{Registry: r.Registry.Batch(), Policy: r.Policy}

	if res := batch.FromCRSName("EPSG:32701"); res == nil {
		t.Fatal("expected derived southern UTM resolution")
	}
	if _, ok := batch.Registry.Get("EPSG:32701"); !ok {
		t.Error("batch registry must hold the transient registration")
	}
	if _, ok := r.Registry.Get("EPSG:32701"); ok {
		t.Error("transient registration leaked into the parent registry")
	}
}

func TestRegisterRejectsUnsupported(t *testing.T) {
	registry := NewRegistry()
	if _, err := registry.Register("EPSG:9999", "+proj=lcc +lat_1=36"); err == nil {
		t.Fatal("expected an error for an unsupported projection")
	}
	if _, err := registry.Register("EPSG:9998", "+proj=utm"); err == nil || !strings.Contains(err.Error(), "zone") {
		t.Fatalf("expected a zone error, got %v", err)
	}
}
