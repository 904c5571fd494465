package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
)

// writePointFixture builds a point shapefile on disk and returns the raw
// component bytes. Coordinates are Carthage / UTM 32N survey positions.
func writePointFixture(t *testing.T, names []string) (shpData, shxData, dbfData []byte) {
	t.Helper()

	base := filepath.Join(t.TempDir(), "sites")
	writer, err := shp.Create(base+".shp", shp.POINT)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}

	if len(names) > 0 {
		if err := writer.SetFields([]shp.Field{shp.StringField("NOM", 32)}); err != nil {
			t.Fatalf("set fields: %v", err)
		}
	}
	coords := [][2]float64{{463379, 4063948}, {448210, 4042533}}
	for i, c := range coords {
		writer.Write(&shp.Point{X: c[0], Y: c[1]})
		if len(names) > i {
			if err := writer.WriteAttribute(i, 0, names[i]); err != nil {
				t.Fatalf("write attribute: %v", err)
			}
		}
	}
	writer.Close()

	shpData, err = os.ReadFile(base + ".shp")
	if err != nil {
		t.Fatalf("read shp: %v", err)
	}
	shxData, _ = os.ReadFile(base + ".shx")
	if len(names) > 0 {
		// go-shp writes the attribute table without the extension dot.
		dbfData, err = os.ReadFile(base + "dbf")
		if err != nil {
			t.Fatalf("read dbf: %v", err)
		}
	}
	return shpData, shxData, dbfData
}

// A lone geometry component with no projection metadata must still come
// through: empty properties, source system guessed from magnitude.
func TestShapefileGeometryOnly(t *testing.T) {
	shpData, shxData, _ := writePointFixture(t, nil)

	group := &ComponentGroup{BaseName: "sites", SHP: shpData, SHX: shxData}
	fc, err := group.Normalize(testIngestResolver(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}
	for _, feature := range fc.Features {
		if len(feature.Properties) != 0 {
			t.Errorf("expected empty properties, got %v", feature.Properties)
		}
		point, ok := feature.Geometry.(orb.Point)
		if !ok {
			t.Fatalf("expected a point, got %T", feature.Geometry)
		}
		if point[0] < 7 || point[0] > 11 || point[1] < 35 || point[1] > 38 {
			t.Errorf("point %v outside Tunisia after heuristic reprojection", point)
		}
	}
}

func TestShapefileWithAttributes(t *testing.T) {
	shpData, shxData, dbfData := writePointFixture(t, []string{"B\xe9ja", "Testour"})

	group := &ComponentGroup{
		BaseName: "sites",
		SHP:      shpData,
		SHX:      shxData,
		DBF:      dbfData,
		CPG:      "1252",
	}
	fc, err := group.Normalize(testIngestResolver(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(fc.Features))
	}
	if got := fc.Features[0].Properties["NOM"]; got != "Béja" {
		t.Errorf("expected codepage-recovered attribute, got %q", got)
	}
	if got := fc.Features[1].Properties["NOM"]; got != "Testour" {
		t.Errorf("expected Testour, got %q", got)
	}
}

// A table that breaks down mid-record must not cost the geometry: the
// components are parsed separately and the rows before the breakage merge
// back onto their features.
func TestShapefileTruncatedAttributeTable(t *testing.T) {
	shpData, shxData, dbfData := writePointFixture(t, []string{"B\xe9ja", "Testour"})

	// One 32-byte field descriptor: 65 header bytes, 33 bytes per record.
	// Keep the header and the first record only.
	group := &ComponentGroup{
		BaseName: "sites",
		SHP:      shpData,
		SHX:      shxData,
		DBF:      dbfData[:98],
		CPG:      "1252",
	}
	fc, err := group.Normalize(testIngestResolver(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected both geometries to survive, got %d", len(fc.Features))
	}
	if got := fc.Features[0].Properties["NOM"]; got != "Béja" {
		t.Errorf("expected the intact attribute row merged, got %q", got)
	}
	if _, ok := fc.Features[1].Properties["NOM"]; ok {
		t.Errorf("feature past the breakage must keep geometry only, got %v", fc.Features[1].Properties)
	}
}

func TestShapefileProjectionComponent(t *testing.T) {
	shpData, shxData, _ := writePointFixture(t, nil)

	group := &ComponentGroup{
		BaseName: "sites",
		SHP:      shpData,
		SHX:      shxData,
		PRJ:      `PROJCS["Carthage / UTM zone 32N",GEOGCS["Carthage"],PROJECTION["Transverse_Mercator"],AUTHORITY["EPSG","22332"]]`,
	}
	fc, err := group.Normalize(testIngestResolver(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	point := fc.Features[0].Geometry.(orb.Point)
	if point[0] < 7 || point[0] > 11 || point[1] < 35 || point[1] > 38 {
		t.Errorf("point %v outside Tunisia", point)
	}
}

func TestShapefileMissingGeometryComponent(t *testing.T) {
	group := &ComponentGroup{BaseName: "sites", DBF: []byte{0x03}}

	_, err := group.Normalize(testIngestResolver(t))
	if err == nil {
		t.Fatal("expected an error without the geometry component")
	}
	var fileErr *FileError
	if !errors.As(err, &fileErr) || fileErr.Stage != StageValidate {
		t.Fatalf("expected a validate-stage error, got %v", err)
	}
}

func TestShapefileUnreadableGeometry(t *testing.T) {
	group := &ComponentGroup{BaseName: "sites", SHP: []byte("not a shapefile at all")}

	_, err := group.Normalize(testIngestResolver(t))
	if err == nil {
		t.Fatal("expected a parse error for garbage bytes")
	}
}

func TestCodepageDecoder(t *testing.T) {
	cases := []struct {
		cpg     string
		wantNil bool
	}{
		{"", true},
		{"UTF-8", true},
		{"1252", false},
		{"windows-1256", false},
		{"ISO 8859-1", false},
		{"850", false},
		{"KOI8-R", true},
	}
	for _, tc := range cases {
		got := codepageDecoder("sites", tc.cpg)
		if (got == nil) != tc.wantNil {
			t.Errorf("codepage %q: decoder nil=%v, expected nil=%v", tc.cpg, got == nil, tc.wantNil)
		}
	}
}
