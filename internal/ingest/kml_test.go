package ingest

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
)

func TestNormalizeKMLMissingNamespace(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>
<kml>
  <Document>
    <Placemark>
      <name>Adissa</name>
      <Point><coordinates>9.38,36.71,0</coordinates></Point>
    </Placemark>
  </Document>
</kml>`

	fc, err := NormalizeKML("sites.kml", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(fc.Features))
	}
	if fc.Features[0].Properties["name"] != "Adissa" {
		t.Errorf("expected name Adissa, got %v", fc.Features[0].Properties["name"])
	}
	point := fc.Features[0].Geometry.(orb.Point)
	if point[0] != 9.38 || point[1] != 36.71 {
		t.Errorf("altitude must be dropped and lon/lat kept, got %v", point)
	}
}

func TestNormalizeKMLNestedFoldersAndGeometries(t *testing.T) {
	doc := `<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Folder>
      <Placemark>
        <name>track</name>
        <LineString><coordinates>9.1,36.4 9.2,36.5 9.3,36.6</coordinates></LineString>
      </Placemark>
      <Folder>
        <Placemark>
          <name>parcel</name>
          <Polygon>
            <outerBoundaryIs><LinearRing>
              <coordinates>9.0,36.0 9.1,36.0 9.1,36.1 9.0,36.0</coordinates>
            </LinearRing></outerBoundaryIs>
          </Polygon>
        </Placemark>
      </Folder>
    </Folder>
  </Document>
</kml>`

	fc, err := NormalizeKML("mixed.kml", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("expected 2 features across nested folders, got %d", len(fc.Features))
	}
	if _, ok := fc.Features[0].Geometry.(orb.LineString); !ok {
		t.Errorf("expected a line string, got %T", fc.Features[0].Geometry)
	}
	if _, ok := fc.Features[1].Geometry.(orb.Polygon); !ok {
		t.Errorf("expected a polygon, got %T", fc.Features[1].Geometry)
	}
}

func TestNormalizeKMLExtendedData(t *testing.T) {
	doc := `<kml xmlns="http://www.opengis.net/kml/2.2">
  <Placemark>
    <name>sondage</name>
    <ExtendedData>
      <Data name="mat"><value>argile</value></Data>
      <Data name="prof"><value>12.5</value></Data>
    </ExtendedData>
    <Point><coordinates>9.5,36.2</coordinates></Point>
  </Placemark>
</kml>`

	fc, err := NormalizeKML("sondages.kml", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	props := fc.Features[0].Properties
	if props["mat"] != "argile" {
		t.Errorf("expected mat argile, got %v", props["mat"])
	}
	if prof, ok := props["prof"].(float64); !ok || prof != 12.5 {
		t.Errorf("numeric-looking values must be typed, got %v", props["prof"])
	}
}

func TestNormalizeKMLStyleColor(t *testing.T) {
	doc := `<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Style id="zone"><PolyStyle><color>7f0000ff</color></PolyStyle></Style>
    <Placemark>
      <styleUrl>#zone</styleUrl>
      <Polygon>
        <outerBoundaryIs><LinearRing>
          <coordinates>9.0,36.0 9.1,36.0 9.1,36.1 9.0,36.0</coordinates>
        </LinearRing></outerBoundaryIs>
      </Polygon>
    </Placemark>
  </Document>
</kml>`

	fc, err := NormalizeKML("zones.kml", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	props := fc.Features[0].Properties
	if props["fill"] != "#ff0000" {
		t.Errorf("aabbggrr color must become RGB hex, got %v", props["fill"])
	}
	opacity, ok := props["fill-opacity"].(float64)
	if !ok || math.Abs(opacity-127.0/255) > 1e-9 {
		t.Errorf("expected alpha-derived opacity ~0.498, got %v", props["fill-opacity"])
	}
}

func TestNormalizeKMLStyleMap(t *testing.T) {
	doc := `<kml xmlns="http://www.opengis.net/kml/2.2">
  <Document>
    <Style id="zone-n"><PolyStyle><color>ff00ff00</color></PolyStyle></Style>
    <Style id="zone-h"><PolyStyle><color>ff0000ff</color></PolyStyle></Style>
    <StyleMap id="zone">
      <Pair><key>normal</key><styleUrl>#zone-n</styleUrl></Pair>
      <Pair><key>highlight</key><styleUrl>#zone-h</styleUrl></Pair>
    </StyleMap>
    <Placemark>
      <styleUrl>#zone</styleUrl>
      <Polygon>
        <outerBoundaryIs><LinearRing>
          <coordinates>9.0,36.0 9.1,36.0 9.1,36.1 9.0,36.0</coordinates>
        </LinearRing></outerBoundaryIs>
      </Polygon>
    </Placemark>
  </Document>
</kml>`

	fc, err := NormalizeKML("zones.kml", doc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fc.Features[0].Properties["fill"]; got != "#00ff00" {
		t.Errorf("style map must follow the normal pair, got %v", got)
	}
}

func TestNormalizeKMLParseError(t *testing.T) {
	_, err := NormalizeKML("broken.kml", "<kml><Placemark><name>oops</kml>")
	if err == nil {
		t.Fatal("expected a parse error")
	}
	var fileErr *FileError
	if !errors.As(err, &fileErr) || fileErr.Stage != StageParse {
		t.Fatalf("expected a parse-stage error, got %v", err)
	}
	if strings.Contains(fileErr.Error(), "\n") {
		t.Errorf("parse error must be a single line: %q", fileErr.Error())
	}
}

func TestNormalizeKMLNoFeatures(t *testing.T) {
	_, err := NormalizeKML("empty.kml", `<kml xmlns="http://www.opengis.net/kml/2.2"><Document/></kml>`)
	if err == nil {
		t.Fatal("expected an error for a document without placemarks")
	}
	var fileErr *FileError
	if !errors.As(err, &fileErr) || fileErr.Stage != StageValidate {
		t.Fatalf("expected a validate-stage error, got %v", err)
	}
}
