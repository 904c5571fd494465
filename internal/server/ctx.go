package server

import (
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"
	"github.com/tdewolff/minify/v2"
	mjson "github.com/tdewolff/minify/v2/json"

	"github.com/sigweb/surveymap/internal/ingest"
)

// palette cycles through display colors assigned to new layers. The styling
// UI may change them later; color is cosmetic metadata, never geometry.
var palette = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8", "#f58231",
	"#911eb4", "#46f0f0", "#f032e6", "#bcf60c", "#008080",
}

// StoredLayer is one normalized layer held for the rendering frontend.
type StoredLayer struct {
	ID            int      `json:"id"`
	Name          string   `json:"name"`
	Group         string   `json:"group"`
	Color         string   `json:"color"`
	Features      int      `json:"features"`
	GeometryTypes []string `json:"geometry_types"`

	collection *geojson.FeatureCollection
}

// ServerContext holds dependencies for request handlers. The layer store is
// the single shared resource of the ingestion flow; appends serialize behind
// its mutex.
type ServerContext struct {
	Pipeline  *ingest.Pipeline
	MaxUpload int64

	minifier *minify.M

	mu     sync.RWMutex
	layers []*StoredLayer
	nextID int
}

// NewServerContext initializes the context around a configured pipeline.
func NewServerContext(pipeline *ingest.Pipeline, maxUpload int64) *ServerContext {
	m := minify.New()
	m.AddFunc("application/json", mjson.Minify)

	return &ServerContext{
		Pipeline:  pipeline,
		MaxUpload: maxUpload,
		minifier:  m,
		nextID:    1,
	}
}

// AppendLayer stores one normalized layer and assigns its display color.
func (s *ServerContext) AppendLayer(layer *ingest.Layer) *StoredLayer {
	types := map[string]bool{}
	for _, feature := range layer.Collection.Features {
		types[feature.Geometry.GeoJSONType()] = true
	}
	names := make([]string, 0, len(types))
	for name := range types {
		names = append(names, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &StoredLayer{
		ID:            s.nextID,
		Name:          layer.Name,
		Group:         layer.Group,
		Color:         palette[(s.nextID-1)%len(palette)],
		Features:      len(layer.Collection.Features),
		GeometryTypes: names,
		collection:    layer.Collection,
	}
	s.nextID++
	s.layers = append(s.layers, stored)

	log.Info().Int("id", stored.ID).Str("name", stored.Name).
		Int("features", stored.Features).Msg("Layer added to store")
	return stored
}

// Layers returns a snapshot of the stored layer metadata.
func (s *ServerContext) Layers() []*StoredLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*StoredLayer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Layer returns the stored layer with the given id.
func (s *ServerContext) Layer(id int) (*StoredLayer, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, layer := range s.layers {
		if layer.ID == id {
			return layer, true
		}
	}
	return nil, false
}
