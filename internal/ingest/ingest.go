// Package ingest turns uploaded survey files of heterogeneous formats into
// canonical WGS 84 feature collections.
//
// Each file (or shapefile component group) runs through its own pipeline:
// text decoding, format-specific parsing, CRS resolution and coordinate
// transformation. Failures stay scoped to the file that caused them; the
// batch always continues.
package ingest

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/paulmach/orb/geojson"
	"github.com/rs/zerolog/log"

	"github.com/sigweb/surveymap/internal/config"
	"github.com/sigweb/surveymap/internal/crs"
	"github.com/sigweb/surveymap/internal/encdetect"
	"github.com/sigweb/surveymap/internal/tabular"
)

// Layer is the hand-off to the layer-rendering collaborator: the normalized
// collection plus a suggested display name and grouping category.
type Layer struct {
	Name       string
	Group      string
	Collection *geojson.FeatureCollection
}

// Result is the outcome for one file or shapefile group of a batch.
type Result struct {
	File  string
	Layer *Layer
	Err   error
}

// Pipeline holds the process-scoped ingestion state: the SRS registry
// populated at startup and the heuristics configured for this deployment.
type Pipeline struct {
	registry    *crs.Registry
	policy      crs.HeuristicPolicy
	defaultCode string
	encodings   []string
	workers     int
}

// NewPipeline builds a pipeline from configuration, registering every
// configured reference system.
func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	registry := crs.NewRegistry()
	for _, entry := range cfg.SRS {
		if _, err := registry.Register(entry.Code, entry.Definition); err != nil {
			return nil, err
		}
	}
	if _, ok := registry.Get(cfg.DefaultSRS); !ok {
		log.Warn().Str("srs", cfg.DefaultSRS).Msg("Default source SRS is not registered")
	}

	bands := make([]crs.Band, 0, len(cfg.Heuristic.Bands))
	for _, band := range cfg.Heuristic.Bands {
		bands = append(bands, crs.Band{
			Code:        band.Code,
			MinEasting:  band.MinEasting,
			MaxEasting:  band.MaxEasting,
			MinNorthing: band.MinNorthing,
			MaxNorthing: band.MaxNorthing,
		})
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}

	return &Pipeline{
		registry:    registry,
		policy:      crs.HeuristicPolicy{Code: cfg.Heuristic.Code, Bands: bands},
		defaultCode: cfg.DefaultSRS,
		encodings:   cfg.Encodings,
		workers:     workers,
	}, nil
}

type job struct {
	name  string
	data  []byte
	group *ComponentGroup
}

// Run ingests one upload batch. Files are dispatched independently to a
// bounded worker pool; a failure in one file never aborts its siblings.
// Result order is not guaranteed.
func (p *Pipeline) Run(files map[string][]byte) []Result {
	jobs := p.dispatch(files)

	queue := make(chan job)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				results <- p.process(j)
			}
		}()
	}
	go func() {
		for _, j := range jobs {
			queue <- j
		}
		close(queue)
		wg.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(jobs))
	for result := range results {
		if result.Err != nil {
			log.Error().Err(result.Err).Str("file", result.File).Msg("Ingestion failed")
		} else {
			log.Info().Str("file", result.File).
				Int("features", len(result.Layer.Collection.Features)).
				Msg("Layer normalized")
		}
		out = append(out, result)
	}
	return out
}

// dispatch groups shapefile components by case-insensitive base name and
// turns everything else into standalone jobs.
func (p *Pipeline) dispatch(files map[string][]byte) []job {
	var jobs []job
	groups := map[string]*ComponentGroup{}

	for name, data := range files {
		ext := strings.ToLower(filepath.Ext(name))
		switch ext {
		case ".shp", ".shx", ".dbf", ".prj", ".cpg":
			stem := strings.ToLower(strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)))
			group := groups[stem]
			if group == nil {
				group = &ComponentGroup{BaseName: strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))}
				groups[stem] = group
			}
			switch ext {
			case ".shp":
				group.SHP = data
				group.BaseName = strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
			case ".shx":
				group.SHX = data
			case ".dbf":
				group.DBF = data
			case ".prj":
				group.PRJ, _ = encdetect.Decode(data, p.encodings)
			case ".cpg":
				group.CPG, _ = encdetect.Decode(data, p.encodings)
			}
		default:
			jobs = append(jobs, job{name: name, data: data})
		}
	}

	for _, group := range groups {
		jobs = append(jobs, job{name: group.BaseName, group: group})
	}
	return jobs
}

func (p *Pipeline) process(j job) Result {
	batch := p.registry.Batch()
	resolver := &crs.Resolver{Registry: batch, Policy: p.policy}

	var fc *geojson.FeatureCollection
	var err error

	if j.group != nil {
		fc, err = j.group.Normalize(resolver)
	} else {
		fc, err = p.ingestFile(j.name, j.data, resolver)
	}
	if err != nil {
		return Result{File: j.name, Err: err}
	}

	base := strings.TrimSuffix(filepath.Base(j.name), filepath.Ext(j.name))
	return Result{
		File:  j.name,
		Layer: &Layer{Name: base, Group: base, Collection: fc},
	}
}

func (p *Pipeline) ingestFile(name string, data []byte, resolver *crs.Resolver) (*geojson.FeatureCollection, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		text, enc := encdetect.Decode(data, p.encodings)
		log.Debug().Str("file", name).Str("encoding", enc).Msg("Decoded delimited text")
		rows, err := tabular.ReadCSV(text)
		if err != nil {
			return nil, fileErr(name, StageParse, err, "%v", err)
		}
		return p.normalizeRows(name, rows, resolver)

	case ".xlsx", ".xlsm":
		rows, err := tabular.ReadWorkbook(data)
		if err != nil {
			return nil, fileErr(name, StageParse, err, "%v", err)
		}
		return p.normalizeRows(name, rows, resolver)

	case ".json", ".geojson":
		text, _ := encdetect.Decode(data, p.encodings)
		return NormalizeGeoJSON(name, []byte(text), resolver)

	case ".kml":
		text, _ := encdetect.Decode(data, p.encodings)
		return NormalizeKML(name, text)

	default:
		return nil, fileErr(name, StageParse, nil, "unsupported file type %q", filepath.Ext(name))
	}
}

func (p *Pipeline) normalizeRows(name string, rows []tabular.Row, resolver *crs.Resolver) (*geojson.FeatureCollection, error) {
	source, ok := resolver.Registry.Get(p.defaultCode)
	if !ok {
		return nil, fileErr(name, StageCRS, nil, "default source SRS %s is not registered", p.defaultCode)
	}
	return NormalizePoints(name, rows, source)
}
