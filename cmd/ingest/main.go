package main

import (
	"os"
	"path/filepath"

	"github.com/sigweb/surveymap/internal/config"
	"github.com/sigweb/surveymap/internal/ingest"
	"github.com/sigweb/surveymap/internal/logger"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config" env:"CONFIG_FILE" description:"Path to configuration file"`
	Output     string `short:"o" long:"output" env:"OUTPUT_DIR"  description:"Directory for normalized GeoJSON" default:"."`

	Args struct {
		Files []string `positional-arg-name:"FILE" required:"1"`
	} `positional-args:"yes"`
}

func main() {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	opts.Logger.Setup()

	cfg, err := config.Load(opts.ConfigFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	pipeline, err := ingest.NewPipeline(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build ingestion pipeline")
	}

	files := map[string][]byte{}
	for _, path := range opts.Args.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Error().Err(err).Str("file", path).Msg("Failed to read file, skipping")
			continue
		}
		files[filepath.Base(path)] = data
	}
	if len(files) == 0 {
		log.Fatal().Msg("No readable input files")
	}

	if err := os.MkdirAll(opts.Output, 0755); err != nil {
		log.Fatal().Err(err).Str("dir", opts.Output).Msg("Failed to create output directory")
	}

	failed := 0
	for _, result := range pipeline.Run(files) {
		if result.Err != nil {
			failed++
			continue
		}

		data, err := result.Layer.Collection.MarshalJSON()
		if err != nil {
			log.Error().Err(err).Str("layer", result.Layer.Name).Msg("Failed to marshal layer")
			failed++
			continue
		}

		dest := filepath.Join(opts.Output, result.Layer.Name+".geojson")
		if err := os.WriteFile(dest, data, 0644); err != nil {
			log.Error().Err(err).Str("path", dest).Msg("Failed to write layer")
			failed++
			continue
		}
		log.Info().Str("path", dest).Msg("Layer written")
	}

	if failed > 0 {
		log.Warn().Int("failed", failed).Msg("Some inputs failed to normalize")
		os.Exit(1)
	}
}
