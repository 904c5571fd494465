package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/sigweb/surveymap/internal/config"
	"github.com/sigweb/surveymap/internal/ingest"
	"github.com/sigweb/surveymap/internal/logger"
	"github.com/sigweb/surveymap/internal/server"

	"github.com/jessevdk/go-flags"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Logger logger.Logger `group:"Logger options"`

	ConfigFile string `short:"c" long:"config" env:"CONFIG_FILE"    description:"Path to configuration file"`
	Addr       string `short:"a" long:"addr"   env:"LISTEN_ADDRESS" description:"Address to listen on" default:"0.0.0.0"`
	Port       int    `short:"p" long:"port"   env:"LISTEN_PORT"    description:"Port to listen on"    default:"8080"`
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

	srvCtx := server.NewServerContext(pipeline, cfg.MaxUploadMB<<20)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/upload", srvCtx.HandleUpload)
	mux.HandleFunc("/api/layers", srvCtx.HandleLayers)
	mux.HandleFunc("/api/layers/", srvCtx.HandleLayer)
	mux.HandleFunc("/healthz", srvCtx.HandleHealth)

	handler := server.RequestLogger(mux)

	listenAddr := fmt.Sprintf("%s:%d", opts.Addr, opts.Port)
	log.Info().
		Str("addr", listenAddr).
		Str("default_srs", cfg.DefaultSRS).
		Int64("max_upload_mb", cfg.MaxUploadMB).
		Msg("Web server started")

	if err := http.ListenAndServe(listenAddr, handler); err != nil {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
