// Package server handles HTTP requests and middleware.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sigweb/surveymap/internal/ingest"
)

type uploadError struct {
	FileName string `json:"fileName"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

type uploadResult struct {
	File  string       `json:"file"`
	Layer *StoredLayer `json:"layer,omitempty"`
	Error *uploadError `json:"error,omitempty"`
}

// HandleUpload ingests a multipart batch of files. Every file is processed
// independently; the response reports one result per file or shapefile
// group, failures included.
func (s *ServerContext) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUpload)
	if err := r.ParseMultipartForm(s.MaxUpload); err != nil {
		http.Error(w, "invalid multipart request: "+err.Error(), http.StatusBadRequest)
		return
	}

	files := map[string][]byte{}
	for _, headers := range r.MultipartForm.File {
		for _, header := range headers {
			part, err := header.Open()
			if err != nil {
				log.Error().Err(err).Str("file", header.Filename).Msg("Failed to open upload part")
				continue
			}
			data, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				log.Error().Err(err).Str("file", header.Filename).Msg("Failed to read upload part")
				continue
			}
			files[header.Filename] = data
		}
	}
	if len(files) == 0 {
		http.Error(w, "no files in request", http.StatusBadRequest)
		return
	}

	results := s.Pipeline.Run(files)
	response := make([]uploadResult, 0, len(results))
	for _, result := range results {
		if result.Err != nil {
			response = append(response, uploadResult{
				File:  result.File,
				Error: asUploadError(result.File, result.Err),
			})
			continue
		}
		stored := s.AppendLayer(result.Layer)
		response = append(response, uploadResult{File: result.File, Layer: stored})
	}
	sort.Slice(response, func(i, j int) bool { return response[i].File < response[j].File })

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

// HandleLayers serves the stored layer metadata.
func (s *ServerContext) HandleLayers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Layers())
}

// HandleLayer serves one layer's canonical GeoJSON, minified.
// Path: /api/layers/{id}
func (s *ServerContext) HandleLayer(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	id, err := strconv.Atoi(strings.TrimSuffix(parts[len(parts)-1], ".geojson"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	layer, ok := s.Layer(id)
	if !ok {
		http.NotFound(w, r)
		return
	}

	data, err := layer.collection.MarshalJSON()
	if err != nil {
		http.Error(w, "marshal layer: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if minified, err := s.minifier.Bytes("application/json", data); err == nil {
		data = minified
	}

	w.Header().Set("Content-Type", "application/geo+json")
	_, _ = w.Write(data)
}

// HandleHealth is a liveness probe.
func (s *ServerContext) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// asUploadError shapes any pipeline failure for user display, preserving
// the typed file/stage/message triple when present.
func asUploadError(file string, err error) *uploadError {
	var fileErr *ingest.FileError
	if errors.As(err, &fileErr) {
		return &uploadError{
			FileName: fileErr.File,
			Stage:    string(fileErr.Stage),
			Message:  fileErr.Message,
		}
	}
	return &uploadError{FileName: file, Stage: "internal", Message: err.Error()}
}
