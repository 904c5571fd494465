package ingest

import "fmt"

// Stage identifies where in the pipeline a file failed.
type Stage string

const (
	StageDecode    Stage = "decode"
	StageParse     Stage = "parse"
	StageValidate  Stage = "validate"
	StageCRS       Stage = "crs"
	StageTransform Stage = "transform"
)

// FileError is the typed per-file failure crossing the batch boundary.
// Message is suitable for user display; Stage distinguishes syntactically
// broken input from structurally invalid input.
type FileError struct {
	File    string
	Stage   Stage
	Message string
	Err     error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.File, e.Stage, e.Message)
}

func (e *FileError) Unwrap() error { return e.Err }

func fileErr(file string, stage Stage, err error, format string, args ...any) *FileError {
	return &FileError{
		File:    file,
		Stage:   stage,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}
