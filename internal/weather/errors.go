package weather

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the pipeline. Match them with errors.Is.
var (
	ErrNetwork       = errors.New("network error")
	ErrNotFound      = errors.New("artifact not found")
	ErrParse         = errors.New("parse error")
	ErrSchema        = errors.New("schema error")
	ErrValidation    = errors.New("validation error")
	ErrNoData        = errors.New("no data")
	ErrConnection    = errors.New("connection error")
	ErrInsert        = errors.New("insert error")
	ErrDuplicateDate = errors.New("duplicate date")
	ErrConfig        = errors.New("configuration error")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrNetwork, "NetworkError"},
	{ErrNotFound, "NotFoundError"},
	{ErrParse, "ParseError"},
	{ErrSchema, "SchemaError"},
	{ErrValidation, "ValidationError"},
	{ErrNoData, "NoDataError"},
	{ErrConnection, "ConnectionError"},
	{ErrInsert, "InsertError"},
	{ErrDuplicateDate, "DuplicateDateError"},
	{ErrConfig, "ConfigError"},
}

// Kind returns the name of the error kind carried by err, "" for nil and
// "InternalError" for errors outside the taxonomy.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "InternalError"
}

// Retryable reports whether re-running the pipeline could change the outcome.
// A duplicate date or a missing setting stays that way however often it is retried.
func Retryable(err error) bool {
	return err != nil && !errors.Is(err, ErrDuplicateDate) && !errors.Is(err, ErrConfig)
}

// SchemaError reports a key path that is missing or has the wrong type.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("schema error: missing key %q", e.Path)
	}
	return fmt.Sprintf("schema error: %s at %q", e.Reason, e.Path)
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}

// ValidationError reports a record field holding an unacceptable value.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Stage names a pipeline step.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageLoad      Stage = "load"
)

// StageError tags an error with the stage that produced it.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// StageOf returns the stage that failed, or "" when err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
