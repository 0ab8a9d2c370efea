package manifest

import (
	"errors"
	"fmt"
)

// Error codes carried by ManifestError.
const (
	CodeInvalidManifest = "INVALID_MANIFEST"
	CodeNoVariants      = "NO_VARIANTS"
	CodeNoSegments      = "NO_SEGMENTS"
	CodeParse           = "PARSE_ERROR"
)

// Sentinel errors matched with errors.Is against a ManifestError.
var (
	ErrInvalidManifest = errors.New("manifest: missing #EXTM3U marker")
	ErrNoVariants      = errors.New("manifest: no variant streams")
	ErrNoSegments      = errors.New("manifest: no segments")
	ErrParse           = errors.New("manifest: parse failure")
)

// ManifestError reports a playlist that is structurally unusable.
type ManifestError struct {
	Code   string
	Detail string
	Err    error
}

func (e *ManifestError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("manifest %s", e.Code)
	}
	return fmt.Sprintf("manifest %s: %s", e.Code, e.Detail)
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error code.
func (e *ManifestError) Is(target error) bool {
	switch target {
	case ErrInvalidManifest:
		return e.Code == CodeInvalidManifest
	case ErrNoVariants:
		return e.Code == CodeNoVariants
	case ErrNoSegments:
		return e.Code == CodeNoSegments
	case ErrParse:
		return e.Code == CodeParse
	}
	return false
}

func newError(code, detail string, err error) *ManifestError {
	return &ManifestError{Code: code, Detail: detail, Err: err}
}
