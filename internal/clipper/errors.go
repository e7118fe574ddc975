package clipper

import (
	"errors"
	"fmt"
)

// ErrNotFound is wrapped by stores when a lookup key is unknown.
var ErrNotFound = errors.New("not found")

// NetworkError reports a failed or timed-out fetch of the primary page.
type NetworkError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error fetching %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("network error fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// EncodingError is reserved for degenerate input such as an empty body.
type EncodingError struct {
	URL string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding error for %s: %v", e.URL, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ConversionError means every converter strategy was rejected.
type ConversionError struct {
	URL      string
	Attempts []string
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed for %s after %v: %v", e.URL, e.Attempts, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// AssetError describes one asset that could not be resolved. It is collected
// into an AssetReport and never aborts a pipeline.
type AssetError struct {
	Locator string
	Stage   string
	Err     error
}

func (e *AssetError) Error() string {
	return fmt.Sprintf("asset %s failed at %s: %v", e.Locator, e.Stage, e.Err)
}

func (e *AssetError) Unwrap() error { return e.Err }

// ImportError means the note store rejected the final write. Artifact holds
// the finished document so a retry can resubmit it directly.
type ImportError struct {
	Path     string
	Artifact ImportArtifact
	Err      error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import of %s rejected: %v", e.Path, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Reason maps an error onto its taxonomy name for outcome reporting.
func Reason(err error) string {
	var (
		netErr    *NetworkError
		encErr    *EncodingError
		convErr   *ConversionError
		assetErr  *AssetError
		importErr *ImportError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &netErr):
		return "network: " + netErr.Error()
	case errors.As(err, &encErr):
		return "encoding: " + encErr.Error()
	case errors.As(err, &convErr):
		return "conversion: " + convErr.Error()
	case errors.As(err, &importErr):
		return "import: " + importErr.Error()
	case errors.As(err, &assetErr):
		return "asset: " + assetErr.Error()
	default:
		return err.Error()
	}
}
