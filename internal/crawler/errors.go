package crawler

import "errors"

// Error classes raised by the crawl. Wrap them with fmt.Errorf("...: %w")
// and test with errors.Is.
var (
	// ErrCandidateExtraction marks a listing candidate that could not be turned
	// into a record. The candidate is skipped; siblings continue.
	ErrCandidateExtraction = errors.New("candidate extraction failed")
	// ErrDetailExtraction marks a detail page missing a mandatory field. The
	// record is dropped from the enriched output.
	ErrDetailExtraction = errors.New("detail extraction failed")
	// ErrNavigationTimeout means the ready landmark never appeared within the
	// navigation timeout.
	ErrNavigationTimeout = errors.New("navigation timeout")
	// ErrNavigationError means the request itself failed.
	ErrNavigationError = errors.New("navigation error")
	// ErrResourceAcquisition means the shared session could not be opened.
	// It is the only fatal error class.
	ErrResourceAcquisition = errors.New("resource acquisition failed")
)

// IsNavigation reports whether err is a fetch failure of either kind.
func IsNavigation(err error) bool {
	return errors.Is(err, ErrNavigationTimeout) || errors.Is(err, ErrNavigationError)
}

// ErrorKind returns a short label for logs and metrics.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNavigationTimeout):
		return "navigation_timeout"
	case errors.Is(err, ErrNavigationError):
		return "navigation_error"
	case errors.Is(err, ErrDetailExtraction):
		return "detail_extraction"
	case errors.Is(err, ErrCandidateExtraction):
		return "candidate_extraction"
	case errors.Is(err, ErrResourceAcquisition):
		return "resource_acquisition"
	default:
		return "other"
	}
}
