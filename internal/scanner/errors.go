package scanner

import "fmt"

// FailureKind classifies why a scan attempt failed. The kinds are mutually
// exclusive and exhaustive for one attempt.
type FailureKind string

const (
	// FailureTimeout: navigation did not complete within the timeout.
	FailureTimeout FailureKind = "TIMEOUT"

	// FailureBlockedRedirect: the destination hostname (requested, or
	// landed on after redirects) failed the SSRF guard. A security event,
	// not a transient fault.
	FailureBlockedRedirect FailureKind = "BLOCKED_REDIRECT"

	// FailureNavigation: any other navigation-level error (DNS, refused
	// connection, protocol error, malformed destination).
	FailureNavigation FailureKind = "NAVIGATION_FAILED"

	// FailureAnalysis: the auditor invocation itself failed.
	FailureAnalysis FailureKind = "ANALYSIS_FAILED"

	// FailurePersistence is raised by the job processor, not the scanner,
	// for storage or cache write errors outside the scan itself.
	FailurePersistence FailureKind = "PERSISTENCE_FAILED"
)

// Retriable reports whether the external queue may blindly retry this
// failure. Blocked redirects are excluded: retrying the identical URL hits
// the identical redirect, so they need operator review instead.
func (k FailureKind) Retriable() bool {
	return k != FailureBlockedRedirect
}

// ScanError is the typed failure outcome of a scan attempt. No raw
// browser-engine error crosses the scanner boundary without being wrapped
// in one of these.
type ScanError struct {
	Kind FailureKind
	Err  error
}

func (e *ScanError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

func failure(kind FailureKind, err error) *ScanError {
	return &ScanError{Kind: kind, Err: err}
}

func failuref(kind FailureKind, format string, args ...any) *ScanError {
	return &ScanError{Kind: kind, Err: fmt.Errorf(format, args...)}
}
