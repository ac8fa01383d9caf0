// Package apperrors defines sentinel errors shared across the engine.
package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// Fetch pipeline taxonomy. Fetchers wrap these with %w so the
	// orchestrator can classify failures with errors.Is.
	ErrConnection            = errors.New("connection failed")
	ErrAuthentication        = errors.New("authentication rejected")
	ErrParse                 = errors.New("payload did not match format")
	ErrPathExtraction        = errors.New("data path did not resolve")
	ErrFileNotFound          = errors.New("file not found")
	ErrUnsupportedFormat     = errors.New("unsupported data format")
	ErrUnsupportedSourceType = errors.New("unsupported source type")

	// ErrRefreshInProgress is returned when a refresh is requested for a
	// data source that already has one running. Advisory only; see the
	// scheduler for the duplicate-refresh policy.
	ErrRefreshInProgress = errors.New("refresh already running")

	// ErrDataSourceInUse is returned when hard-deleting a data source that
	// still has active widgets bound to it.
	ErrDataSourceInUse = errors.New("data source has active widgets")

	// ErrCredentialsKeyMismatch is returned when stored credentials were
	// encrypted with a different key than the one configured.
	ErrCredentialsKeyMismatch = errors.New("credentials were encrypted with a different key")
)
