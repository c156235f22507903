package entity

import "errors"

var (
	// ErrCatalogUnavailable means the instrument catalog could not be fetched.
	// Fatal at startup: there is nothing to subscribe to.
	ErrCatalogUnavailable = errors.New("instrument catalog unavailable")

	// ErrAuthRejected means the feed refused our credentials. Recoverable up
	// to the configured retry limit, fatal beyond it.
	ErrAuthRejected = errors.New("feed authentication rejected")

	// ErrSinkBusy means an append did not complete within its bounded
	// timeout. The record is dropped, the stream keeps running.
	ErrSinkBusy = errors.New("sink busy")
)
