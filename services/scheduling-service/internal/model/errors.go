package model

import "errors"

var (
	// ErrNotFound means a referenced owner/service/client/appointment/entry
	// does not exist. Terminal for the request.
	ErrNotFound = errors.New("not found")

	// ErrConflict means a book/reschedule commit lost the race against a
	// concurrently committed appointment. Caller should re-run slot discovery.
	ErrConflict = errors.New("appointment conflict")

	// ErrAlreadyCancelled reports an idempotent cancel of a cancelled
	// appointment. It never re-triggers the gap-fill cascade.
	ErrAlreadyCancelled = errors.New("appointment already cancelled")

	// ErrOfferExpired means the in-flight offer was not found or its response
	// window has lapsed.
	ErrOfferExpired = errors.New("offer expired")

	// ErrInvalidInput covers fatal caller mistakes (bad timezone, maxSlots <= 0).
	ErrInvalidInput = errors.New("invalid input")
)
