package consultation

import "errors"

var (
	// ErrMissingText is returned when the intake payload has no transcript.
	ErrMissingText = errors.New("original_text is required")

	// ErrEmptyBulk is returned for a bulk request with no entries.
	ErrEmptyBulk = errors.New("no consultations to register")

	// ErrBulkTooLarge is returned when a bulk request exceeds the cap.
	ErrBulkTooLarge = errors.New("at most 100 consultations per bulk request")

	// ErrNotFound is returned when a consultation does not exist.
	ErrNotFound = errors.New("consultation not found")

	// ErrNotPending is returned when manual classification is attempted on a
	// consultation that is not waiting for one.
	ErrNotPending = errors.New("consultation is not pending classification")
)
