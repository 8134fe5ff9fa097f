package report

import "errors"

var (
	// ErrNotFound is returned when a report does not exist.
	ErrNotFound = errors.New("report not found")

	// ErrNotApprovable is returned when approval is attempted from a state
	// other than draft or rejected.
	ErrNotApprovable = errors.New("report cannot be approved in its current state")

	// ErrNotSendable is returned when email delivery is requested for an
	// unapproved report.
	ErrNotSendable = errors.New("only approved reports can be sent")

	// ErrLinkExpired is returned when a public access token is past its
	// validity window.
	ErrLinkExpired = errors.New("report link has expired")

	// ErrNotAvailable is returned when a report exists but its status does
	// not allow public reads.
	ErrNotAvailable = errors.New("report is not available yet")
)
