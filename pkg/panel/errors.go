package panel

import "errors"

// Error taxonomy for the interaction pathway. Decode failures are not errors:
// the codec reports them with an ok flag and the router drops the event.
var (
	// ErrNotFound covers unknown panels, unknown durable records and unknown
	// render targets.
	ErrNotFound = errors.New("panel: not found")

	// ErrPermissionDenied is surfaced as a generic access-denied response.
	ErrPermissionDenied = errors.New("panel: permission denied")

	// ErrStaleInstance marks an interaction addressed to a superseded render
	// target of a unique panel.
	ErrStaleInstance = errors.New("panel: instance no longer active")

	// ErrAlreadyDeferred is returned by ShowModal after the first-response
	// slot was consumed by a deferral.
	ErrAlreadyDeferred = errors.New("panel: interaction already deferred")
)
