package domain

import "errors"

var (
	// ErrNonExistentEntity is returned when the portal has no project for an ID.
	// It is an outcome, not a failure: callers drop the ID without retrying.
	ErrNonExistentEntity = errors.New("project does not exist")

	// ErrNoApprovedAnchor is returned by the catch-up planner when the dataset
	// has no approved record with a decodable registration date.
	ErrNoApprovedAnchor = errors.New("no approved record to anchor the catch-up window")
)
