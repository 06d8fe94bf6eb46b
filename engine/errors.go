package engine

import "errors"

var (
	ErrSequenceNotFound   = errors.New("sequence not found")
	ErrSequenceNotActive  = errors.New("sequence is not active")
	ErrNoSteps            = errors.New("sequence has no steps")
	ErrEnrollmentNotFound = errors.New("enrollment not found")

	// errClaimLost means the row left processing while we held it, usually
	// because the reaper requeued it.
	errClaimLost = errors.New("scheduled send is no longer claimed")
)
