package score

import "errors"

// Sentinel errors for the score service layer.
var (
	ErrLeadNotFound  = errors.New("lead not found")
	ErrInvalidFactor = errors.New("multiplier must be a finite, non-negative number")
)
