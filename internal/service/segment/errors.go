package segment

import "errors"

// Sentinel errors for the segment service layer.
var (
	ErrSegmentNotFound = errors.New("segment not found")
)
