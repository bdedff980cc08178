package services

import "errors"

// Controller precondition failures. These surface to the operator; none of
// them leaves any state behind.
var (
	ErrValidation       = errors.New("invalid campaign configuration")
	ErrNoDraft          = errors.New("no draft campaign configured")
	ErrNoActiveCampaign = errors.New("no active campaign")
	ErrEmptyLaunch      = errors.New("every contact in the source was already messaged in a previous campaign")
)
