package monitor

import "errors"

var (
	// ErrTransientUpstream wraps a beacon or execution read that failed after its retry budget.
	// The tick fails and the next scheduled tick tries again.
	ErrTransientUpstream = errors.New("upstream unavailable")
	// ErrVerificationMismatch means the individual validator fetch disagreed with the filtered list.
	// The record is withheld and the validator is re-evaluated on the next tick.
	ErrVerificationMismatch = errors.New("verification mismatch")
	// ErrConfiguration is fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")
)
