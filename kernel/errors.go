package kernel

import "errors"

// Errors returned by Bootstrap and the facade's wiring step.
var (
	// ErrNoTransport is returned by Bootstrap when no transport.Transport
	// was supplied via WithTransport.
	ErrNoTransport = errors.New("kernel: no transport configured")

	// ErrAlreadyStarted is returned by Start if the kernel's clock and
	// scheduler have already been bootstrapped.
	ErrAlreadyStarted = errors.New("kernel: already started")

	// ErrNotStarted reports that Start has not run. No function in this
	// package returns it: Fork, Sleep and the other facade methods do not
	// check whether Start has run.
	ErrNotStarted = errors.New("kernel: not started")
)
