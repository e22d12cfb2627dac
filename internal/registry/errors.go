package registry

import "errors"

// Domain errors for the registry package.
var (
	// ErrHeldByOther is returned when a live lease belongs to another actor.
	ErrHeldByOther = errors.New("registry: held by other")

	// ErrNoLease is returned when releasing a lease the actor does not hold.
	ErrNoLease = errors.New("registry: no lease")

	// ErrInvalidLease is returned for a non-positive lease duration.
	ErrInvalidLease = errors.New("registry: invalid lease duration")

	// ErrInvalidKey is returned for an empty lease key or actor.
	ErrInvalidKey = errors.New("registry: invalid lease key")

	// ErrInvalidDevice is returned when a message carries no usable device ID.
	ErrInvalidDevice = errors.New("registry: invalid device id")

	// ErrUnknownDevice is returned when looking up a device never seen.
	ErrUnknownDevice = errors.New("registry: unknown device")
)
