package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an isolation failure or warning.
type Kind string

const (
	// KindConfiguration: required configuration is missing. Raised before
	// any network attempt.
	KindConfiguration Kind = "ConfigurationError"

	// KindResourceNotResolved: the finding names no actionable instance.
	// Never returned as an error; it produces a skipped result.
	KindResourceNotResolved Kind = "ResourceNotResolved"

	// KindControlPlane: a lookup, create, describe or tag call failed
	// before the instance was modified. Fatal.
	KindControlPlane Kind = "ControlPlaneError"

	// KindPartialIsolation: replacing the instance's groups failed. The
	// instance may or may not be isolated and must be checked by hand. Fatal.
	KindPartialIsolation Kind = "PartialIsolation"

	// KindRecordingFailed: the instance is isolated but its restoration
	// record could not be written. Warning.
	KindRecordingFailed Kind = "RecordingFailed"

	// KindDeliveryFailed: the alert could not be delivered. Warning.
	KindDeliveryFailed Kind = "DeliveryFailed"
)

// Error is a fatal isolation failure.
type Error struct {
	Kind       Kind
	Op         string
	InstanceID string
	Err        error
}

func (e *Error) Error() string {
	if e.InstanceID == "" {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s %s: %v", e.Kind, e.Op, e.InstanceID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind carried by err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Warning is a non-fatal problem reported alongside a successful result.
type Warning struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}
