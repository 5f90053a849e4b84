package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestrator's failure taxonomy. Configuration and
// validation errors are returned synchronously and never retried; delivery
// errors drive the retry state machine.
var (
	// ErrCircularDependency rejects a dependency edge that would close a
	// cycle. Nothing is persisted.
	ErrCircularDependency = errors.New("circular rule dependency")

	// ErrDependencyTimeout marks a pending execution whose required
	// dependencies were not satisfied within the organization's TTL.
	ErrDependencyTimeout = errors.New("dependency wait timed out")

	// ErrUnsubscribed aborts an evaluation for an unsubscribed contact.
	// Logged, not alerted; no execution row is created.
	ErrUnsubscribed = errors.New("contact is unsubscribed")

	// ErrNoBusinessHours is returned when an organization enforces business
	// hours but has no enabled day.
	ErrNoBusinessHours = errors.New("no business hours configured")

	// ErrNotFound is the generic missing-row error for store lookups.
	ErrNotFound = errors.New("not found")
)

// DeliveryError is a transient channel delivery failure. The executor retries
// it up to the recipient's max_retries before surfacing a permanent failure.
type DeliveryError struct {
	Channel  Channel
	Provider string
	Msg      string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery via %s failed: %s", e.Channel, e.Provider, e.Msg)
}

// IsDeliveryError reports whether err is (or wraps) a transient delivery
// failure.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
