package cfddns

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or malformed setting.
type ConfigurationError struct {
	Setting string
	Reason  string
	Err     error
}

func (e *ConfigurationError) Error() string {
	msg := fmt.Sprintf("invalid setting %q: %s", e.Setting, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func missing(setting string) error {
	return &ConfigurationError{Setting: setting, Reason: "required setting is missing"}
}

// ConnectivityError is returned when the initial zone listing fails.
type ConnectivityError struct {
	ZoneID string
	Err    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("unable to list DNS records for zone %s: %s", e.ZoneID, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// ValidationError names a managed DNS name that does not exist in the zone.
type ValidationError struct {
	Name   string
	ZoneID string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("DNS name %s not found in zone %s", e.Name, e.ZoneID)
}

// ResolutionError is returned by resolvers when the current address could not be determined.
// Status is the HTTP status code when the failure came from a response.
type ResolutionError struct {
	Endpoint string
	Status   int
	Err      error
}

func (e *ResolutionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("address lookup via %s failed (HTTP %d): %s", e.Endpoint, e.Status, e.Err)
	}
	return fmt.Sprintf("address lookup via %s failed: %s", e.Endpoint, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// UpdateError is returned when the provider rejects a record update.
// Err carries the provider's error payload.
type UpdateError struct {
	Name     string
	RecordID string
	Err      error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("error updating DNS record %s (id=%s): %s", e.Name, e.RecordID, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// ThresholdError ends Client.Run after too many consecutive failed cycles.
type ThresholdError struct {
	Failures int
	Last     error
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("too many consecutive errors (%d), last: %s", e.Failures, e.Last)
}

func (e *ThresholdError) Unwrap() error { return e.Last }

// IsFatal reports whether err belongs to the startup class of errors,
// which are never retried.
func IsFatal(err error) bool {
	var (
		ce *ConfigurationError
		ne *ConnectivityError
		ve *ValidationError
	)
	return errors.As(err, &ce) || errors.As(err, &ne) || errors.As(err, &ve)
}
