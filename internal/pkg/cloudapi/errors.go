package cloudapi

import (
	"fmt"
	"net/http"
	"time"
)

/*
 *   Failure taxonomy for vendor API calls.  Retry policy lives with the
 *   callers (scheduler, session manager) - never here.
 */

// TransportError wraps a network-level failure (DNS, TLS, timeout).
// Always retryable by caller policy.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a non-200 response from the vendor API.  4xx means a
// configuration or auth problem which must be surfaced during setup;
// 5xx is transient.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("vendor API error: HTTP status %d: %s", e.Status, e.Body)
}

// Retryable reports whether the failure is transient
func (e *HTTPError) Retryable() bool {
	return e.Status >= 500
}

// The vendor does not advertise its rate limit; 60 seconds between
// certificate issuance attempts is known to be accepted
const IssuanceRetryFloor = 60 * time.Second

// ThrottledError is the vendor's rate-limit response on certificate
// issuance.  Callers must wait at least RetryAfter before trying again.
type ThrottledError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("vendor throttled the request (retry after %s): %s", e.RetryAfter, e.Body)
}

// DecodeError is a malformed or unrecognised response/state document.
// Logged and skipped by callers, never fatal to the pipeline.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding vendor document: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func classifyStatus(status int, body []byte) error {
	if status == http.StatusTooManyRequests {
		return &ThrottledError{RetryAfter: IssuanceRetryFloor, Body: string(body)}
	}
	return &HTTPError{Status: status, Body: string(body)}
}
