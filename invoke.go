package blambda

import (
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Runtime API header names, as defined by the 2018-06-01 contract.
const (
	headerRequestID       = "Lambda-Runtime-Aws-Request-Id"
	headerDeadlineMS      = "Lambda-Runtime-Deadline-Ms"
	headerTraceID         = "Lambda-Runtime-Trace-Id"
	headerClientContext   = "Lambda-Runtime-Client-Context"
	headerCognitoIdentity = "Lambda-Runtime-Cognito-Identity"
	headerInvokedARN      = "Lambda-Runtime-Invoked-Function-Arn"
	headerErrorType       = "Lambda-Runtime-Function-Error-Type"
	headerResponseMode    = "Lambda-Runtime-Function-Response-Mode"

	trailerErrorType = "Lambda-Runtime-Function-Error-Type"
	trailerErrorBody = "Lambda-Runtime-Function-Error-Body"
)

// invocation is one event pulled from the Runtime API, alive until its
// terminal report. The payload aliases a buffer the client reuses for the
// next poll, which is safe because the loop is strictly sequential.
type invocation struct {
	id      string
	payload []byte
	headers http.Header
}

// Request is the per-invocation metadata surface, extracted from the
// response headers of the next poll and discarded when the invocation
// completes.
type Request struct {
	// ID is the invocation request id; every terminal report carries it.
	ID string
	// InvokedFunctionARN is the fully qualified ARN the caller used.
	InvokedFunctionARN string
	// XRayTraceID is the tracing header, also installed into the process
	// environment as _X_AMZN_TRACE_ID for the duration of the invocation.
	XRayTraceID string
	// DeadlineMS is the wall clock cutoff in Unix milliseconds. Advisory:
	// the platform enforces it, the runtime does not.
	DeadlineMS uint64
	// ClientContext is raw JSON from the mobile SDK, often empty.
	ClientContext string
	// CognitoIdentity is raw JSON identity information, often empty.
	CognitoIdentity string
}

// newRequest extracts the metadata surface from an invocation.
func newRequest(inv *invocation) Request {
	deadline, _ := strconv.ParseUint(inv.headers.Get(headerDeadlineMS), 10, 64)
	return Request{
		ID:                 inv.id,
		InvokedFunctionARN: inv.headers.Get(headerInvokedARN),
		XRayTraceID:        inv.headers.Get(headerTraceID),
		DeadlineMS:         deadline,
		ClientContext:      inv.headers.Get(headerClientContext),
		CognitoIdentity:    inv.headers.Get(headerCognitoIdentity),
	}
}

// Deadline returns the invocation cutoff as a time.Time, zero when the
// platform sent none.
func (r Request) Deadline() time.Time {
	if r.DeadlineMS == 0 {
		return time.Time{}
	}
	return time.UnixMilli(int64(r.DeadlineMS))
}

// RemainingTime returns the duration until the deadline, clamped at zero.
func (r Request) RemainingTime() time.Duration {
	if r.DeadlineMS == 0 {
		return 0
	}
	if remaining := time.Until(r.Deadline()); remaining > 0 {
		return remaining
	}
	return 0
}

// ClientContextValue extracts a value from the client context JSON by gjson
// path, e.g. "client.app_title". The result is the zero value when the
// context is empty or the path does not resolve.
func (r Request) ClientContextValue(path string) gjson.Result {
	return gjson.Get(r.ClientContext, path)
}

// CognitoIdentityValue extracts a value from the Cognito identity JSON by
// gjson path, e.g. "identity_id".
func (r Request) CognitoIdentityValue(path string) gjson.Result {
	return gjson.Get(r.CognitoIdentity, path)
}
