// Copyright 2025 AetherEngine
//
// API Error Taxonomy
// Stable error codes shared by every control-plane endpoint. The CLI maps
// these codes onto its own exit-code contract, so codes must never change
// meaning once released.

package apierror

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Stable error codes. Each code pairs with exactly one HTTP status in
// practice, but the status travels on the Error so handlers stay explicit.
const (
	CodeBadRequest               = "bad_request"
	CodeUnauthorized             = "unauthorized"
	CodeForbidden                = "forbidden"
	CodeNotFound                 = "not_found"
	CodeConflict                 = "conflict"
	CodeIdempotencyConflict      = "idempotency_conflict"
	CodeQuotaExceeded            = "quota_exceeded"
	CodeSizeExceeded             = "size_exceeded"
	CodeSizeMismatch             = "size_mismatch"
	CodeDigestMismatch           = "digest_mismatch"
	CodeDigestMismatchRemote     = "digest_mismatch_remote"
	CodeDigestMismatchRemoteHash = "digest_mismatch_remote_hash"
	CodeInvalidDigest            = "invalid_digest"
	CodeUploadIDMismatch         = "upload_id_mismatch"
	CodeMultipartUnsupported     = "multipart_unsupported"
	CodePresignRequired          = "presign_required"
	CodeAlreadyStored            = "already_stored"
	CodeServiceUnavailable       = "service_unavailable"
	CodeInternal                 = "internal"
)

// Body is the wire shape of every error response.
type Body struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error carries an HTTP status plus the stable code/message body.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an error with an explicit status and code.
func New(status int, code, message string) *Error {
	return &Error{Status: status, Code: code, Message: message}
}

func BadRequest(message string) *Error {
	return New(http.StatusBadRequest, CodeBadRequest, message)
}

func Unauthorized(message string) *Error {
	return New(http.StatusUnauthorized, CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(http.StatusForbidden, CodeForbidden, message)
}

func NotFound(message string) *Error {
	return New(http.StatusNotFound, CodeNotFound, message)
}

func Conflict(message string) *Error {
	return New(http.StatusConflict, CodeConflict, message)
}

func ServiceUnavailable() *Error {
	return New(http.StatusServiceUnavailable, CodeServiceUnavailable, "required dependency not ready")
}

func Internal(message string) *Error {
	return New(http.StatusInternalServerError, CodeInternal, message)
}

// Write emits the error as a JSON response.
func Write(w http.ResponseWriter, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status)
	json.NewEncoder(w).Encode(Body{Code: e.Code, Message: e.Message})
}

// From coerces any error into an *Error, wrapping unknown errors as internal.
func From(err error) *Error {
	if apiErr, ok := err.(*Error); ok {
		return apiErr
	}
	return Internal(err.Error())
}
