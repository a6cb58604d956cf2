package engine

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from the spec's error handling design. The
// dispatcher maps each Kind to one HTTP status; nothing outside this
// package and the dispatcher needs to know the mapping.
type Kind string

const (
	KindNotFound       Kind = "not_found"
	KindNameConflict   Kind = "name_conflict"
	KindInvalidTarget  Kind = "invalid_target"
	KindCycle          Kind = "cycle"
	KindForbidden      Kind = "forbidden"
	KindQuotaExceeded  Kind = "quota_exceeded"
	KindAuthFailed     Kind = "auth_failed"
	KindCryptoError    Kind = "crypto_error"
	KindBlobError      Kind = "blob_error"
	// KindBlobMissing is a narrower KindBlobError: the chunk's metadata
	// record exists but the blob it points to is gone from C2. Distinct
	// from KindBlobError so the dispatcher can return 410 Gone on a
	// download instead of the generic 502 for store unavailability.
	KindBlobMissing Kind = "blob_missing"
	KindInternal    Kind = "internal"
)

// Error is the single error type every engine operation returns on
// failure, carrying enough to map to an HTTP status and a log line without
// the dispatcher inspecting string messages.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("engine: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("engine: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error, and
// KindInternal otherwise — so the dispatcher never panics on an
// unclassified error from a lower layer.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
