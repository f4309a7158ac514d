// Package apperr is the error taxonomy shared by the checkout, download and
// webhook flows. Every client-facing failure carries a Kind, which fixes
// the HTTP status, and a Code, which is the wire error string.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindCapacityExceeded
	KindAuthorizationDenied
	KindNotFound
	KindUpstream
	KindSignatureInvalid
	KindMisconfigured
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindCapacityExceeded:
		return "capacity_exceeded"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_failure"
	case KindSignatureInvalid:
		return "signature_invalid"
	case KindMisconfigured:
		return "misconfigured"
	default:
		return "internal"
	}
}

// Status maps a kind to its HTTP status.
func (k Kind) Status() int {
	switch k {
	case KindInvalidInput, KindSignatureInvalid:
		return http.StatusBadRequest
	case KindCapacityExceeded:
		return http.StatusConflict
	case KindAuthorizationDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Fields are extra response members, such
// as used/cap on a full track.
type Error struct {
	Kind   Kind
	Code   string
	Fields map[string]any
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return e.Code
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and code so sentinels work with errors.Is regardless
// of fields or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Code == e.Code
}

// With returns a copy carrying extra response fields.
func (e *Error) With(fields map[string]any) *Error {
	cp := *e
	cp.Fields = fields
	return &cp
}

// Wrap returns a copy carrying the underlying cause.
func (e *Error) Wrap(err error) *Error {
	cp := *e
	cp.Err = err
	return &cp
}

func newErr(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	ErrInvalidTrack     = newErr(KindInvalidInput, "invalid_track")
	ErrTrialEndInPast   = newErr(KindInvalidInput, "trial_end_in_past")
	ErrMissingSlug      = newErr(KindInvalidInput, "missing_slug")
	ErrMissingSessionID = newErr(KindInvalidInput, "missing_session_id")
	ErrInvalidSessionID = newErr(KindInvalidInput, "invalid_session_id")
	ErrBadRequest       = newErr(KindInvalidInput, "bad_request")
	ErrMissingFields    = newErr(KindInvalidInput, "missing_fields")
	ErrBadTrack         = newErr(KindInvalidInput, "bad_track")
	ErrCaptchaFailed    = newErr(KindInvalidInput, "captcha_failed")

	ErrTrackFull = newErr(KindCapacityExceeded, "track_full")

	ErrNotMember        = newErr(KindAuthorizationDenied, "not_member")
	ErrUnpaid           = newErr(KindAuthorizationDenied, "unpaid")
	ErrItemNotInSession = newErr(KindAuthorizationDenied, "item_not_in_session")

	ErrUnknownProduct   = newErr(KindNotFound, "unknown_product")
	ErrFileNotMapped    = newErr(KindNotFound, "file_not_mapped")
	ErrNotAGroupSession = newErr(KindNotFound, "not_a_group_session")

	ErrNoSignature      = newErr(KindSignatureInvalid, "no_signature")
	ErrInvalidSignature = newErr(KindSignatureInvalid, "invalid_signature")

	ErrUpstream     = newErr(KindUpstream, "upstream_error")
	ErrPriceMissing = newErr(KindMisconfigured, "price_missing")
	ErrSendFailed   = newErr(KindMisconfigured, "send_failed")
	ErrInternal     = newErr(KindInternal, "internal_error")
)

// TrackFull builds the capacity error with the observed usage.
func TrackFull(used, limit int) *Error {
	return ErrTrackFull.With(map[string]any{"used": used, "cap": limit})
}

// Upstream classifies a gateway or provider failure.
func Upstream(err error) *Error {
	return ErrUpstream.Wrap(err)
}

// From extracts the classified error, or reports an internal error for
// anything unclassified.
func From(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal.Wrap(err)
}
