package verifier

import (
	"errors"
	"net/http"

	"chatembed/internal/identity"
	"chatembed/pkg/origin"
	"chatembed/pkg/tenants"
	"chatembed/pkg/token"
)

var (
	ErrMalformedToken       = token.ErrMalformed
	ErrUnknownTenant        = tenants.ErrUnknownTenant
	ErrInvalidSignature     = errors.New("invalid token signature")
	ErrExpired              = errors.New("token expired")
	ErrOriginUndeterminable = origin.ErrUndeterminable
	ErrOriginNotAllowed     = errors.New("origin not allowed")
	ErrProvisioningFailed   = identity.ErrProvisioningFailed
)

// ErrorKind is the public name of a rejection. Malformed and forged tokens
// share token_invalid so callers cannot tell which check failed.
type ErrorKind string

const (
	KindTokenInvalid         ErrorKind = "token_invalid"
	KindTokenExpired         ErrorKind = "token_expired"
	KindUnknownTenant        ErrorKind = "unknown_tenant"
	KindOriginUndeterminable ErrorKind = "origin_undeterminable"
	KindOriginNotAllowed     ErrorKind = "origin_not_allowed"
	KindInternal             ErrorKind = "internal_error"
)

// Kind classifies a Verify error.
func Kind(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrMalformedToken), errors.Is(err, ErrInvalidSignature):
		return KindTokenInvalid
	case errors.Is(err, ErrExpired):
		return KindTokenExpired
	case errors.Is(err, ErrUnknownTenant):
		return KindUnknownTenant
	case errors.Is(err, ErrOriginUndeterminable):
		return KindOriginUndeterminable
	case errors.Is(err, ErrOriginNotAllowed):
		return KindOriginNotAllowed
	}
	return KindInternal
}

func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindTokenInvalid, KindTokenExpired:
		return http.StatusUnauthorized
	case KindUnknownTenant:
		return http.StatusBadRequest
	case KindOriginUndeterminable, KindOriginNotAllowed:
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// Detail is the caller-facing message for k.
func (k ErrorKind) Detail() string {
	switch k {
	case KindTokenInvalid:
		return "token invalid"
	case KindTokenExpired:
		return "token expired"
	case KindUnknownTenant:
		return "unknown application"
	case KindOriginUndeterminable:
		return "host origin could not be determined"
	case KindOriginNotAllowed:
		return "origin not authorized"
	}
	return "verification failed"
}
