package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies business rejections. Infrastructure failures never
// carry a kind.
type ErrorKind string

const (
	KindInvalidToken         ErrorKind = "INVALID_TOKEN"
	KindAlreadyResolved      ErrorKind = "ALREADY_RESOLVED"
	KindDuplicateResponse    ErrorKind = "DUPLICATE_RESPONSE"
	KindNoEligibleCandidates ErrorKind = "NO_ELIGIBLE_CANDIDATES"
	KindRoundLimitExceeded   ErrorKind = "ROUND_LIMIT_EXCEEDED"
	KindNotFound             ErrorKind = "NOT_FOUND"
	KindValidation           ErrorKind = "VALIDATION"
)

// Rejection is a business outcome returned to the caller instead of a result.
type Rejection struct {
	Kind   ErrorKind
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Detail)
}

// Is matches any rejection of the same kind, so errors.Is(err, ErrAlreadyResolved)
// holds regardless of the detail text.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Kind == r.Kind
}

func Reject(kind ErrorKind, format string, args ...any) *Rejection {
	return &Rejection{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

var (
	ErrInvalidToken         = &Rejection{Kind: KindInvalidToken}
	ErrAlreadyResolved      = &Rejection{Kind: KindAlreadyResolved}
	ErrDuplicateResponse    = &Rejection{Kind: KindDuplicateResponse}
	ErrNoEligibleCandidates = &Rejection{Kind: KindNoEligibleCandidates}
	ErrRoundLimitExceeded   = &Rejection{Kind: KindRoundLimitExceeded}
	ErrNotFound             = &Rejection{Kind: KindNotFound}
	ErrValidation           = &Rejection{Kind: KindValidation}
)

// KindOf extracts the rejection kind of err. ok is false for infrastructure
// errors.
func KindOf(err error) (ErrorKind, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Kind, true
	}
	return "", false
}
