package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Classification determines whether an operation failure is worth retrying
type Classification string

const (
	ClassificationTransient Classification = "transient"
	ClassificationPermanent Classification = "permanent"
	ClassificationUnknown   Classification = "unknown"
)

// transientCategories are fault categories that are always worth retrying,
// regardless of any attached code.
var transientCategories = map[Category]bool{
	CategoryNetwork:   true,
	CategoryTimeout:   true,
	CategoryRateLimit: true,
	CategoryServer:    true,
}

// Classifier categorizes operation failures as transient or permanent.
// Unrecognized errors classify as permanent to avoid unbounded retry loops
// on faults nobody has looked at yet.
type Classifier struct {
	transientCodes map[int]bool
	permanentCodes map[int]bool
}

// NewClassifier creates a classifier with the default code sets
func NewClassifier() *Classifier {
	return &Classifier{
		transientCodes: map[int]bool{
			408: true, // request timeout
			429: true, // rate limited
			500: true,
			502: true, // bad gateway
			503: true, // temporarily unavailable
			504: true, // gateway timeout
		},
		permanentCodes: map[int]bool{
			400: true, // bad request
			401: true, // unauthorized
			403: true,
			404: true, // not found
			422: true,
		},
	}
}

// WithCodes returns a classifier using the given code sets. The two sets
// must be disjoint; transient wins on overlap.
func (c *Classifier) WithCodes(transient, permanent []int) *Classifier {
	nc := &Classifier{
		transientCodes: make(map[int]bool, len(transient)),
		permanentCodes: make(map[int]bool, len(permanent)),
	}
	for _, code := range transient {
		nc.transientCodes[code] = true
	}
	for _, code := range permanent {
		if !nc.transientCodes[code] {
			nc.permanentCodes[code] = true
		}
	}
	return nc
}

// Classify determines whether an error is worth retrying. Category is
// consulted first, then the error code against the configured sets. Errors
// matching neither set classify as permanent.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return ClassificationUnknown
	}

	// Context cancellation is the caller giving up, never retryable.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassificationPermanent
	}

	var opErr *Error
	if errors.As(err, &opErr) {
		if transientCategories[opErr.Category] {
			return ClassificationTransient
		}
		if c.transientCodes[opErr.Code] {
			return ClassificationTransient
		}
		if c.permanentCodes[opErr.Code] {
			return ClassificationPermanent
		}
		return ClassificationPermanent
	}

	// Raw network failures from the standard library are transient.
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassificationTransient
	}

	return ClassificationPermanent
}

// IsRetryable reports whether the classifier considers the error transient
func (c *Classifier) IsRetryable(err error) bool {
	return c.Classify(err) == ClassificationTransient
}

// FormatMessage renders a short actionable message for a classified error,
// mapping recognized codes to a suggested remediation.
func (c *Classifier) FormatMessage(err error, context string) string {
	if err == nil {
		return ""
	}

	var opErr *Error
	if !errors.As(err, &opErr) {
		return fmt.Sprintf("%s: %v", context, err)
	}

	var hint string
	switch {
	case opErr.Code == 401 || opErr.Code == 403 || opErr.Category == CategoryAuth:
		hint = "check credentials"
	case opErr.Code == 429 || opErr.Category == CategoryRateLimit:
		hint = "rate limited, retry later"
	case opErr.Code == 404 || opErr.Category == CategoryNotFound:
		hint = "resource does not exist, verify the key"
	case opErr.Code >= 500 || opErr.Category == CategoryServer:
		hint = "upstream failure, retry later"
	case opErr.Category == CategoryNetwork || opErr.Category == CategoryTimeout:
		hint = "check connectivity"
	default:
		hint = "not retryable"
	}

	return fmt.Sprintf("%s: %s (%s)", context, opErr.Message, hint)
}
