package processor

import (
	"errors"
	"fmt"
	"net/http"

	stripelib "github.com/stripe/stripe-go/v82"
)

// Error is a typed outbound-call failure. Retryable separates transient
// infrastructure errors (timeouts, 5xx, rate limits) from definitive declines
// so callers can respond differently.
type Error struct {
	Op          string
	Code        string
	DeclineCode string
	Message     string
	Retryable   bool
	cause       error
}

func (e *Error) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("%s: declined (%s/%s): %s", e.Op, e.Code, e.DeclineCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Declined reports whether the failure is a definitive payment decline rather
// than an infrastructure problem.
func (e *Error) Declined() bool {
	return !e.Retryable && (e.DeclineCode != "" || e.Code == string(stripelib.ErrorCodeCardDeclined))
}

// wrapErr converts any stripe-go failure into *Error. Non-API failures
// (network, context deadline) are treated as retryable.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		retryable := stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
		return &Error{
			Op:          op,
			Code:        string(stripeErr.Code),
			DeclineCode: string(stripeErr.DeclineCode),
			Message:     stripeErr.Msg,
			Retryable:   retryable,
			cause:       err,
		}
	}
	return &Error{
		Op:        op,
		Code:      "transport",
		Message:   err.Error(),
		Retryable: true,
		cause:     err,
	}
}
