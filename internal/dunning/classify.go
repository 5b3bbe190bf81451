// Package dunning classifies recurring charge failures and records their
// history for donor notification.
package dunning

import "strings"

// Classification describes one decline/error code in the SEPA/card taxonomy.
// Fatal codes mean the payment method itself is unusable and the donor must
// replace it; non-fatal codes resolve on the processor's own retry schedule.
type Classification struct {
	Cause    string // human-readable cause, used in notifications and reports
	Template string // notification template identifier
	Fatal    bool
}

// Templates for dunning notifications.
const (
	TemplatePaymentRetry   = "recurring-payment-retry"
	TemplateReplaceMethod  = "recurring-payment-replace-method"
	TemplateGenericFailure = "recurring-payment-failed"
)

// classifications maps processor decline/error codes to their handling.
// Bank-debit (SEPA) codes and card codes share the table; lookup falls back
// from decline code to error code.
var classifications = map[string]Classification{
	// Non-fatal: processor retries on its own schedule.
	"insufficient_funds":          {Cause: "insufficient funds", Template: TemplatePaymentRetry, Fatal: false},
	"processing_error":            {Cause: "temporary processing error", Template: TemplatePaymentRetry, Fatal: false},
	"debit_disputed":              {Cause: "debit disputed by account holder", Template: TemplatePaymentRetry, Fatal: false},
	"charge_exceeds_source_limit": {Cause: "processing limit exceeded", Template: TemplatePaymentRetry, Fatal: false},
	"try_again_later":             {Cause: "temporary bank refusal", Template: TemplatePaymentRetry, Fatal: false},

	// Fatal: the payment method is unusable, the donor must replace it.
	"account_closed":           {Cause: "bank account closed", Template: TemplateReplaceMethod, Fatal: true},
	"bank_account_restricted":  {Cause: "bank account restricted", Template: TemplateReplaceMethod, Fatal: true},
	"debit_not_authorized":     {Cause: "debit not authorized by account holder", Template: TemplateReplaceMethod, Fatal: true},
	"invalid_account_number":   {Cause: "invalid account number", Template: TemplateReplaceMethod, Fatal: true},
	"incorrect_account_holder": {Cause: "incorrect account holder details", Template: TemplateReplaceMethod, Fatal: true},
	"expired_card":             {Cause: "card expired", Template: TemplateReplaceMethod, Fatal: true},
	"stolen_card":              {Cause: "card reported stolen", Template: TemplateReplaceMethod, Fatal: true},
	"lost_card":                {Cause: "card reported lost", Template: TemplateReplaceMethod, Fatal: true},
}

// Classify resolves a failure's handling from its decline code, falling back
// to the error code, then to a generic non-fatal classification. Unknown
// codes never cancel anything.
func Classify(code, declineCode string) Classification {
	if c, ok := classifications[strings.TrimSpace(declineCode)]; ok {
		return c
	}
	if c, ok := classifications[strings.TrimSpace(code)]; ok {
		return c
	}
	return Classification{Cause: "payment failed", Template: TemplateGenericFailure, Fatal: false}
}
