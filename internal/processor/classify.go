package processor

import (
	"strings"

	"github.com/mbd888/payroute/internal/registry"
)

// permanentCodes mean the processor cannot take payments until an operator
// restores it.
var permanentCodes = map[string]bool{
	CodeAccountFrozen:          true,
	"account_closed":           true,
	"account_invalid":          true,
	"merchant_blocked":         true,
	"platform_api_key_expired": true,
	"api_key_expired":          true,
}

var declineCodes = map[string]bool{
	CodeDeclined:                            true,
	CodeInsufficient:                        true,
	"do_not_honor":                          true,
	"expired_card":                          true,
	"incorrect_cvc":                         true,
	"fraudulent":                            true,
	"generic_decline":                       true,
	"payment_intent_authentication_failure": true,
}

// Classify maps a failed result to the registry's failure taxonomy and says
// whether the processor should be frozen.
func Classify(r Result) (kind registry.FailureKind, permanent bool) {
	if r.Status == StatusTimeout {
		return registry.FailureTimeout, false
	}
	code := strings.ToLower(r.ErrorCode)
	switch {
	case permanentCodes[code]:
		return registry.FailureAccountFrozen, true
	case declineCodes[code]:
		return registry.FailureDeclined, false
	case code == CodeRateLimited || code == "rate_limit":
		return registry.FailureRateLimited, false
	case code == CodeNetwork:
		return registry.FailureNetwork, false
	case code == CodeTimeout:
		return registry.FailureTimeout, false
	case code == CodeProcessor || code == "api_error" || strings.HasPrefix(code, "http_5"):
		return registry.FailureProcessor, false
	}
	return registry.FailureUnknown, false
}
