package model

// ErrorKind is the closed failure taxonomy shared by the classifier and the tier chain.
type ErrorKind string

const (
	KindPermanentSource     ErrorKind = "permanent_source"
	KindPermanentCredential ErrorKind = "permanent_credential"
	KindRateLimited         ErrorKind = "retryable_rate_limited"
	KindNetwork             ErrorKind = "retryable_network"
	KindQuotaExhausted      ErrorKind = "quota_exhausted"
	KindNotFoundOnTier      ErrorKind = "not_found_on_tier"

	// Raised by the orchestrator, never by a tier.
	KindInternalFault ErrorKind = "internal_fault"
	KindOutputError   ErrorKind = "output_error"
)

// IsTransient reports whether a later retry of the same work could plausibly succeed.
func (k ErrorKind) IsTransient() bool {
	return k == KindRateLimited || k == KindNetwork
}

func (k ErrorKind) String() string {
	return string(k)
}
