package scireview

import "errors"

// ErrorKind is the closed taxonomy of error kinds the pipeline can
// surface. Callers branch on this instead of string-matching error text.
type ErrorKind string

const (
	KindInvalidInput          ErrorKind = "invalid_input"
	KindTransientLLM          ErrorKind = "transient_llm_error"
	KindLLMContractViolation  ErrorKind = "llm_contract_violation"
	KindEvidenceAuditFailure  ErrorKind = "evidence_audit_failure"
	KindValidatorFailure      ErrorKind = "validator_failure"
	KindCacheCorruption       ErrorKind = "cache_corruption"
	KindConfigurationError    ErrorKind = "configuration_error"
)

var (
	// ErrInvalidInput is returned for a nil document or one with no text.
	ErrInvalidInput = errors.New("scireview: invalid input")

	// ErrTransientLLM marks a timeout, 5xx, or rate-limit response from the
	// LLM transport. The transport retries these in place; the executor
	// only sees it once retries are exhausted.
	ErrTransientLLM = errors.New("scireview: transient LLM error")

	// ErrLLMContractViolation is returned when a structured-output response
	// does not parse against the requested schema.
	ErrLLMContractViolation = errors.New("scireview: LLM response violated structured output contract")

	// ErrEvidenceAudit is returned when a required evidence quote fails the
	// fuzzy-match check against source context.
	ErrEvidenceAudit = errors.New("scireview: evidence quote failed verification")

	// ErrValidatorUnavailable is returned when the validator's LLM call
	// itself fails (as opposed to the extraction failing validation).
	ErrValidatorUnavailable = errors.New("scireview: validator unreachable")

	// ErrCacheCorruption is returned when a cached value cannot be
	// deserialized. The executor treats a failed lookup as a miss; the
	// stored entry is not evicted.
	ErrCacheCorruption = errors.New("scireview: cache entry corrupted")

	// ErrInvalidConfig is returned for invalid or incomplete configuration.
	ErrInvalidConfig = errors.New("scireview: invalid configuration")
)

// PipelineError wraps an underlying error with its closed-taxonomy kind so
// callers can branch without string matching, while errors.Is/errors.As
// still see through to the wrapped sentinel.
type PipelineError struct {
	Kind ErrorKind
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *PipelineError) Unwrap() error { return e.Err }

func newPipelineError(kind ErrorKind, err error) *PipelineError {
	return &PipelineError{Kind: kind, Err: err}
}
