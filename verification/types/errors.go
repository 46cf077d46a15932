package types

// ErrorKind groups validation errors.
type ErrorKind int

const (
	// KindDecoding is used for truncated, oversized, or otherwise undecodable input.
	KindDecoding ErrorKind = iota + 1
	// KindPolicy is used for well-formed input this verifier does not accept.
	KindPolicy
	// KindCryptographic is used for invalid certificate chains, signatures, and hashes.
	KindCryptographic
	// KindSemantic is used for collateral that does not match its schema.
	KindSemantic
)

func (k ErrorKind) String() string {
	switch k {
	case KindDecoding:
		return "decoding"
	case KindPolicy:
		return "policy"
	case KindCryptographic:
		return "cryptographic"
	case KindSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// ValidationError is returned when an attestation or collateral is rejected.
// Error returns a short, stable tag suitable for reporting to callers that cannot
// handle wrapped errors. The underlying cause, if any, is available through Unwrap.
type ValidationError struct {
	Kind ErrorKind
	Tag  string
	Err  error
}

func newValidationError(kind ErrorKind, tag string) *ValidationError {
	return &ValidationError{Kind: kind, Tag: tag}
}

func (e *ValidationError) Error() string {
	return e.Tag
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ValidationError with the same tag.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	return ok && t.Tag == e.Tag
}

// Wrap returns a copy of e with err as its cause.
func (e *ValidationError) Wrap(err error) *ValidationError {
	return &ValidationError{Kind: e.Kind, Tag: e.Tag, Err: err}
}

// Decoding errors.
var (
	ErrDecodeReport       = newValidationError(KindDecoding, "Failed to decode attestation report")
	ErrTrailingBytes      = newValidationError(KindDecoding, "There should be no bytes left over after decoding")
	ErrBadDER             = newValidationError(KindDecoding, "Bad der")
	ErrNetscapeComment    = newValidationError(KindDecoding, "Failed to parse netscape comment")
	ErrReportParsing      = newValidationError(KindDecoding, "RA report parsing error")
	ErrMissingTimestamp   = newValidationError(KindDecoding, "Failed to fetch timestamp from attestation report")
	ErrTimestampParsing   = newValidationError(KindDecoding, "RA report timestamp parsing error")
	ErrTimestampRange     = newValidationError(KindDecoding, "Error converting report.timestamp to u64")
	ErrMissingQuoteStatus = newValidationError(KindDecoding, "Failed to fetch isvEnclaveQuoteStatus from attestation report")
	ErrMissingQuoteBody   = newValidationError(KindDecoding, "Failed to parse isvEnclaveQuoteBody from attestation report")
	ErrQuoteBodyDecoding  = newValidationError(KindDecoding, "Quote Decoding Error")
	ErrQuoteDecoding      = newValidationError(KindDecoding, "could not decode quote")
)

// Policy errors.
var (
	ErrUnsupportedVersion  = newValidationError(KindPolicy, "Only support for version 3")
	ErrUnsupportedKeyType  = newValidationError(KindPolicy, "Only support for ECDSA-256")
	ErrUnsupportedCertData = newValidationError(KindPolicy, "Only support for PEM formatted PCK Cert Chain")
	ErrQEMRSignerMismatch  = newValidationError(KindPolicy, "mrenclave values for quoting enclave don't match")
	ErrCertChainLength     = newValidationError(KindPolicy, "Certificate chain must have 3 certificates")
	ErrQEAuthDataSize      = newValidationError(KindPolicy, "QE authentication data must be 32 bytes")
)

// Cryptographic errors.
var (
	ErrParseLeafCert    = newValidationError(KindCryptographic, "Failed to parse leaf certificate")
	ErrInvalidCertChain = newValidationError(KindCryptographic, "Invalid certificate chain")
	ErrHashMismatch     = newValidationError(KindCryptographic, "Hashes must match")
	ErrReportSignature  = newValidationError(KindCryptographic, "Failed to verify report signature")
	ErrBadSignature     = newValidationError(KindCryptographic, "bad signature")
	ErrCAVerification   = newValidationError(KindCryptographic, "CA verification failed")
)

// Semantic errors.
var (
	ErrDeserialization   = newValidationError(KindSemantic, "Deserialization failed")
	ErrInvalidCollateral = newValidationError(KindSemantic, "Collateral is not valid")
)
