package errors

// General codes.
const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeAlreadyCompleted      Code = "ALREADY_COMPLETED"
	CodeRetriesExhausted      Code = "RETRIES_EXHAUSTED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeQueueFailure          Code = "QUEUE_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Escrow and session key codes.
const (
	CodeUnsupportedChain     Code = "UNSUPPORTED_CHAIN"
	CodeUnregisteredToken    Code = "UNREGISTERED_TOKEN"
	CodeEmptyTokenSet        Code = "EMPTY_TOKEN_SET"
	CodePolicyViolation      Code = "POLICY_VIOLATION"
	CodePreconditionNotMet   Code = "PRECONDITION_NOT_MET"
	CodeInvalidCredential    Code = "INVALID_CREDENTIAL"
	CodeVerificationMismatch Code = "VERIFICATION_MISMATCH"
	CodeNetworkError         Code = "NETWORK_ERROR"
	CodeReverted             Code = "REVERTED"
)

// Codes passed through from the backend API.
const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodePaymentRequired Code = "PAYMENT_REQUIRED"
	CodeValidation      Code = "VALIDATION"
	CodeRateLimited     Code = "RATE_LIMITED"
)

var builtinCodes = map[Code]Attributes{
	CodeUnknown:               {Message: "unknown error", Severity: SeverityCritical, Alert: true},
	CodeInvalidArgument:       {Message: "invalid argument", Severity: SeverityInfo},
	CodeNotFound:              {Message: "resource not found", Severity: SeverityInfo},
	CodeConflict:              {Message: "resource conflict", Severity: SeverityWarning},
	CodeAlreadyCompleted:      {Message: "resource already completed", Severity: SeverityInfo},
	CodeRetriesExhausted:      {Message: "retries exhausted", Severity: SeverityWarning, Alert: true},
	CodeInitializationFailure: {Message: "service not initialized", Severity: SeverityWarning, Retryable: true, Alert: true},
	CodeStorageFailure:        {Message: "storage failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeQueueFailure:          {Message: "queue failure", Severity: SeverityCritical, Retryable: true, Alert: true},
	CodeTimeout:               {Message: "operation timed out", Severity: SeverityWarning, Retryable: true, Alert: true},

	CodeUnsupportedChain:     {Message: "chain not supported", Severity: SeverityInfo},
	CodeUnregisteredToken:    {Message: "token not registered for chain", Severity: SeverityInfo},
	CodeEmptyTokenSet:        {Message: "no tokens resolved for policy", Severity: SeverityInfo},
	CodePolicyViolation:      {Message: "call outside capability policy", Severity: SeverityWarning, Alert: true},
	CodePreconditionNotMet:   {Message: "precondition not met", Severity: SeverityInfo},
	CodeInvalidCredential:    {Message: "invalid capability credential", Severity: SeverityWarning},
	CodeVerificationMismatch: {Message: "on-chain verification mismatch", Severity: SeverityCritical, Alert: true},
	CodeNetworkError:         {Message: "network error", Severity: SeverityWarning, Retryable: true},
	CodeReverted:             {Message: "operation rejected or reverted on-chain", Severity: SeverityWarning, Alert: true},

	CodeUnauthenticated: {Message: "authentication failed", Severity: SeverityWarning},
	CodeForbidden:       {Message: "forbidden", Severity: SeverityWarning},
	CodePaymentRequired: {Message: "payment required", Severity: SeverityInfo},
	CodeValidation:      {Message: "validation failed", Severity: SeverityInfo},
	CodeRateLimited:     {Message: "rate limited", Severity: SeverityInfo, Retryable: true},
}
