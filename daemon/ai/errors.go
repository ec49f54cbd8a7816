package ai

// ErrorClass is the provider-error taxonomy the client's retry loop
// dispatches on.
type ErrorClass string

const (
	ClassAuth           ErrorClass = "auth"
	ClassRateLimit      ErrorClass = "rate_limit"
	ClassInvalidRequest ErrorClass = "invalid_request"
	ClassServerError    ErrorClass = "server_error"
	ClassTimeout        ErrorClass = "timeout"
	ClassNetwork        ErrorClass = "network"
	ClassUnknown        ErrorClass = "unknown"
)

// retryableClasses lists classes the retry loop will attempt again;
// auth is handled specially (key rotation, not a same-key retry).
var retryableClasses = map[ErrorClass]bool{
	ClassRateLimit:   true,
	ClassServerError: true,
	ClassTimeout:     true,
	ClassNetwork:     true,
}

// Retryable reports whether class warrants another attempt at all (auth
// still triggers a key rotation even though it is not "retryable" in the
// same-key sense; see Client.Generate).
func (c ErrorClass) Retryable() bool { return retryableClasses[c] || c == ClassAuth }

// ClassifyHTTPStatus maps a provider's HTTP status code to an ErrorClass,
// the boundary classificationbefore any retry
// decision is made.
func ClassifyHTTPStatus(status int) ErrorClass {
	switch {
	case status == 401 || status == 403:
		return ClassAuth
	case status == 429:
		return ClassRateLimit
	case status == 400 || status == 422:
		return ClassInvalidRequest
	case status == 408:
		return ClassTimeout
	case status >= 500:
		return ClassServerError
	default:
		return ClassUnknown
	}
}
