package models

// Requests and responses for the sandbox HTTP endpoints. Defined in domain
// for consistency and reuse.

type ValidateLambdaRequest struct {
	Code string `json:"code" validate:"required"`
}

type ValidateLambdaResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type ApplyLambdaRequest struct {
	Code    string         `json:"code" validate:"required"`
	Signals []SignalRecord `json:"signals"`
}

// ApplyLambdaFailure is the body of a failed apply call. The transformed
// batch is always withheld on failure; the trace is not.
type ApplyLambdaFailure struct {
	Trace []TraceEntry `json:"trace"`
	Error string       `json:"error"`
}

// ErrorBody is the minimal error shape used for unavailable and internal
// failures.
type ErrorBody struct {
	Error string `json:"error"`
}
