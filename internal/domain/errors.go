package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrEmptyResponse is returned when the inference API answers without any candidate text
	ErrEmptyResponse = errors.New("inference API returned no text")

	// ErrUpstreamTimeout is returned when a single inference attempt exceeds its deadline
	ErrUpstreamTimeout = errors.New("inference API request timed out")

	// ErrInferenceAPIFailure is returned when the inference API request fails
	ErrInferenceAPIFailure = errors.New("inference API request failed")

	// ErrUpstreamThrottled is returned when the client-side limiter refuses a call
	// that could not be admitted before the attempt deadline
	ErrUpstreamThrottled = errors.New("inference API request throttled")
)

// ErrorCode is the machine-readable error returned to API callers.
type ErrorCode string

const (
	CodeNoImage           ErrorCode = "NO_IMAGE"           // 400
	CodeTooManyImages     ErrorCode = "TOO_MANY_IMAGES"    // 400
	CodeInvalidResponse   ErrorCode = "INVALID_RESPONSE"   // 400
	CodeProcessingFailed  ErrorCode = "PROCESSING_FAILED"  // 400
	CodeAnalysisFailed    ErrorCode = "ANALYSIS_FAILED"    // 400
	CodeInvalidAPIKey     ErrorCode = "INVALID_API_KEY"    // 401
	CodeImageTooLarge     ErrorCode = "IMAGE_TOO_LARGE"    // 413
	CodeRateLimit         ErrorCode = "RATE_LIMIT"         // 429
	CodeGeminiUnavailable ErrorCode = "GEMINI_UNAVAILABLE" // 500
	CodeGeminiUnstable    ErrorCode = "GEMINI_UNSTABLE"    // 500
	CodeServerError       ErrorCode = "SERVER_ERROR"       // 500
)

const (
	RateLimitDetail      = "Too many requests; wait 60s"
	UnavailableDetail    = "Check GOOGLE_API_KEY in .env"
	UnstableDetail       = "Model temporarily unavailable; try again"
	DefaultServerMessage = "internal error"
)

// EstimateError is a classified failure of the estimate pipeline. Status is
// the HTTP status the gateway answers with; Detail is optional.
type EstimateError struct {
	Code   ErrorCode
	Status int
	Detail string
	Err    error
}

func (e *EstimateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Detail)
	}
	return string(e.Code)
}

func (e *EstimateError) Unwrap() error {
	return e.Err
}

// NewNoImage creates a 400 error for a request without an uploaded image.
func NewNoImage() *EstimateError {
	return &EstimateError{Code: CodeNoImage, Status: http.StatusBadRequest}
}

// NewTooManyImages creates a 400 error for a request carrying more than one image part.
func NewTooManyImages(count int) *EstimateError {
	return &EstimateError{
		Code:   CodeTooManyImages,
		Status: http.StatusBadRequest,
		Detail: fmt.Sprintf("expected exactly one image, got %d", count),
	}
}

// NewImageTooLarge creates a 413 error for an upload above the size limit.
func NewImageTooLarge(maxBytes int64) *EstimateError {
	return &EstimateError{
		Code:   CodeImageTooLarge,
		Status: http.StatusRequestEntityTooLarge,
		Detail: fmt.Sprintf("image exceeds %d bytes", maxBytes),
	}
}

// NewInvalidResponse creates a 400 error for model output without usable items.
func NewInvalidResponse() *EstimateError {
	return &EstimateError{Code: CodeInvalidResponse, Status: http.StatusBadRequest}
}

// NewProcessingFailed creates a 400 error for a failure while normalizing model output.
func NewProcessingFailed(err error) *EstimateError {
	return &EstimateError{Code: CodeProcessingFailed, Status: http.StatusBadRequest, Err: err}
}

// NewAnalysisFailed creates a 400 error for an analysis that produced nothing to return.
func NewAnalysisFailed(err error) *EstimateError {
	return &EstimateError{Code: CodeAnalysisFailed, Status: http.StatusBadRequest, Err: err}
}

// NewInvalidAPIKey creates a 401 error for an upstream authentication failure.
func NewInvalidAPIKey(err error) *EstimateError {
	return &EstimateError{Code: CodeInvalidAPIKey, Status: http.StatusUnauthorized, Err: err}
}

// NewRateLimit creates a 429 error with the fixed backoff hint.
func NewRateLimit(err error) *EstimateError {
	return &EstimateError{
		Code:   CodeRateLimit,
		Status: http.StatusTooManyRequests,
		Detail: RateLimitDetail,
		Err:    err,
	}
}

// NewGeminiUnavailable creates a 500 error for a process started without a credential.
func NewGeminiUnavailable() *EstimateError {
	return &EstimateError{
		Code:   CodeGeminiUnavailable,
		Status: http.StatusInternalServerError,
		Detail: UnavailableDetail,
	}
}

// NewGeminiUnstable creates a 500 error for a transient upstream fault that survived every retry.
func NewGeminiUnstable(err error) *EstimateError {
	return &EstimateError{
		Code:   CodeGeminiUnstable,
		Status: http.StatusInternalServerError,
		Detail: UnstableDetail,
		Err:    err,
	}
}

// NewServerError creates a 500 catch-all carrying the underlying message.
func NewServerError(err error) *EstimateError {
	detail := DefaultServerMessage
	if err != nil {
		detail = err.Error()
	}
	return &EstimateError{
		Code:   CodeServerError,
		Status: http.StatusInternalServerError,
		Detail: detail,
		Err:    err,
	}
}

// AsEstimateError unwraps err into an *EstimateError if it is one.
func AsEstimateError(err error) (*EstimateError, bool) {
	var estErr *EstimateError
	if errors.As(err, &estErr) {
		return estErr, true
	}
	return nil, false
}

// IsCode checks if err is an EstimateError with the given code.
func IsCode(err error, code ErrorCode) bool {
	estErr, ok := AsEstimateError(err)
	return ok && estErr.Code == code
}

// UpstreamError describes a non-2xx answer from the inference API.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%v: status %d: %s", ErrInferenceAPIFailure, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%v: status %d", ErrInferenceAPIFailure, e.StatusCode)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInferenceAPIFailure}
	}
	return []error{ErrInferenceAPIFailure, e.Err}
}
