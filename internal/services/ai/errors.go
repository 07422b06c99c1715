package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/benvon/tagmatch/internal/models"
)

var (
	// ErrRateLimited indicates the API rate limit was exceeded
	ErrRateLimited = errors.New("rate limited")
	// ErrQuotaExceeded indicates the API quota was exceeded
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrClassificationFailed is matched by every *ClassificationFailedError
	ErrClassificationFailed = errors.New("classification failed")
	// ErrInvalidResponseShape means the oracle answer had no tags array
	ErrInvalidResponseShape = errors.New("invalid response shape: tags missing or not an array")
	// ErrEmptyTaxonomy means the tagger was built without any tags to offer
	ErrEmptyTaxonomy = errors.New("empty taxonomy")
	// ErrEmptyResponse means the oracle returned no content
	ErrEmptyResponse = errors.New("empty response from oracle")
	// ErrOracleUnavailable means the circuit breaker is rejecting calls
	ErrOracleUnavailable = errors.New("oracle unavailable")
)

// ClassificationFailedError wraps the cause of a failed classification
type ClassificationFailedError struct {
	Mode  models.ClassificationMode
	Cause error
}

func (e *ClassificationFailedError) Error() string {
	return fmt.Sprintf("%s classification failed: %v", e.Mode, e.Cause)
}

// Unwrap exposes the cause
func (e *ClassificationFailedError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrClassificationFailed) true
func (e *ClassificationFailedError) Is(target error) bool {
	return target == ErrClassificationFailed
}

func classificationFailed(mode models.ClassificationMode, cause error) error {
	return &ClassificationFailedError{Mode: mode, Cause: cause}
}

// APIError represents an error from the AI provider API
type APIError struct {
	Message     string
	Type        string
	Code        string
	StatusCode  int
	RetryAfter  *time.Duration
	IsPermanent bool // true for quota errors, false for rate limits
	Cause       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d, type %s): %s", e.StatusCode, e.Type, e.Message)
}

// Unwrap exposes the provider error
func (e *APIError) Unwrap() error { return e.Cause }

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests && !apiErr.IsPermanent
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests")
}

// IsQuotaError checks if an error is a quota exhaustion error
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsPermanent || apiErr.Code == "insufficient_quota"
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "insufficient_quota") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "billing")
}

// ExtractAPIError extracts API error details from an error. Typed provider errors
// are converted by the adapters; this handles errors that only carry a message.
func ExtractAPIError(err error) *APIError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "429") {
		return nil
	}

	apiErr = &APIError{
		StatusCode: http.StatusTooManyRequests,
		Message:    errStr,
		Type:       "rate_limit_error",
		Cause:      err,
	}

	// Provider errors often embed the JSON body in the message
	if jsonStart := strings.Index(errStr, "{"); jsonStart != -1 {
		jsonStr := errStr[jsonStart:]
		if jsonEnd := strings.LastIndex(jsonStr, "}"); jsonEnd != -1 {
			jsonStr = jsonStr[:jsonEnd+1]
			var errorData struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    string `json:"code"`
			}
			if json.Unmarshal([]byte(jsonStr), &errorData) == nil {
				apiErr.Message = errorData.Message
				apiErr.Type = errorData.Type
				apiErr.Code = errorData.Code
				if errorData.Code == "insufficient_quota" {
					apiErr.IsPermanent = true
				}
			}
		}
	}

	return apiErr
}

// newStatusError builds an APIError from a provider status code and headers.
func newStatusError(status int, code, typ, message string, header http.Header, cause error) *APIError {
	apiErr := &APIError{
		Message:    message,
		Type:       typ,
		Code:       code,
		StatusCode: status,
		Cause:      cause,
	}
	if code == "insufficient_quota" || strings.EqualFold(typ, "insufficient_quota") {
		apiErr.IsPermanent = true
	}
	if d, ok := parseRetryAfter(header); ok {
		apiErr.RetryAfter = &d
	}
	return apiErr
}

// parseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
func parseRetryAfter(header http.Header) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	v := header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil && secs >= 0 {
		return secs, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// GetRetryDelay calculates how long a failed analysis job waits before it is requeued.
func GetRetryDelay(err error, attempt int) time.Duration {
	shift := clampShift(attempt)

	if IsQuotaError(err) {
		// Quota errors: exponential backoff starting at 1 hour
		delay := time.Hour * time.Duration(1<<shift)
		if delay > 24*time.Hour {
			delay = 24 * time.Hour
		}
		return delay
	}

	if IsRateLimitError(err) {
		// Rate limit errors: exponential backoff starting at 60 seconds
		delay := 60 * time.Second * time.Duration(1<<shift)
		if delay > 15*time.Minute {
			delay = 15 * time.Minute
		}
		if apiErr := ExtractAPIError(err); apiErr != nil && apiErr.RetryAfter != nil {
			if *apiErr.RetryAfter > delay {
				delay = *apiErr.RetryAfter
			}
		}
		return delay
	}

	// Default: exponential backoff starting at 5 seconds
	delay := 5 * time.Second * time.Duration(1<<shift)
	if delay > 5*time.Minute {
		delay = 5 * time.Minute
	}
	return delay
}

// BackoffDelay is the in-call retry delay: base doubled per attempt, capped at
// maxDelay, raised to the provider's Retry-After when that is longer (still capped).
func BackoffDelay(err error, attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if maxDelay < base {
		maxDelay = base
	}
	delay := base * time.Duration(1<<clampShift(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	if apiErr := ExtractAPIError(err); apiErr != nil && apiErr.RetryAfter != nil && *apiErr.RetryAfter > delay {
		delay = *apiErr.RetryAfter
		if delay > maxDelay {
			delay = maxDelay
		}
	}
	return delay
}

// clampShift keeps the exponent in [0, 10] so the shift cannot overflow.
func clampShift(attempt int) uint {
	switch {
	case attempt < 0:
		return 0
	case attempt > 10:
		return 10
	default:
		return uint(attempt)
	}
}
