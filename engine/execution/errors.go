package execution

import (
	"context"
	"errors"
	"strings"
)

// ErrorType classifies task failures for the surfaced error taxonomy.
type ErrorType string

const (
	ErrorTypeHTTP         ErrorType = "HttpError"
	ErrorTypeTimeout      ErrorType = "Timeout"
	ErrorTypeValidation   ErrorType = "Validation"
	ErrorTypeCancellation ErrorType = "Cancellation"
	ErrorTypeOther        ErrorType = "Other"
)

// TaskErrorInfo is the normalized task failure surfaced to clients.
type TaskErrorInfo struct {
	TaskID                            string    `json:"taskId"`
	TaskName                          string    `json:"taskName"`
	ErrorType                         ErrorType `json:"errorType"`
	ErrorMessage                      string    `json:"errorMessage"`
	ErrorCode                         string    `json:"errorCode,omitempty"`
	ServiceName                       string    `json:"serviceName,omitempty"`
	ServiceURL                        string    `json:"serviceUrl,omitempty"`
	HTTPMethod                        string    `json:"httpMethod,omitempty"`
	HTTPStatusCode                    int       `json:"httpStatusCode,omitempty"`
	ResponseBodyPreview               string    `json:"responseBodyPreview,omitempty"`
	RetryAttempts                     int       `json:"retryAttempts"`
	IsRetryable                       bool      `json:"isRetryable"`
	DurationUntilErrorMS              int64     `json:"durationUntilErrorMs"`
	Suggestion                        string    `json:"suggestion,omitempty"`
	SupportAction                     string    `json:"supportAction,omitempty"`
	ResponseCompliance                string    `json:"responseCompliance,omitempty"`
	ResponseComplianceScore           float64   `json:"responseComplianceScore,omitempty"`
	ResponseComplianceIssues          []string  `json:"responseComplianceIssues,omitempty"`
	ResponseComplianceRecommendations []string  `json:"responseComplianceRecommendations,omitempty"`
}

// ClassifyError maps an error to the surfaced taxonomy.
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ErrorTypeOther
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, context.Canceled):
		return ErrorTypeCancellation
	case strings.Contains(err.Error(), "timed out"):
		return ErrorTypeTimeout
	default:
		return ErrorTypeOther
	}
}

// IsRetryableType reports whether retries are worthwhile for the error kind.
func IsRetryableType(t ErrorType) bool {
	switch t {
	case ErrorTypeHTTP, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}
