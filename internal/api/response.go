package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cloo-solutions/supportdesk/internal/domain"
)

// SuccessResponse wraps successful API responses
type SuccessResponse struct {
	Data interface{} `json:"data"`
}

// ErrorResponse is the error body. Dependency and UpstreamStatus are set for
// failures of an external service so callers can tell a transient outage
// from a misconfiguration.
type ErrorResponse struct {
	Error          string `json:"error"`
	Code           string `json:"code,omitempty"`
	Dependency     string `json:"dependency,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
}

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// Success writes a successful JSON response
func Success(w http.ResponseWriter, status int, data interface{}) {
	JSON(w, status, SuccessResponse{Data: data})
}

// Error writes an error JSON response
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

// DomainErrorToHTTP maps domain errors to HTTP status codes
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		return http.StatusInternalServerError
	}

	switch domainErr.Code {
	case domain.ErrCodeValidation:
		return http.StatusBadRequest
	case domain.ErrCodeNotFound:
		return http.StatusNotFound
	case domain.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrCodeEmbeddingUnavailable, domain.ErrCodeGenerationFailed, domain.ErrCodeRetrievalFailed:
		return http.StatusBadGateway
	case domain.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case domain.ErrCodeConfiguration, domain.ErrCodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// HandleError writes an appropriate error response based on the error type.
// Causes of internal errors are not echoed to the client.
func HandleError(w http.ResponseWriter, err error) {
	status := DomainErrorToHTTP(err)

	var domainErr *domain.DomainError
	if !errors.As(err, &domainErr) {
		JSON(w, status, ErrorResponse{Error: "internal server error", Code: domain.ErrCodeInternalError})
		return
	}

	resp := ErrorResponse{
		Error:          domainErr.Message,
		Code:           domainErr.Code,
		Dependency:     domainErr.Dependency,
		UpstreamStatus: domainErr.UpstreamStatus,
	}
	if status < http.StatusInternalServerError && domainErr.Err != nil {
		resp.Error = domainErr.Error()
	}
	JSON(w, status, resp)
}
