package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeNoRoute represents requests that matched no configured route
	ErrTypeNoRoute ErrorType = "no_route"
	// ErrTypeNoHealthyBackend represents target sets with no eligible instance
	ErrTypeNoHealthyBackend ErrorType = "no_healthy_backend"
	// ErrTypeBackendUnreachable represents backend connection failures
	ErrTypeBackendUnreachable ErrorType = "backend_unreachable"
	// ErrTypeDiscovery represents discovery source failures
	ErrTypeDiscovery ErrorType = "discovery"
	// ErrTypeMalformedEvent represents discovery events that failed validation
	ErrTypeMalformedEvent ErrorType = "malformed_event"
	// ErrTypeConfig represents configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NoRouteError creates an error for a request that matched no route
func NoRouteError(host, path string) *AppError {
	return &AppError{
		Type:    ErrTypeNoRoute,
		Message: fmt.Sprintf("no route for host %q path %q", host, path),
	}
}

// NoHealthyBackendError creates an error for a target set with no eligible instance
func NoHealthyBackendError(service string) *AppError {
	return &AppError{
		Type:    ErrTypeNoHealthyBackend,
		Message: fmt.Sprintf("no healthy backend for service %q", service),
	}
}

// BackendUnreachableError creates a backend connection failure error
func BackendUnreachableError(address string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeBackendUnreachable,
		Message: fmt.Sprintf("backend %s unreachable", address),
		Cause:   cause,
	}
}

// DiscoveryError creates a discovery source error
func DiscoveryError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeDiscovery,
		Message: msg,
		Cause:   cause,
	}
}

// MalformedEventError creates an error for an invalid discovery event
func MalformedEventError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeMalformedEvent,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: msg,
		Cause:   cause,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// IsType checks whether err is an AppError of the given type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}
