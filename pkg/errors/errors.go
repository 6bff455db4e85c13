// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed workflow errors with rich context.
//
// The taxonomy mirrors how failures propagate through a run: knowledge
// retrieval failures degrade silently, completion failures are contained
// inside an agent step but abort factory and delegation calls, generation
// failures abort the run and import failures never touch a run at all.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeUnauthorized indicates a missing or rejected credential.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeConflict indicates an operation is not allowed in the current state.
	CodeConflict ErrorCode = "CONFLICT"

	// CodeCancelled indicates the operation was aborted by the caller.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeKnowledgeRetrieval indicates the knowledge backend failed.
	CodeKnowledgeRetrieval ErrorCode = "KNOWLEDGE_RETRIEVAL"

	// CodeCompletionService indicates a transport or non-2xx completion failure.
	CodeCompletionService ErrorCode = "COMPLETION_SERVICE"

	// CodeCompletionContent indicates an empty or unparseable completion payload.
	CodeCompletionContent ErrorCode = "COMPLETION_CONTENT"

	// CodeAgentGeneration indicates the factory output could not be turned into agents.
	CodeAgentGeneration ErrorCode = "AGENT_GENERATION"

	// CodeConfigurationImport indicates a malformed persisted workflow document.
	CodeConfigurationImport ErrorCode = "CONFIGURATION_IMPORT"
)

// Error is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type Error struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	// StatusCode is the HTTP status reported to API callers. For completion
	// service errors it is the upstream status.
	StatusCode int
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *Error) MarshalJSON() ([]byte, error) {
	out := struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		StatusCode  int                    `json:"status_code,omitempty"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Message,
		Code:        string(e.Code),
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
		Context:     e.Context,
	}
	if e.Err != nil {
		out.Err = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a new Error with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *Error {
	return &Error{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
// Returns the error for method chaining.
func (e *Error) WithAttribute(key, value string) *Error {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
// Returns the error for method chaining.
func (e *Error) WithRecoverable(recoverable bool) *Error {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *Error) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// As converts an error to *Error. Unknown errors are wrapped as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(CodeInternal, "wrapped error", err)
}

// IsCode reports whether any *Error in err's chain carries code.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// NewCompletionServiceError reports a non-2xx or transport failure from the
// completion service. 429 and 5xx responses are marked recoverable.
func NewCompletionServiceError(status int, msg string, cause error) *Error {
	e := New(CodeCompletionService, msg, cause)
	e.StatusCode = status
	e.Recoverable = status == http.StatusTooManyRequests || status >= 500 || status == 0
	return e.WithContext("status", status)
}

// NewCompletionContentError reports an empty or unparseable completion payload.
func NewCompletionContentError(msg string, cause error) *Error {
	return New(CodeCompletionContent, msg, cause)
}

// NewAgentGenerationError reports factory output that is not a JSON array of agents.
func NewAgentGenerationError(msg string, cause error) *Error {
	return New(CodeAgentGeneration, msg, cause)
}

// NewConfigurationImportError reports a malformed workflow document.
func NewConfigurationImportError(msg string, cause error) *Error {
	return New(CodeConfigurationImport, msg, cause)
}

// NewKnowledgeRetrievalError reports a failing knowledge backend.
func NewKnowledgeRetrievalError(operation string, cause error) *Error {
	return New(CodeKnowledgeRetrieval, "knowledge "+operation+" failed", cause).
		WithContext("operation", operation).
		WithRecoverable(true)
}

// NewInvalidInputError creates a new invalid input error.
func NewInvalidInputError(msg string) *Error {
	return New(CodeInvalidInput, msg, nil)
}

// NewNotFoundError creates a new not found error.
func NewNotFoundError(resource, name string) *Error {
	return New(CodeNotFound, resource+" not found", nil).
		WithContext("resource", resource).
		WithContext("name", name)
}

// NewConflictError reports an operation rejected by the current run state.
func NewConflictError(msg string) *Error {
	return New(CodeConflict, msg, nil)
}

// codeToStatusCode maps error codes to HTTP status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeInvalidInput, CodeConfigurationImport:
		return http.StatusBadRequest
	case CodeConflict:
		return http.StatusConflict
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeRateLimit:
		return http.StatusTooManyRequests
	case CodeCompletionService, CodeCompletionContent, CodeAgentGeneration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
