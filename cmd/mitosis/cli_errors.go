// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/mitosis/pkg/errors"
)

// CLIError wraps an *errors.Error with a hint for the operator.
type CLIError struct {
	Cause *errors.Error
	Hint  string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Cause: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Cause == nil {
		return "unknown error"
	}
	msg := e.Cause.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the wrapped error.
func (e *CLIError) Unwrap() error { return e.Cause }

// toCLIError attaches the hint matching err's code.
func toCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	e := errors.As(err)
	return NewCLIError(e, hintFor(e.Code))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUnauthorized:
		return "pass --credential or set MITOSIS_LLM_API_KEY"
	case errors.CodeCompletionService:
		return "check llm.provider, llm.base_url and that the completion service is reachable"
	case errors.CodeCompletionContent, errors.CodeAgentGeneration:
		return "the model returned unusable output; try again or use a stronger llm.model"
	case errors.CodeConfigurationImport:
		return "the document must be {\"agents\": [...], \"connections\": [...]} with unique agent ids"
	case errors.CodeNotFound:
		return "run 'mitosis records list' to see saved records"
	case errors.CodeRateLimit:
		return "the provider is throttling requests; raise llm.retry_attempts or wait"
	default:
		return ""
	}
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// printError writes err to w, as JSON when asJSON is set.
func printError(w io.Writer, err error, asJSON bool) {
	ce := toCLIError(err)
	e := ce.Cause
	if asJSON {
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{
			"code":    e.Code,
			"message": e.Message,
			"hint":    ce.Hint,
		}})
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", FormatErrorCode(e.Code), e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if ce.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", ce.Hint)
	}
}

// FormatErrorCode returns a user-friendly name for error codes.
func FormatErrorCode(code errors.ErrorCode) string {
	switch code {
	case errors.CodeInternal:
		return "Internal Error"
	case errors.CodeInvalidInput:
		return "Invalid Input"
	case errors.CodeNotFound:
		return "Not Found"
	case errors.CodeUnauthorized:
		return "Unauthorized"
	case errors.CodeConflict:
		return "Conflict"
	case errors.CodeCancelled:
		return "Cancelled"
	case errors.CodeTimeout:
		return "Timeout"
	case errors.CodeRateLimit:
		return "Rate Limited"
	case errors.CodeKnowledgeRetrieval:
		return "Knowledge Retrieval"
	case errors.CodeCompletionService:
		return "Completion Service"
	case errors.CodeCompletionContent:
		return "Completion Content"
	case errors.CodeAgentGeneration:
		return "Agent Generation"
	case errors.CodeConfigurationImport:
		return "Configuration Import"
	default:
		return string(code)
	}
}
