// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/jllopis/mitosis/pkg/errors"
)

// WrapCompletionError adds operation and model context to a completion
// failure while keeping its code, status and recoverability.
func WrapCompletionError(err error, operation, model string) *errors.Error {
	if err == nil {
		return nil
	}
	e := errors.As(err)
	wrapped := &errors.Error{
		Code:        e.Code,
		Message:     e.Message,
		Err:         e.Err,
		Context:     map[string]interface{}{},
		Attributes:  map[string]string{},
		Recoverable: e.Recoverable,
		StatusCode:  e.StatusCode,
	}
	return wrapped.
		WithContext("operation", operation).
		WithContext("model", model).
		WithAttribute("llm.model", model)
}

// WrapGenerationError reports factory output that could not become agents.
func WrapGenerationError(err error, msg string) *errors.Error {
	return errors.NewAgentGenerationError(msg, err).
		WithRecoverable(false)
}
