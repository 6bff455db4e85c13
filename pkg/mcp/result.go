// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"encoding/json"
	"strings"

	mitosiserrors "github.com/jllopis/mitosis/pkg/errors"
	"github.com/mark3labs/mcp-go/mcp"
)

// resultText flattens a tool result to text. Structured content is
// rendered as JSON when the result carries no text.
func resultText(result *mcp.CallToolResult) (string, error) {
	if result == nil {
		return "", mitosiserrors.New(mitosiserrors.CodeInternal, "mcp tool result is nil", nil)
	}
	text := extractTextContent(result.Content)
	if result.IsError {
		return "", parseToolError(text)
	}
	if text == "" && result.StructuredContent != nil {
		data, err := json.Marshal(result.StructuredContent)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	return text, nil
}

// parseToolError reverses toolError: "CONFLICT: workflow is running"
// becomes a CONFLICT error. Text without a code prefix is INTERNAL.
func parseToolError(text string) *mitosiserrors.Error {
	code, msg, ok := strings.Cut(text, ": ")
	if !ok || !isErrorCode(code) {
		return mitosiserrors.New(mitosiserrors.CodeInternal, "mcp tool returned error: "+text, nil)
	}
	return mitosiserrors.New(mitosiserrors.ErrorCode(code), msg, nil)
}

func isErrorCode(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && r != '_' {
			return false
		}
	}
	return true
}

func extractTextContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch content := item.(type) {
		case mcp.TextContent:
			parts = append(parts, content.Text)
		case *mcp.TextContent:
			parts = append(parts, content.Text)
		}
	}
	return strings.Join(parts, "\n")
}
