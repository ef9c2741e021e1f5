// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import "fmt"

// ArgumentShapeError reports a response whose tool calls failed the strict
// structural check: arguments that are not a JSON object, or a tool_calls
// payload that does not match the wire contract.
//
// Description:
//
//	Local models behind OpenAI-compatible facades produce these regularly.
//	The error is recoverable: the caller should retry the request once
//	through RawChatWithTools and hand the raw payload to the response
//	normalizer instead of failing the session.
type ArgumentShapeError struct {
	// Tool is the tool whose arguments failed the check, when known.
	Tool string

	// Detail describes which structural check failed.
	Detail string

	// Err is the underlying decode error.
	Err error
}

func (e *ArgumentShapeError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("openai: tool call shape invalid (%s): %s: %v", e.Tool, e.Detail, e.Err)
	}
	return fmt.Sprintf("openai: tool call shape invalid: %s: %v", e.Detail, e.Err)
}

func (e *ArgumentShapeError) Unwrap() error {
	return e.Err
}

// EmptyResponseError reports a syntactically valid response that carried
// no usable content and no tool calls.
type EmptyResponseError struct {
	Model string
}

func (e *EmptyResponseError) Error() string {
	return fmt.Sprintf("openai: model %s returned an empty response", e.Model)
}
