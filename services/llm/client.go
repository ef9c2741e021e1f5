// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is a client for OpenAI-compatible chat completions endpoints
// with function calling, using raw net/http without third-party SDKs.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var clientTracer = otel.Tracer(llmTracerName)

// =============================================================================
// Wire Types
// =============================================================================

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []wireMessage `json:"messages"`
	Temperature         *float32      `json:"temperature,omitempty"`
	MaxCompletionTokens *int          `json:"max_completion_tokens,omitempty"`
	TopP                *float32      `json:"top_p,omitempty"`
	Stop                []string      `json:"stop,omitempty"`
	Tools               []wireTool    `json:"tools,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireCallFunction `json:"function"`
}

type wireCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// chatResponse is the strict response shape: tool call arguments must be a
// serialized-JSON string per the Chat Completions contract.
type chatResponse struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Choices []chatChoice `json:"choices"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// rawResponse is the lenient response shape used by RawChatWithTools: the
// tool_calls payload is kept as raw JSON so that local-model deviations
// from the wire contract (object arguments, odd envelopes) survive decoding
// and can be handed to the response normalizer.
type rawResponse struct {
	Choices []rawChoice `json:"choices"`
	Error   *apiError   `json:"error,omitempty"`
}

type rawChoice struct {
	Message      rawMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

type rawMessage struct {
	Role      string          `json:"role"`
	Content   string          `json:"content,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// =============================================================================
// Client
// =============================================================================

// GenerationParams carries per-request sampling overrides. Nil pointer
// fields are omitted from the request so the endpoint's defaults apply.
type GenerationParams struct {
	Temperature   *float32
	MaxTokens     *int
	TopP          *float32
	Stop          []string
	ModelOverride string
}

// Client talks to an OpenAI-compatible chat completions endpoint.
//
// Description:
//
//	Serves both hosted OpenAI and local OpenAI-compatible servers
//	(vLLM, Ollama's /v1 facade, LM Studio). The two invocation paths,
//	ChatWithTools and RawChatWithTools, share one wire request and differ
//	only in how strictly the response is decoded.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

// NewClient creates a Client with explicit configuration.
//
// Inputs:
//   - apiKey: Bearer token. May be empty for local endpoints.
//   - model: Model name sent in each request.
//   - baseURL: Full chat completions URL. Empty selects the OpenAI default.
func NewClient(apiKey, model, baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
	}
}

// NewClientFromEnv creates a Client from environment variables.
//
// Description:
//
//	Reads OPENAI_API_KEY, OPENAI_MODEL, and OPENAI_BASE_URL. The model
//	defaults to "gpt-4o-mini". A missing key is an error unless a
//	non-default base URL is set, since local endpoints do not require one.
func NewClientFromEnv() (*Client, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	model := os.Getenv("OPENAI_MODEL")
	baseURL := os.Getenv("OPENAI_BASE_URL")
	if apiKey == "" && baseURL == "" {
		slog.Warn("OpenAI API key is empty. Client will not function.")
		return nil, fmt.Errorf("openai: API key is missing (OPENAI_API_KEY)")
	}
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	slog.Info("Initializing chat completions client", "model", model)
	return NewClient(apiKey, model, baseURL), nil
}

// Model returns the model name this client sends by default.
func (c *Client) Model() string {
	return c.model
}

// ChatWithTools sends a chat request with tool definitions bound.
//
// Description:
//
//	Decodes the response strictly: tool call arguments must be a
//	serialized-JSON string containing an object. When the endpoint
//	deviates from that shape but the payload is still valid JSON in a
//	looser reading, the returned error is an *ArgumentShapeError so the
//	caller can retry through RawChatWithTools.
//
// Inputs:
//   - ctx: Context for cancellation and timeout.
//   - messages: Conversation history with tool metadata.
//   - params: Generation parameters.
//   - tools: Tool definitions for function calling.
//
// Outputs:
//   - *ChatWithToolsResult: Content and/or tool calls.
//   - error: Non-nil on failure. May be *ArgumentShapeError.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) ChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*ChatWithToolsResult, error) {

	model := c.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	bodyBytes, err := c.doChat(ctx, "chat_with_tools", messages, params, tools)
	if err != nil {
		return nil, err
	}

	var apiResp chatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		// The body is not the strict wire shape. If the lenient shape
		// still fits, the payload is salvageable through the raw path.
		var lenient rawResponse
		if lenientErr := json.Unmarshal(bodyBytes, &lenient); lenientErr == nil {
			llmErrorsTotal.WithLabelValues(model, "shape").Inc()
			return nil, &ArgumentShapeError{Detail: "tool_calls payload does not match the strict wire shape", Err: err}
		}
		return nil, fmt.Errorf("openai: parsing response JSON: %w", err)
	}

	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: returned no choices")
	}

	choice := apiResp.Choices[0]
	result := &ChatWithToolsResult{Content: choice.Message.Content}

	for _, tc := range choice.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		// Arguments must decode to a JSON object. Anything else means the
		// model broke the tool-call contract.
		var shape map[string]any
		if err := json.Unmarshal([]byte(args), &shape); err != nil {
			llmErrorsTotal.WithLabelValues(model, "shape").Inc()
			return nil, &ArgumentShapeError{
				Tool:   tc.Function.Name,
				Detail: fmt.Sprintf("arguments for %s are not a JSON object", tc.Function.Name),
				Err:    err,
			}
		}
		result.ToolCalls = append(result.ToolCalls, ToolCallResponse{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	if len(result.ToolCalls) > 0 {
		result.StopReason = "tool_use"
	} else {
		result.StopReason = "end"
	}
	return result, nil
}

// RawChatWithTools sends the same request as ChatWithTools but decodes the
// response leniently.
//
// Description:
//
//	The fallback invocation path. Tool calls are returned as the raw
//	tool_calls JSON of the first choice, untouched, for the response
//	normalizer to interpret with its envelope and embedded-text
//	strategies. No structural validation is applied beyond the response
//	being JSON with at least one choice.
//
// Outputs:
//   - *RawResult: Content and raw tool_calls payload (may be nil).
//   - error: Non-nil on transport or API failure.
//
// Thread Safety: This method is safe for concurrent use.
func (c *Client) RawChatWithTools(ctx context.Context, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (*RawResult, error) {

	bodyBytes, err := c.doChat(ctx, "raw_chat_with_tools", messages, params, tools)
	if err != nil {
		return nil, err
	}

	var apiResp rawResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("openai: parsing response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("openai: API error: %s - %s", apiResp.Error.Type, SafeLogString(apiResp.Error.Message))
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("openai: returned no choices")
	}

	choice := apiResp.Choices[0]
	return &RawResult{
		Content:   choice.Message.Content,
		ToolCalls: choice.Message.ToolCalls,
	}, nil
}

// doChat marshals and sends one chat completions request, returning the
// raw response body. Shared by the strict and raw invocation paths.
func (c *Client) doChat(ctx context.Context, op string, messages []ChatMessage,
	params GenerationParams, tools []ToolDef) (_ []byte, err error) {

	model := c.model
	if params.ModelOverride != "" {
		model = params.ModelOverride
	}

	ctx, span := clientTracer.Start(ctx, "llm."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(messages)),
		attribute.Int("llm.tools", len(tools)),
	)

	start := time.Now()
	incActiveRequests(model)
	inputTokens := estimateMessagesTokens(messages)
	var outputTokens int
	defer func() {
		decActiveRequests(model)
		recordCallMetrics(model, time.Since(start), inputTokens, outputTokens, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	slog.Debug("Chat completions request",
		slog.String("model", model),
		slog.Int("messages", len(messages)),
		slog.Int("tools", len(tools)),
	)

	oaiMessages := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		m := wireMessage{Role: msg.Role, Content: msg.Content}
		if msg.Role == "tool" && msg.ToolCallID != "" {
			m.ToolCallID = msg.ToolCallID
		}
		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			for _, tc := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, wireToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: wireCallFunction{
						Name:      tc.Name,
						Arguments: tc.ArgumentsString(),
					},
				})
			}
		}
		oaiMessages = append(oaiMessages, m)
	}

	oaiTools := make([]wireTool, 0, len(tools))
	for _, td := range tools {
		oaiTools = append(oaiTools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        td.Function.Name,
				Description: td.Function.Description,
				Parameters:  td.Function.Parameters,
			},
		})
	}

	reqPayload := chatRequest{
		Model:    model,
		Messages: oaiMessages,
		Tools:    oaiTools,
	}
	if params.Temperature != nil {
		reqPayload.Temperature = params.Temperature
	}
	if params.MaxTokens != nil {
		reqPayload.MaxCompletionTokens = params.MaxTokens
	}
	if params.TopP != nil {
		reqPayload.TopP = params.TopP
	}
	if len(params.Stop) > 0 {
		reqPayload.Stop = params.Stop
	}

	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("openai: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("openai: creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: API returned status %d: %s", resp.StatusCode, SafeLogString(string(bodyBytes)))
	}

	outputTokens = EstimateTokens(string(bodyBytes))

	slog.Debug("Chat completions response",
		slog.String("model", model),
		slog.Int("response_len", len(bodyBytes)),
	)
	return bodyBytes, nil
}
