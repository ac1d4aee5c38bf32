package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Generation settings applied to every request. The service deliberately
// does not expose these to callers.
const (
	completionMaxTokens   = 1000
	completionTemperature = 0.7
)

// OpenAIClient is a direct HTTP client for the OpenAI chat completions API.
type OpenAIClient struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIClient creates a new OpenAI API client. baseURL defaults to the
// public API host when empty.
func NewOpenAIClient(apiKey, model, baseURL string) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	return &OpenAIClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

// Complete sends a non-streaming completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessages
	}
	start := time.Now()

	payload, err := json.Marshal(c.buildRequestBody(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, err := c.send(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Provider: c.Name(), Kind: KindUnavailable, Message: fmt.Sprintf("failed to read response: %v", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp.StatusCode, respBody)
	}

	var result openAIResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &ProviderError{Provider: c.Name(), Kind: KindInvalidResponse, Message: fmt.Sprintf("failed to parse response: %v", err)}
	}

	if len(result.Choices) == 0 || strings.TrimSpace(result.Choices[0].Message.Content) == "" {
		return nil, &ProviderError{Provider: c.Name(), Kind: KindEmptyResponse, Message: "response contained no assistant content"}
	}

	choice := result.Choices[0]
	return &CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
		},
		Model:    result.Model,
		Duration: time.Since(start),
	}, nil
}

// Stream sends a streaming completion request. Events arrive on the
// returned channel until "done" or "error", after which it is closed.
func (c *OpenAIClient) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyMessages
	}

	eventChan := make(chan StreamEvent)

	payload, err := json.Marshal(c.buildRequestBody(req, true))
	if err != nil {
		close(eventChan)
		return eventChan, fmt.Errorf("failed to marshal request: %w", err)
	}

	go c.streamRequest(ctx, eventChan, payload)
	return eventChan, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return "openai"
}

// Helper methods

func (c *OpenAIClient) buildRequestBody(req CompletionRequest, stream bool) map[string]interface{} {
	model := req.Model
	if model == "" {
		model = c.model
	}
	return map[string]interface{}{
		"model":       model,
		"messages":    req.Messages,
		"max_tokens":  completionMaxTokens,
		"temperature": completionTemperature,
		"stream":      stream,
	}
}

func (c *OpenAIClient) send(ctx context.Context, payload []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &ProviderError{Provider: c.Name(), Kind: KindUnavailable, Message: fmt.Sprintf("request failed: %v", err)}
	}
	return resp, nil
}

func (c *OpenAIClient) statusError(status int, body []byte) *ProviderError {
	msg := string(body)
	var apiErr openAIErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = apiErr.Error.Message
	}
	return &ProviderError{Provider: c.Name(), Kind: classifyStatus(status), Message: msg, Code: status}
}

func (c *OpenAIClient) streamRequest(ctx context.Context, eventChan chan StreamEvent, payload []byte) {
	defer close(eventChan)

	resp, err := c.send(ctx, payload)
	if err != nil {
		eventChan <- ErrorEvent(err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		eventChan <- ErrorEvent(c.statusError(resp.StatusCode, body))
		return
	}

	scanner := newServerSentEventScanner(resp.Body)
	var fullContent strings.Builder
	var model, finishReason string
	sawDone := false

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		dataStr := strings.TrimPrefix(line, "data: ")
		if dataStr == "[DONE]" {
			sawDone = true
			break
		}

		var chunk openAIStreamChunk
		if err := json.Unmarshal([]byte(dataStr), &chunk); err != nil {
			continue
		}
		if chunk.Model != "" {
			model = chunk.Model
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
		if choice.Delta.Content != "" {
			fullContent.WriteString(choice.Delta.Content)
			select {
			case eventChan <- StreamEvent{Type: "delta", Content: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}

	if ctx.Err() != nil {
		return
	}

	// A dropped connection or an oversized SSE line surfaces here; a partial
	// reply must not be reported as a completed one.
	if err := scanner.Err(); err != nil {
		eventChan <- ErrorEvent(&ProviderError{
			Provider: c.Name(), Kind: KindInvalidResponse,
			Message: "stream interrupted: " + err.Error(),
		})
		return
	}
	if !sawDone && finishReason == "" {
		eventChan <- ErrorEvent(&ProviderError{
			Provider: c.Name(), Kind: KindInvalidResponse,
			Message: "stream ended before completion",
		})
		return
	}

	if strings.TrimSpace(fullContent.String()) == "" {
		eventChan <- ErrorEvent(&ProviderError{
			Provider: c.Name(), Kind: KindEmptyResponse,
			Message: "stream produced no assistant content",
		})
		return
	}

	eventChan <- StreamEvent{
		Type: "done",
		Response: &CompletionResponse{
			Content:      fullContent.String(),
			FinishReason: finishReason,
			Model:        model,
		},
	}
}

// API response structures

type openAIResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
}

type openAIChoice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openAIStreamChunk struct {
	Model   string               `json:"model"`
	Choices []openAIStreamChoice `json:"choices"`
}

type openAIStreamChoice struct {
	Delta        openAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason"`
}

type openAIStreamDelta struct {
	Content string `json:"content"`
}
