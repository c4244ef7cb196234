package impl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/beacon-core/config"
	"github.com/beacon-core/services"
)

type llmServiceImpl struct {
	config     *config.LLMConfig
	httpClient *http.Client
}

func NewLLMService(cfg *config.LLMConfig) services.LLMService {
	return &llmServiceImpl{
		config: cfg,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
	}
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string          `json:"type"`
	Function chatToolDefJSON `json:"function"`
}

type chatToolDefJSON struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

type chatRequest struct {
	Model      string        `json:"model"`
	Messages   []chatMessage `json:"messages"`
	MaxTokens  int           `json:"max_tokens,omitempty"`
	Tools      []chatTool    `json:"tools,omitempty"`
	ToolChoice string        `json:"tool_choice,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (s *llmServiceImpl) SendRequest(ctx context.Context, messages []services.Message) (*services.LLMResponse, error) {
	return s.SendRequestWithTools(ctx, messages, nil, "")
}

func (s *llmServiceImpl) SendRequestWithTools(ctx context.Context, messages []services.Message, tools []services.ToolDefinition, toolChoice string) (*services.LLMResponse, error) {
	request := chatRequest{
		Model:     s.config.Model,
		Messages:  make([]chatMessage, len(messages)),
		MaxTokens: s.config.MaxTokens,
	}

	for i, msg := range messages {
		cm := chatMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.ToolCalls) > 0 {
			cm.ToolCalls = make([]chatToolCall, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				cm.ToolCalls[j] = chatToolCall{
					ID:   tc.ID,
					Type: tc.Type,
					Function: chatToolFunction{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			}
		}
		request.Messages[i] = cm
	}

	if len(tools) > 0 {
		request.Tools = make([]chatTool, len(tools))
		for i, t := range tools {
			request.Tools[i] = chatTool{
				Type: t.Type,
				Function: chatToolDefJSON{
					Name:        t.Function.Name,
					Description: t.Function.Description,
					Parameters:  t.Function.Parameters,
				},
			}
		}
		if toolChoice != "" {
			request.ToolChoice = toolChoice
		}
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", s.config.BaseURL)

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if s.config.APIKey != "" {
			req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.config.APIKey))
		}

		startTime := time.Now()
		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < s.config.MaxRetries {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				continue
			}
			break
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if attempt < s.config.MaxRetries && (resp.StatusCode == 429 || resp.StatusCode >= 500) {
				time.Sleep(time.Duration(attempt+1) * time.Second)
				continue
			}
			return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, string(body))
		}

		var parsed chatResponse
		err = json.NewDecoder(resp.Body).Decode(&parsed)
		resp.Body.Close()
		responseTime := time.Since(startTime)
		if err != nil {
			return nil, fmt.Errorf("failed to decode model response: %w", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, fmt.Errorf("no choices in model response")
		}

		choice := parsed.Choices[0]
		response := &services.LLMResponse{
			Content:        choice.Message.Content,
			Model:          parsed.Model,
			TokenUsage:     parsed.Usage.TotalTokens,
			ResponseTimeMs: int(responseTime.Milliseconds()),
			FinishReason:   choice.FinishReason,
		}
		for _, tc := range choice.Message.ToolCalls {
			response.ToolCalls = append(response.ToolCalls, services.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: services.ToolFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		log.Printf("llm: model=%s tokens=%d tool_calls=%d time=%dms",
			parsed.Model, parsed.Usage.TotalTokens, len(response.ToolCalls), response.ResponseTimeMs)

		return response, nil
	}

	return nil, fmt.Errorf("model request failed after %d retries: %w", s.config.MaxRetries, lastErr)
}
