package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/zhangyw0810/llamatalk/config"
	"github.com/zhangyw0810/llamatalk/internal/models"
)

// CompletionProvider streams generated text for an ordered message history.
// onChunk is invoked once per text fragment, strictly in arrival order; a
// non-nil return aborts the stream.
type CompletionProvider interface {
	Stream(ctx context.Context, history []models.Message, onChunk func(text string) error) error
}

// CompletionService talks to an OpenAI-compatible chat completions endpoint
// (a locally hosted Ollama by default). Declared tools are executed inside
// the service: callers only ever observe text chunks.
type CompletionService struct {
	baseURL       string
	model         string
	apiKey        string
	maxToolRounds int
	client        httpDoer
	tools         []Tool
	logger        *zap.SugaredLogger
}

func NewCompletionService(cfg config.OllamaConfig, logger *zap.SugaredLogger, tools ...Tool) *CompletionService {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "http://localhost:11434/v1"
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama3.1"
	}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = 4
	}

	return &CompletionService{
		baseURL:       base,
		model:         model,
		apiKey:        strings.TrimSpace(cfg.APIKey),
		maxToolRounds: rounds,
		client:        newDefaultHTTPClient(cfg.RequestTimeout),
		tools:         tools,
		logger:        logger,
	}
}

type completionMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type toolDeclaration struct {
	Type     string              `json:"type"`
	Function toolDeclarationSpec `json:"function"`
}

type toolDeclarationSpec struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type completionRequest struct {
	Model    string              `json:"model"`
	Messages []completionMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []toolDeclaration   `json:"tools,omitempty"`
}

type streamDelta struct {
	Role      string `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	ToolCalls []struct {
		Index    int    `json:"index"`
		ID       string `json:"id,omitempty"`
		Type     string `json:"type,omitempty"`
		Function struct {
			Name      string `json:"name,omitempty"`
			Arguments string `json:"arguments,omitempty"`
		} `json:"function"`
	} `json:"tool_calls,omitempty"`
}

type streamChoice struct {
	Index        int         `json:"index"`
	Delta        streamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

type streamChunk struct {
	ID      string            `json:"id"`
	Choices []streamChoice    `json:"choices"`
	Error   *providerAPIError `json:"error,omitempty"`
}

// Stream runs the completion, resolving tool-call rounds internally until a
// round finishes with plain text. Chunks are forwarded in arrival order.
func (s *CompletionService) Stream(ctx context.Context, history []models.Message, onChunk func(text string) error) error {
	messages := make([]completionMessage, 0, len(history))
	for _, msg := range history {
		messages = append(messages, completionMessage{Role: msg.Role, Content: msg.Content})
	}

	for round := 0; round < s.maxToolRounds; round++ {
		finishReason, calls, err := s.streamOnce(ctx, messages, onChunk)
		if err != nil {
			return err
		}

		if finishReason != "tool_calls" || len(calls) == 0 {
			return nil
		}

		messages = append(messages, completionMessage{Role: models.RoleAssistant, ToolCalls: calls})
		for _, call := range calls {
			result, err := s.executeTool(ctx, call)
			if err != nil {
				return err
			}
			messages = append(messages, completionMessage{
				Role:       models.RoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}

	return fmt.Errorf("completion: exceeded %d tool rounds", s.maxToolRounds)
}

// streamOnce issues a single streaming request and consumes its SSE body.
// It returns the finish reason and any tool calls assembled from deltas.
func (s *CompletionService) streamOnce(ctx context.Context, messages []completionMessage, onChunk func(text string) error) (string, []apiToolCall, error) {
	payload := completionRequest{
		Model:    s.model,
		Messages: messages,
		Stream:   true,
		Tools:    s.toolDeclarations(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", nil, fmt.Errorf("marshal completion payload: %w", err)
	}

	endpoint := s.baseURL + "/chat/completions"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("create completion request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "text/event-stream")
	if s.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	response, err := s.client.Do(request)
	if err != nil {
		return "", nil, fmt.Errorf("call completion api: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		respBody, readErr := io.ReadAll(io.LimitReader(response.Body, 4096))
		if readErr != nil {
			respBody = nil
		}
		return "", nil, buildProviderAPIError(response.StatusCode, respBody)
	}

	var (
		finishReason string
		calls        []apiToolCall
	)

	scanner := bufio.NewScanner(response.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Warnf("skip malformed stream chunk: %v", err)
			continue
		}

		if chunk.Error != nil && chunk.Error.Message != "" {
			return "", nil, fmt.Errorf("completion stream error: %s", chunk.Error.Message)
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := onChunk(choice.Delta.Content); err != nil {
				return "", nil, err
			}
		}

		for _, delta := range choice.Delta.ToolCalls {
			for len(calls) <= delta.Index {
				calls = append(calls, apiToolCall{Type: "function"})
			}
			current := &calls[delta.Index]
			if delta.ID != "" {
				current.ID = delta.ID
			}
			if delta.Function.Name != "" {
				current.Function.Name = delta.Function.Name
			}
			current.Function.Arguments += delta.Function.Arguments
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			finishReason = *choice.FinishReason
		}
	}

	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("read completion stream: %w", err)
	}

	return finishReason, calls, nil
}

func (s *CompletionService) executeTool(ctx context.Context, call apiToolCall) (string, error) {
	for _, tool := range s.tools {
		if tool.Name != call.Function.Name {
			continue
		}

		args := call.Function.Arguments
		if strings.TrimSpace(args) == "" {
			args = "{}"
		}

		result, err := tool.Execute(ctx, json.RawMessage(args))
		if err != nil {
			return "", fmt.Errorf("execute tool %s: %w", tool.Name, err)
		}

		encoded, err := json.Marshal(result)
		if err != nil {
			return "", fmt.Errorf("encode tool %s result: %w", tool.Name, err)
		}

		s.logger.Debugf("tool %s executed", tool.Name)
		return string(encoded), nil
	}

	return "", fmt.Errorf("completion: model requested unknown tool %q", call.Function.Name)
}

func (s *CompletionService) toolDeclarations() []toolDeclaration {
	if len(s.tools) == 0 {
		return nil
	}

	decls := make([]toolDeclaration, 0, len(s.tools))
	for _, tool := range s.tools {
		decls = append(decls, toolDeclaration{
			Type: "function",
			Function: toolDeclarationSpec{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Schema,
			},
		})
	}
	return decls
}
