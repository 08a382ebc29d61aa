package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"tutor_backend/internal/config"
	"tutor_backend/pkg/logger"

	"go.uber.org/zap"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type EventType string

const (
	EventTextDelta EventType = "text_delta"
	EventToolUse   EventType = "tool_use"
	EventStop      EventType = "stop"
	EventError     EventType = "error"
)

// ToolCall is one completed tool invocation from the model.
type ToolCall struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Input    map[string]interface{} `json:"input"`
	Category ToolCategory           `json:"category"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one demuxed event from the model stream. Exactly one of
// the payload fields is set, per Type.
type StreamEvent struct {
	Type     EventType
	Text     string
	Tool     *ToolCall
	Usage    *Usage
	FullText string
	Calls    []ToolCall
	Err      error
}

type Client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

func NewClient(cfg config.LLMConfig) *Client {
	return &Client{
		cfg: cfg,
		// Per-request deadlines come from the caller's context.
		httpClient: &http.Client{},
	}
}

// wire types for the chat-completions streaming response

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string          `json:"content"`
			ToolCalls []toolCallDelta `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type toolCallDelta struct {
	Index    int    `json:"index"`
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// toolCallAccumulator reassembles a tool call from argument fragments
// spread across stream chunks.
type toolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *toolCallAccumulator) finish() (ToolCall, error) {
	input := map[string]interface{}{}
	raw := a.args.String()
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			return ToolCall{}, fmt.Errorf("tool %s: malformed arguments: %w", a.name, err)
		}
	}
	return ToolCall{
		ID:       a.id,
		Name:     a.name,
		Input:    input,
		Category: Categorize(a.name),
	}, nil
}

// StreamCompletion makes exactly one streaming model call and demuxes
// the response into StreamEvents. Text deltas and completed tool calls
// are emitted in stream order; a final Stop event carries the full text,
// all tool calls and token usage. Tool results are never fed back. The
// channel closes after Stop or Error.
func (c *Client) StreamCompletion(ctx context.Context, system string, messages []Message, model string) <-chan StreamEvent {
	out := make(chan StreamEvent)

	if model == "" {
		model = c.cfg.Model
	}

	wireMessages := make([]Message, 0, len(messages)+1)
	wireMessages = append(wireMessages, Message{Role: "system", Content: system})
	wireMessages = append(wireMessages, messages...)

	reqBody := map[string]interface{}{
		"model":          model,
		"messages":       wireMessages,
		"max_tokens":     c.cfg.MaxTokens,
		"stream":         true,
		"stream_options": map[string]interface{}{"include_usage": true},
		"tools":          ToolSchemas(),
	}
	jsonData, _ := json.Marshal(reqBody)

	go func() {
		defer close(out)

		if _, ok := ctx.Deadline(); !ok && c.cfg.TimeoutSec > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSec)*time.Second)
			defer cancel()
		}

		req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
		if err != nil {
			out <- StreamEvent{Type: EventError, Err: err}
			return
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			out <- StreamEvent{Type: EventError, Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			out <- StreamEvent{Type: EventError,
				Err: fmt.Errorf("model API error (status %d): %s", resp.StatusCode, string(body))}
			return
		}

		var (
			fullText     strings.Builder
			accumulators []*toolCallAccumulator
			calls        []ToolCall
			usage        *Usage
			finished     bool
		)

		flushCall := func(acc *toolCallAccumulator) {
			call, err := acc.finish()
			if err != nil {
				logger.Log.Warn("Dropping malformed tool call", zap.Error(err))
				return
			}
			calls = append(calls, call)
			out <- StreamEvent{Type: EventToolUse, Tool: &call}
		}

		reader := bufio.NewReader(resp.Body)
		flushed := 0
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if !errors.Is(err, io.EOF) {
					out <- StreamEvent{Type: EventError, Err: err}
					return
				}
				break
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				continue
			}
			if chunk.Error != nil {
				out <- StreamEvent{Type: EventError, Err: errors.New(chunk.Error.Message)}
				return
			}
			if chunk.Usage != nil {
				usage = chunk.Usage
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				fullText.WriteString(choice.Delta.Content)
				out <- StreamEvent{Type: EventTextDelta, Text: choice.Delta.Content}
			}

			for _, tc := range choice.Delta.ToolCalls {
				for tc.Index >= len(accumulators) {
					accumulators = append(accumulators, &toolCallAccumulator{})
				}
				acc := accumulators[tc.Index]
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)

				// A fragment for a later index means every earlier call
				// is complete and can be emitted in order.
				for flushed < tc.Index {
					flushCall(accumulators[flushed])
					flushed++
				}
			}

			if choice.FinishReason != "" {
				finished = true
			}
		}

		for flushed < len(accumulators) {
			flushCall(accumulators[flushed])
			flushed++
		}

		if !finished {
			out <- StreamEvent{Type: EventError,
				Err: errors.New("stream ended without a finish reason")}
			return
		}

		out <- StreamEvent{
			Type:     EventStop,
			FullText: fullText.String(),
			Calls:    calls,
			Usage:    usage,
		}
	}()

	return out
}
