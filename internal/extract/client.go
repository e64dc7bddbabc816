package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// Chat call parameters fixed by the extraction contract.
const (
	maxCompletionTokens = 4096
	chatTemperature     = 0.1
	chatTimeout         = 90 * time.Second
	maxChatResponse     = 4 << 20 // 4MB
)

// Client calls the external model endpoint.
type Client struct {
	endpoint string
	apiKey   string
	model    string
	http     *http.Client
}

// NewClient creates a model client. The endpoint is the full chat
// completions URL.
func NewClient(endpoint, apiKey, model string) *Client {
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		http:     &http.Client{Timeout: chatTimeout},
	}
}

// Options select the prompt/schema combination for one extraction.
type Options struct {
	ResponseType string          // "json" or "text"
	Prompt       string          // user prompt, may be empty when a schema is given
	Schema       json.RawMessage // JSON schema, json responses only
	Instructions string          // optional system-level steering
}

// Result is the model's answer plus its token accounting.
type Result struct {
	Content      string // textual content (or raw JSON when the endpoint pre-parsed it)
	InputTokens  int
	OutputTokens int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	MaxTokens      int             `json:"max_tokens"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// Chat sends the payload and returns the model's reply. The request shape
// follows the prompt/schema matrix:
//
//	json + prompt only     → prompt, force json_object mode
//	json + schema only     → schema passed through response_format
//	json + prompt + schema → both
//	text + prompt          → prompt, no response format
func (c *Client) Chat(ctx context.Context, payload string, opts Options) (*Result, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("model endpoint not configured")
	}

	req := chatRequest{
		Model:       c.model,
		Messages:    buildMessages(payload, opts),
		MaxTokens:   maxCompletionTokens,
		Temperature: chatTemperature,
	}

	if opts.ResponseType == "json" {
		if len(opts.Schema) > 0 {
			format, err := json.Marshal(map[string]any{
				"type":        "json_schema",
				"json_schema": json.RawMessage(opts.Schema),
			})
			if err != nil {
				return nil, fmt.Errorf("encode response format: %w", err)
			}
			req.ResponseFormat = format
		} else {
			req.ResponseFormat = json.RawMessage(`{"type":"json_object"}`)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model call: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxChatResponse))
	if err != nil {
		return nil, fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model returned status %d: %s", resp.StatusCode, snippet(data))
	}

	return parseEnvelope(data)
}

// buildMessages assembles the chat turn. Instructions go into a system
// message; the extraction directive and the payload share the user turn.
func buildMessages(payload string, opts Options) []chatMessage {
	var messages []chatMessage
	if opts.Instructions != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.Instructions})
	}

	directive := opts.Prompt
	if directive == "" {
		directive = "Extract structured data from the page content below so it conforms to the provided JSON schema. Respond with JSON only."
	} else if opts.ResponseType == "json" {
		directive += "\n\nRespond with JSON only."
	}

	messages = append(messages, chatMessage{
		Role:    "user",
		Content: directive + "\n\n" + payload,
	})
	return messages
}

// parseEnvelope accepts both the OpenAI response shape
// {choices:[{message:{content}}], usage} and the legacy {response, usage}
// form, where response may already be a JSON object.
func parseEnvelope(data []byte) (*Result, error) {
	res := &Result{
		InputTokens:  int(gjson.GetBytes(data, "usage.prompt_tokens").Int()),
		OutputTokens: int(gjson.GetBytes(data, "usage.completion_tokens").Int()),
	}

	if content := gjson.GetBytes(data, "choices.0.message.content"); content.Exists() {
		res.Content = content.String()
		return res, nil
	}

	if response := gjson.GetBytes(data, "response"); response.Exists() {
		if response.IsObject() || response.IsArray() {
			res.Content = response.Raw
		} else {
			res.Content = response.String()
		}
		return res, nil
	}

	log.Debug().Str("body", snippet(data)).Msg("Unrecognized model envelope")
	return nil, fmt.Errorf("model response has neither choices nor response field")
}

func snippet(data []byte) string {
	s := strings.TrimSpace(string(data))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
