// Package openai adapts an OpenAI-compatible chat-completions endpoint to the
// appagent.ModelSurface contract, including lifting screenshot observations
// into image parts for vision-capable models.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/httprunner/AppAgent"
	"github.com/httprunner/AppAgent/internal/config"
	"github.com/pkg/errors"
)

const (
	// EnvAPIKey, EnvModel and EnvBaseURL configure NewFromEnv.
	EnvAPIKey  = "MODEL_API_KEY"
	EnvModel   = "MODEL_NAME"
	EnvBaseURL = "MODEL_BASE_URL"

	defaultBaseURL  = "https://api.openai.com/v1"
	defaultEndpoint = "/chat/completions"
	defaultTimeout  = 120 * time.Second
)

// Config controls the adapter.
type Config struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Adapter implements appagent.ModelSurface over HTTP.
type Adapter struct {
	apiKey      string
	model       string
	endpointURL string
	httpClient  *http.Client
}

var _ appagent.ModelSurface = (*Adapter)(nil)

// New validates the configuration and builds an adapter.
func New(cfg Config) (*Adapter, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("model adapter: api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, errors.New("model adapter: model name is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Adapter{
		apiKey:      apiKey,
		model:       model,
		endpointURL: strings.TrimRight(baseURL, "/") + defaultEndpoint,
		httpClient:  httpClient,
	}, nil
}

// NewFromEnv builds an adapter from MODEL_API_KEY, MODEL_NAME and
// MODEL_BASE_URL.
func NewFromEnv() (*Adapter, error) {
	return New(Config{
		APIKey:  config.String(EnvAPIKey, ""),
		Model:   config.String(EnvModel, ""),
		BaseURL: config.String(EnvBaseURL, ""),
	})
}

// Generate performs one chat-completion turn.
func (a *Adapter) Generate(ctx context.Context, request appagent.ModelRequest) (appagent.ModelTurn, error) {
	payload, err := buildRequest(a.model, request)
	if err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: build request")
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: encode request")
	}

	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpointURL, bytes.NewReader(encoded))
	if err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: build http request")
	}
	httpRequest.Header.Set("Authorization", "Bearer "+a.apiKey)
	httpRequest.Header.Set("Content-Type", "application/json")

	response, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: execute request")
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 8<<20))
	if err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: read response")
	}
	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return appagent.ModelTurn{}, errors.Errorf("model adapter: status=%d body=%s", response.StatusCode, string(body))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return appagent.ModelTurn{}, errors.Wrap(err, "model adapter: decode response")
	}
	if len(parsed.Choices) == 0 {
		return appagent.ModelTurn{}, errors.New("model adapter: response has no choices")
	}
	return toModelTurn(parsed.Choices[0].Message)
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
}

type chatCompletionResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message chatMessage `json:"message"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content,omitempty"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string               `json:"id"`
	Type     string               `json:"type"`
	Function chatToolCallFunction `json:"function"`
}

type chatToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

type contentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *imageURLPart `json:"image_url,omitempty"`
}

type imageURLPart struct {
	URL string `json:"url"`
}

// screenshotPayload is the tagged observation the core session emits for
// capture results.
type screenshotPayload struct {
	Type       string `json:"type"`
	DataBase64 string `json:"data_base64"`
}

func buildRequest(model string, request appagent.ModelRequest) (chatCompletionRequest, error) {
	messages := make([]chatMessage, 0, len(request.Messages)+1)
	for _, message := range request.Messages {
		converted, extra, err := toChatMessages(message)
		if err != nil {
			return chatCompletionRequest{}, err
		}
		messages = append(messages, converted)
		messages = append(messages, extra...)
	}

	tools := make([]chatTool, 0, len(request.Tools))
	for _, spec := range request.Tools {
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.Params,
			},
		})
	}
	return chatCompletionRequest{Model: model, Messages: messages, Tools: tools}, nil
}

// toChatMessages converts one transcript entry. Screenshot observations are
// split: the tool slot gets a placeholder (tool messages cannot carry image
// parts) and the image follows as a user message the vision model can see.
func toChatMessages(message appagent.Message) (chatMessage, []chatMessage, error) {
	converted := chatMessage{
		Role:       message.Role,
		Content:    message.Content,
		Name:       message.Name,
		ToolCallID: message.ToolCallID,
	}
	for _, call := range message.ToolCalls {
		arguments := "{}"
		if len(call.Arguments) > 0 {
			encoded, err := json.Marshal(call.Arguments)
			if err != nil {
				return chatMessage{}, nil, errors.Wrap(err, "encode tool call arguments")
			}
			arguments = string(encoded)
		}
		converted.ToolCalls = append(converted.ToolCalls, chatToolCall{
			ID:   call.ID,
			Type: "function",
			Function: chatToolCallFunction{
				Name:      call.Name,
				Arguments: arguments,
			},
		})
	}

	if message.Role != appagent.RoleTool {
		return converted, nil, nil
	}
	var payload screenshotPayload
	if err := json.Unmarshal([]byte(message.Content), &payload); err != nil || payload.Type != "screenshot" {
		return converted, nil, nil
	}
	converted.Content = "screenshot captured, attached below"
	image := chatMessage{
		Role: appagent.RoleUser,
		Content: []contentPart{{
			Type:     "image_url",
			ImageURL: &imageURLPart{URL: "data:image/png;base64," + payload.DataBase64},
		}},
	}
	return converted, []chatMessage{image}, nil
}

func toModelTurn(message chatMessage) (appagent.ModelTurn, error) {
	turn := appagent.ModelTurn{}
	if content, ok := message.Content.(string); ok {
		turn.Content = content
	}
	for _, call := range message.ToolCalls {
		arguments := map[string]any{}
		if trimmed := strings.TrimSpace(call.Function.Arguments); trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &arguments); err != nil {
				return appagent.ModelTurn{}, errors.Wrapf(err, "decode arguments of tool call %s", call.Function.Name)
			}
		}
		turn.ToolCalls = append(turn.ToolCalls, appagent.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: arguments,
		})
	}
	return turn, nil
}
