package appagent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ToolKind is the closed vocabulary of tools a session may expose. Each
// non-terminal kind maps 1:1 to a DeviceSurface operation; ToolFinish ends the
// session and carries the structured result.
type ToolKind int

const (
	ToolCapture ToolKind = iota
	ToolTap
	ToolSwipe
	ToolTypeText
	ToolPressKey
	ToolLaunchApp
	ToolScreenSize
	ToolFinish
)

// ToolSpec describes one tool exposed to the model.
type ToolSpec struct {
	Kind        ToolKind
	Name        string
	Description string
	Params      map[string]any
}

// SessionRequest bundles everything one bounded tool-calling session needs.
type SessionRequest struct {
	Goal         string
	Tools        []ToolSpec
	ResultSchema map[string]any
	MaxSteps     int
}

// SessionRunner runs one bounded tool-calling session. Satisfied by *Session
// and by test fakes.
type SessionRunner interface {
	Run(ctx context.Context, req SessionRequest) (map[string]any, error)
}

const defaultSessionSteps = 10

// Session drives one goal through alternating model turns and device actions.
// Each Run call is stateless: a fresh transcript, no data surviving the call.
type Session struct {
	model  ModelSurface
	device DeviceSurface
}

// NewSession binds a session loop to its two capability boundaries.
func NewSession(model ModelSurface, device DeviceSurface) (*Session, error) {
	if model == nil {
		return nil, errors.New("session: model surface is required")
	}
	if device == nil {
		return nil, errors.New("session: device surface is required")
	}
	return &Session{model: model, device: device}, nil
}

// Run executes the bounded conversation. It returns the decoded finish-tool
// argument on success, or one of ErrStepBudgetExceeded, ErrSchemaViolation,
// ErrTransport. The session never retries; retry policy belongs to callers,
// which may submit a fresh session.
func (s *Session) Run(ctx context.Context, req SessionRequest) (map[string]any, error) {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultSessionSteps
	}
	finishName := finishToolName(req.Tools)
	if finishName == "" {
		return nil, errors.New("session: tool catalogue has no finish tool")
	}
	byName := make(map[string]ToolSpec, len(req.Tools))
	for _, spec := range req.Tools {
		byName[spec.Name] = spec
	}

	messages := []Message{{Role: RoleUser, Content: req.Goal}}
	for step := 0; step < maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, "session canceled")
		}

		turn, err := s.model.Generate(ctx, ModelRequest{
			Messages: messages,
			Tools:    req.Tools,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Wrap(ctx.Err(), "session canceled")
			}
			return nil, errors.Wrapf(ErrTransport, "model turn %d: %v", step+1, err)
		}
		messages = append(messages, Message{Role: RoleAssistant, Content: turn.Content, ToolCalls: turn.ToolCalls})

		for _, call := range turn.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, errors.Wrap(err, "session canceled")
			}
			spec, known := byName[call.Name]
			if !known {
				messages = append(messages, toolObservation(call, fmt.Sprintf("error: tool %q is not in the catalogue", call.Name), true))
				continue
			}
			if spec.Kind == ToolFinish {
				if err := validateAgainstSchema(req.ResultSchema, call.Arguments); err != nil {
					return nil, errors.Wrapf(ErrSchemaViolation, "finish tool argument: %v", err)
				}
				return call.Arguments, nil
			}
			observation := s.executeDeviceTool(ctx, spec, call)
			messages = append(messages, observation)
		}
	}
	return nil, errors.Wrapf(ErrStepBudgetExceeded, "finish tool not invoked within %d steps", maxSteps)
}

// executeDeviceTool forwards one non-terminal call to the device surface and
// converts the outcome into a transcript observation. Device failures are fed
// back to the model rather than aborting the session; the step budget bounds
// how long the model may keep trying.
func (s *Session) executeDeviceTool(ctx context.Context, spec ToolSpec, call ToolCall) Message {
	content, err := s.dispatchDeviceCall(ctx, spec.Kind, call.Arguments)
	if err != nil {
		log.Debug().Err(err).Str("tool", call.Name).Msg("session device tool failed")
		return toolObservation(call, "error: "+err.Error(), true)
	}
	return toolObservation(call, content, false)
}

func (s *Session) dispatchDeviceCall(ctx context.Context, kind ToolKind, args map[string]any) (string, error) {
	switch kind {
	case ToolCapture:
		data, err := s.device.Capture(ctx)
		if err != nil {
			return "", err
		}
		return encodeScreenshot(data), nil
	case ToolTap:
		x, y, err := pointArgs(args, "x", "y")
		if err != nil {
			return "", err
		}
		if err := s.device.Tap(ctx, x, y); err != nil {
			return "", err
		}
		return fmt.Sprintf("tapped (%d,%d)", x, y), nil
	case ToolSwipe:
		x1, y1, err := pointArgs(args, "from_x", "from_y")
		if err != nil {
			return "", err
		}
		x2, y2, err := pointArgs(args, "to_x", "to_y")
		if err != nil {
			return "", err
		}
		duration := durationMsArg(args, "duration_ms", 300*time.Millisecond)
		if err := s.device.Swipe(ctx, x1, y1, x2, y2, duration); err != nil {
			return "", err
		}
		return "swiped", nil
	case ToolTypeText:
		text, err := stringArg(args, "text")
		if err != nil {
			return "", err
		}
		if err := s.device.TypeText(ctx, text); err != nil {
			return "", err
		}
		return "typed text", nil
	case ToolPressKey:
		code, err := intArg(args, "code")
		if err != nil {
			return "", err
		}
		if err := s.device.PressKey(ctx, code); err != nil {
			return "", err
		}
		return fmt.Sprintf("pressed key %d", code), nil
	case ToolLaunchApp:
		packageID, err := stringArg(args, "package")
		if err != nil {
			return "", err
		}
		activity, _ := args["activity"].(string)
		if err := s.device.LaunchApp(ctx, packageID, activity); err != nil {
			return "", err
		}
		return "launched " + packageID, nil
	case ToolScreenSize:
		size, err := s.device.ScreenSize(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%dx%d", size.Width, size.Height), nil
	default:
		return "", errors.Errorf("unsupported tool kind %d", kind)
	}
}

func toolObservation(call ToolCall, content string, isError bool) Message {
	if isError {
		content = content + " (observation only, adjust and continue)"
	}
	return Message{
		Role:       RoleTool,
		Name:       call.Name,
		ToolCallID: call.ID,
		Content:    content,
	}
}

func finishToolName(tools []ToolSpec) string {
	for _, spec := range tools {
		if spec.Kind == ToolFinish {
			return spec.Name
		}
	}
	return ""
}

// encodeScreenshot packages raw screenshot bytes for the transcript. Model
// adapters recognize the tagged payload and lift it into an image part of
// their own wire format.
func encodeScreenshot(data []byte) string {
	payload := map[string]any{
		"type":        "screenshot",
		"data_base64": base64.StdEncoding.EncodeToString(data),
	}
	encoded, _ := json.Marshal(payload)
	return string(encoded)
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", errors.Errorf("missing argument %q", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", errors.Errorf("argument %q must be a string", key)
	}
	return value, nil
}

func intArg(args map[string]any, key string) (int, error) {
	raw, ok := args[key]
	if !ok {
		return 0, errors.Errorf("missing argument %q", key)
	}
	switch value := raw.(type) {
	case float64:
		return int(value), nil
	case int:
		return value, nil
	case json.Number:
		parsed, err := value.Int64()
		if err != nil {
			return 0, errors.Errorf("argument %q must be an integer", key)
		}
		return int(parsed), nil
	default:
		return 0, errors.Errorf("argument %q must be an integer", key)
	}
}

func pointArgs(args map[string]any, xKey, yKey string) (int, int, error) {
	x, err := intArg(args, xKey)
	if err != nil {
		return 0, 0, err
	}
	y, err := intArg(args, yKey)
	if err != nil {
		return 0, 0, err
	}
	return x, y, nil
}

func durationMsArg(args map[string]any, key string, fallback time.Duration) time.Duration {
	ms, err := intArg(args, key)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
