package appagent

import (
	"context"
	"time"
)

// DeviceStatus reflects the connectivity of a discovered device.
type DeviceStatus string

const (
	DeviceStatusConnected    DeviceStatus = "connected"
	DeviceStatusOffline      DeviceStatus = "offline"
	DeviceStatusUnauthorized DeviceStatus = "unauthorized"
)

// Device identifies one physically connected handset.
type Device struct {
	Serial string
	Name   string
	Status DeviceStatus
}

// Point is an absolute screen coordinate.
type Point struct {
	X int
	Y int
}

// ScreenSize holds the device display dimensions in pixels.
type ScreenSize struct {
	Width  int
	Height int
}

// DeviceSurface is the device-control capability boundary the engine consumes.
// Every call may fail with a transport error; the engine treats all of them as
// fallible and never retries inside a single call.
type DeviceSurface interface {
	Capture(ctx context.Context) ([]byte, error)
	Tap(ctx context.Context, x, y int) error
	Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error
	TypeText(ctx context.Context, text string) error
	PressKey(ctx context.Context, code int) error
	LaunchApp(ctx context.Context, packageID, activity string) error
	TerminateApp(ctx context.Context, packageID string) error
	ScreenSize(ctx context.Context) (ScreenSize, error)
}

// DeviceProvider enumerates currently connected devices. Used by the pool at
// startup and when recreating a single engine.
type DeviceProvider interface {
	ListDevices(ctx context.Context) ([]Device, error)
}

// SurfaceFactory binds a discovered device to its control surface.
type SurfaceFactory interface {
	Surface(device Device) (DeviceSurface, error)
}

// Message is one entry of a tool-calling transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ModelTurn is one assistant reply: free text, tool calls, or both.
type ModelTurn struct {
	Content   string
	ToolCalls []ToolCall
}

// ModelRequest carries the transcript and tool catalogue for one model turn.
type ModelRequest struct {
	Messages []Message
	Tools    []ToolSpec
}

// ModelSurface is the vision/language capability boundary. Implementations
// answer one conversational turn at a time; the bounded session loop lives in
// this package.
type ModelSurface interface {
	Generate(ctx context.Context, req ModelRequest) (ModelTurn, error)
}
