package appagent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

// scriptedModel replays a fixed sequence of turns. A nil error with an empty
// turn at the end of the script fails the calling test loudly instead of
// looping forever.
type scriptedModel struct {
	mu    sync.Mutex
	turns []scriptedTurn
	calls int
}

type scriptedTurn struct {
	turn ModelTurn
	err  error
}

func (m *scriptedModel) Generate(ctx context.Context, req ModelRequest) (ModelTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.calls >= len(m.turns) {
		return ModelTurn{}, errors.New("scripted model exhausted")
	}
	next := m.turns[m.calls]
	m.calls++
	return next.turn, next.err
}

// fakeDevice records every call and fails the operations named in failOn.
type fakeDevice struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
	screen ScreenSize
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		failOn: map[string]error{},
		screen: ScreenSize{Width: 1080, Height: 2400},
	}
}

func (d *fakeDevice) record(call string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, call)
	if err, ok := d.failOn[strings.SplitN(call, "(", 2)[0]]; ok {
		return err
	}
	return nil
}

func (d *fakeDevice) callCount(prefix string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, call := range d.calls {
		if strings.HasPrefix(call, prefix) {
			n++
		}
	}
	return n
}

func (d *fakeDevice) Capture(ctx context.Context) ([]byte, error) {
	if err := d.record("capture"); err != nil {
		return nil, err
	}
	return []byte{0x89, 0x50, 0x4e, 0x47}, nil
}

func (d *fakeDevice) Tap(ctx context.Context, x, y int) error {
	return d.record(fmt.Sprintf("tap(%d,%d)", x, y))
}

func (d *fakeDevice) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	return d.record(fmt.Sprintf("swipe(%d,%d,%d,%d)", x1, y1, x2, y2))
}

func (d *fakeDevice) TypeText(ctx context.Context, text string) error {
	return d.record("type(" + text + ")")
}

func (d *fakeDevice) PressKey(ctx context.Context, code int) error {
	return d.record(fmt.Sprintf("key(%d)", code))
}

func (d *fakeDevice) LaunchApp(ctx context.Context, packageID, activity string) error {
	return d.record("launch(" + packageID + ")")
}

func (d *fakeDevice) TerminateApp(ctx context.Context, packageID string) error {
	return d.record("terminate(" + packageID + ")")
}

func (d *fakeDevice) ScreenSize(ctx context.Context) (ScreenSize, error) {
	if err := d.record("screensize"); err != nil {
		return ScreenSize{}, err
	}
	return d.screen, nil
}

func finishCall(args map[string]any) ModelTurn {
	return ModelTurn{ToolCalls: []ToolCall{{ID: "call-finish", Name: toolNameFinish, Arguments: args}}}
}

func TestSessionReturnsFinishArguments(t *testing.T) {
	model := &scriptedModel{turns: []scriptedTurn{
		{turn: ModelTurn{ToolCalls: []ToolCall{{ID: "c1", Name: toolNameScreenshot}}}},
		{turn: finishCall(map[string]any{"success": true, "reason": "feed visible"})},
	}}
	device := newFakeDevice()
	session, err := NewSession(model, device)
	if err != nil {
		t.Fatalf("NewSession returned error: %v", err)
	}

	result, err := session.Run(context.Background(), SessionRequest{
		Goal:         "confirm the feed",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
		MaxSteps:     5,
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if success, _ := result["success"].(bool); !success {
		t.Fatalf("expected success=true in result, got %#v", result)
	}
	if device.callCount("capture") != 1 {
		t.Fatalf("expected one screenshot capture, calls: %v", device.calls)
	}
}

func TestSessionStepBudgetExceeded(t *testing.T) {
	turns := make([]scriptedTurn, 3)
	for i := range turns {
		turns[i] = scriptedTurn{turn: ModelTurn{ToolCalls: []ToolCall{{ID: "c", Name: toolNameScreenshot}}}}
	}
	model := &scriptedModel{turns: turns}
	session, _ := NewSession(model, newFakeDevice())

	_, err := session.Run(context.Background(), SessionRequest{
		Goal:         "never finishes",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
		MaxSteps:     3,
	})
	if !errors.Is(err, ErrStepBudgetExceeded) {
		t.Fatalf("expected ErrStepBudgetExceeded, got %v", err)
	}
}

func TestSessionModelErrorIsTransport(t *testing.T) {
	model := &scriptedModel{turns: []scriptedTurn{
		{err: errors.New("connection reset")},
	}}
	session, _ := NewSession(model, newFakeDevice())

	_, err := session.Run(context.Background(), SessionRequest{
		Goal:         "any",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
	})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if errors.Is(err, ErrSchemaViolation) || errors.Is(err, ErrStepBudgetExceeded) {
		t.Fatalf("transport error must not match other sentinels: %v", err)
	}
}

func TestSessionFinishSchemaViolation(t *testing.T) {
	model := &scriptedModel{turns: []scriptedTurn{
		{turn: finishCall(map[string]any{"reason": "missing the success flag"})},
	}}
	session, _ := NewSession(model, newFakeDevice())

	_, err := session.Run(context.Background(), SessionRequest{
		Goal:         "any",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
	})
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("expected ErrSchemaViolation, got %v", err)
	}
}

func TestSessionFeedsDeviceErrorBackAsObservation(t *testing.T) {
	model := &scriptedModel{turns: []scriptedTurn{
		{turn: ModelTurn{ToolCalls: []ToolCall{{ID: "c1", Name: toolNameTap, Arguments: map[string]any{"x": float64(10), "y": float64(20)}}}}},
		{turn: finishCall(map[string]any{"healthy": true})},
	}}
	device := newFakeDevice()
	device.failOn["tap"] = errors.New("injection failed")
	session, _ := NewSession(model, device)

	result, err := session.Run(context.Background(), SessionRequest{
		Goal:         "recover",
		Tools:        recoveryCatalogue("report", healthResultSchema()),
		ResultSchema: healthResultSchema(),
		MaxSteps:     4,
	})
	if err != nil {
		t.Fatalf("device failure must not abort the session, got %v", err)
	}
	if healthy, _ := result["healthy"].(bool); !healthy {
		t.Fatalf("expected second turn to finish, got %#v", result)
	}
	if model.calls != 2 {
		t.Fatalf("expected 2 model turns, got %d", model.calls)
	}
}

func TestSessionUnknownToolBecomesObservation(t *testing.T) {
	model := &scriptedModel{turns: []scriptedTurn{
		{turn: ModelTurn{ToolCalls: []ToolCall{{ID: "c1", Name: "reboot_device"}}}},
		{turn: finishCall(map[string]any{"success": false, "reason": "gave up"})},
	}}
	device := newFakeDevice()
	session, _ := NewSession(model, device)

	result, err := session.Run(context.Background(), SessionRequest{
		Goal:         "any",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
		MaxSteps:     4,
	})
	if err != nil {
		t.Fatalf("unknown tool must not abort the session, got %v", err)
	}
	if len(device.calls) != 0 {
		t.Fatalf("unknown tool must not reach the device, calls: %v", device.calls)
	}
	if success, _ := result["success"].(bool); success {
		t.Fatalf("unexpected result %#v", result)
	}
}

func TestSessionCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	model := &scriptedModel{turns: []scriptedTurn{
		{turn: finishCall(map[string]any{"success": true})},
	}}
	session, _ := NewSession(model, newFakeDevice())

	_, err := session.Run(ctx, SessionRequest{
		Goal:         "any",
		Tools:        inspectionCatalogue("report", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if model.calls != 0 {
		t.Fatalf("canceled session must not call the model")
	}
}
