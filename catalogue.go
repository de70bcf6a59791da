package appagent

// Canonical tool names exposed to the model. The vocabulary is closed: a
// session catalogue is always assembled from these specs plus one finish tool
// whose result schema varies per goal.
const (
	toolNameScreenshot = "screenshot"
	toolNameTap        = "tap"
	toolNameSwipe      = "swipe"
	toolNameTypeText   = "type_text"
	toolNamePressKey   = "press_key"
	toolNameLaunchApp  = "launch_app"
	toolNameScreenSize = "screen_size"
	toolNameFinish     = "finish"
)

func screenshotTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolCapture,
		Name:        toolNameScreenshot,
		Description: "Capture the current device screen as an image.",
	}
}

func tapTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolTap,
		Name:        toolNameTap,
		Description: "Tap the screen at absolute pixel coordinates.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"x": map[string]any{"type": "integer"},
				"y": map[string]any{"type": "integer"},
			},
			"required": []any{"x", "y"},
		},
	}
}

func swipeTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolSwipe,
		Name:        toolNameSwipe,
		Description: "Swipe between two points over the given duration.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"from_x":      map[string]any{"type": "integer"},
				"from_y":      map[string]any{"type": "integer"},
				"to_x":        map[string]any{"type": "integer"},
				"to_y":        map[string]any{"type": "integer"},
				"duration_ms": map[string]any{"type": "integer"},
			},
			"required": []any{"from_x", "from_y", "to_x", "to_y"},
		},
	}
}

func typeTextTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolTypeText,
		Name:        toolNameTypeText,
		Description: "Type ASCII text into the focused input field.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"text": map[string]any{"type": "string"},
			},
			"required": []any{"text"},
		},
	}
}

func pressKeyTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolPressKey,
		Name:        toolNamePressKey,
		Description: "Press a hardware/navigation key by Android keycode (4 = back).",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"code": map[string]any{"type": "integer"},
			},
			"required": []any{"code"},
		},
	}
}

func launchAppTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolLaunchApp,
		Name:        toolNameLaunchApp,
		Description: "Launch an application by package id, optionally with an explicit activity.",
		Params: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"package":  map[string]any{"type": "string"},
				"activity": map[string]any{"type": "string"},
			},
			"required": []any{"package"},
		},
	}
}

func screenSizeTool() ToolSpec {
	return ToolSpec{
		Kind:        ToolScreenSize,
		Name:        toolNameScreenSize,
		Description: "Query the device screen dimensions in pixels.",
	}
}

func finishTool(description string, resultSchema map[string]any) ToolSpec {
	return ToolSpec{
		Kind:        ToolFinish,
		Name:        toolNameFinish,
		Description: description,
		Params:      resultSchema,
	}
}

// inspectionCatalogue exposes read-only screen access plus finish. Used for
// goals that must not disturb device state (readiness probe, comment verify).
func inspectionCatalogue(finishDescription string, resultSchema map[string]any) []ToolSpec {
	return []ToolSpec{
		screenshotTool(),
		screenSizeTool(),
		finishTool(finishDescription, resultSchema),
	}
}

// recoveryCatalogue adds the small set of actions the health probe may use to
// dismiss overlays and navigate back to the content view.
func recoveryCatalogue(finishDescription string, resultSchema map[string]any) []ToolSpec {
	return []ToolSpec{
		screenshotTool(),
		tapTool(),
		pressKeyTool(),
		launchAppTool(),
		finishTool(finishDescription, resultSchema),
	}
}

// learnCatalogue exposes the full device vocabulary so the model can probe
// the interface while mapping UI roles to coordinates.
func learnCatalogue(finishDescription string, resultSchema map[string]any) []ToolSpec {
	return []ToolSpec{
		screenshotTool(),
		screenSizeTool(),
		tapTool(),
		swipeTool(),
		typeTextTool(),
		pressKeyTool(),
		finishTool(finishDescription, resultSchema),
	}
}
