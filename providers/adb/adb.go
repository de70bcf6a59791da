package adb

import (
	"context"
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/httprunner/AppAgent"
	"github.com/httprunner/httprunner/v5/pkg/gadb"
	"github.com/pkg/errors"
)

// Provider implements appagent.DeviceProvider and appagent.SurfaceFactory
// using gadb.
type Provider struct {
	client gadb.Client
}

// New creates a Provider backed by the given gadb client.
func New(client gadb.Client) *Provider {
	return &Provider{client: client}
}

// NewDefault creates a Provider using a default gadb client.
func NewDefault() (*Provider, error) {
	client, err := gadb.NewClient()
	if err != nil {
		return nil, errors.Wrap(err, "init adb client")
	}
	return New(client), nil
}

// ListDevices returns connected devices with their adb states mapped onto
// the core connectivity statuses.
func (p *Provider) ListDevices(ctx context.Context) ([]appagent.Device, error) {
	if p == nil {
		return nil, errors.New("adb provider is nil")
	}
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	result := make([]appagent.Device, 0, len(devs))
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		serial := strings.TrimSpace(dev.Serial())
		if serial == "" {
			continue
		}
		rawState := string(gadb.StateUnknown)
		if state, err := dev.State(); err == nil {
			rawState = string(state)
		}
		device := appagent.Device{
			Serial: serial,
			Status: mapDeviceStatus(rawState),
		}
		if device.Status == appagent.DeviceStatusConnected {
			if model, err := dev.RunShellCommand("getprop", "ro.product.model"); err == nil {
				device.Name = strings.TrimSpace(model)
			}
		}
		result = append(result, device)
	}
	return result, nil
}

func mapDeviceStatus(state string) appagent.DeviceStatus {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "device", "online":
		return appagent.DeviceStatusConnected
	case "unauthorized":
		return appagent.DeviceStatusUnauthorized
	default:
		return appagent.DeviceStatusOffline
	}
}

// Surface binds a discovered device to its adb-backed control surface.
func (p *Provider) Surface(device appagent.Device) (appagent.DeviceSurface, error) {
	dev, err := p.findDevice(device.Serial)
	if err != nil {
		return nil, err
	}
	return &Surface{device: dev}, nil
}

// DeviceMeta collects OS version and root status via adb shell, best effort.
func (p *Provider) DeviceMeta(serial string) appagent.DeviceMeta {
	meta := appagent.DeviceMeta{OSType: "android"}
	dev, err := p.findDevice(serial)
	if err != nil {
		return meta
	}
	if output, err := dev.RunShellCommand("getprop", "ro.build.version.release"); err == nil {
		meta.OSVersion = strings.TrimSpace(output)
	}
	meta.IsRoot = "false"
	if output, err := dev.RunShellCommand("su", "-c", "id"); err == nil && strings.Contains(output, "uid=0") {
		meta.IsRoot = "true"
	} else if output, err := dev.RunShellCommand("which", "su"); err == nil && strings.TrimSpace(output) != "" {
		meta.IsRoot = "true"
	}
	return meta
}

func (p *Provider) findDevice(serial string) (*gadb.Device, error) {
	devs, err := p.client.DeviceList()
	if err != nil {
		return nil, errors.Wrap(err, "list adb devices")
	}
	target := strings.TrimSpace(serial)
	for _, dev := range devs {
		if dev == nil {
			continue
		}
		if strings.TrimSpace(dev.Serial()) == target {
			return dev, nil
		}
	}
	return nil, errors.Errorf("device %s not found", serial)
}

// Surface implements appagent.DeviceSurface through adb shell input
// primitives. All calls are synchronous; gadb carries no context, so the
// ctx parameters only gate the call upfront.
type Surface struct {
	device *gadb.Device
}

func (s *Surface) shell(ctx context.Context, cmd string, args ...string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.device.RunShellCommand(cmd, args...)
}

// Capture grabs a PNG screenshot. The payload travels base64-encoded because
// adb shell transports mangle raw binary output.
func (s *Surface) Capture(ctx context.Context) ([]byte, error) {
	output, err := s.shell(ctx, "sh", "-c", "screencap -p | base64")
	if err != nil {
		return nil, errors.Wrap(err, "screencap")
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return -1
		}
		return r
	}, output)
	data, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, errors.Wrap(err, "decode screencap output")
	}
	return data, nil
}

func (s *Surface) Tap(ctx context.Context, x, y int) error {
	_, err := s.shell(ctx, "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return errors.Wrap(err, "input tap")
}

func (s *Surface) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := s.shell(ctx, "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(int(duration.Milliseconds())))
	return errors.Wrap(err, "input swipe")
}

// TypeText feeds text through `input text`, which requires spaces escaped as
// %s and only handles ASCII reliably. Callers sanitize beforehand.
func (s *Surface) TypeText(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := s.shell(ctx, "input", "text", escaped)
	return errors.Wrap(err, "input text")
}

func (s *Surface) PressKey(ctx context.Context, code int) error {
	_, err := s.shell(ctx, "input", "keyevent", strconv.Itoa(code))
	return errors.Wrap(err, "input keyevent")
}

func (s *Surface) LaunchApp(ctx context.Context, packageID, activity string) error {
	var err error
	if strings.TrimSpace(activity) != "" {
		_, err = s.shell(ctx, "am", "start", "-n", packageID+"/"+activity)
	} else {
		_, err = s.shell(ctx, "monkey", "-p", packageID, "-c", "android.intent.category.LAUNCHER", "1")
	}
	return errors.Wrapf(err, "launch %s", packageID)
}

func (s *Surface) TerminateApp(ctx context.Context, packageID string) error {
	_, err := s.shell(ctx, "am", "force-stop", packageID)
	return errors.Wrapf(err, "force-stop %s", packageID)
}

func (s *Surface) ScreenSize(ctx context.Context) (appagent.ScreenSize, error) {
	output, err := s.shell(ctx, "wm", "size")
	if err != nil {
		return appagent.ScreenSize{}, errors.Wrap(err, "wm size")
	}
	return ParseScreenSize(output)
}

// ParseScreenSize extracts dimensions from `wm size` output, preferring the
// override size over the physical one when both are reported.
func ParseScreenSize(output string) (appagent.ScreenSize, error) {
	var physical, override appagent.ScreenSize
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		size, label, ok := parseSizeLine(line)
		if !ok {
			continue
		}
		switch label {
		case "override":
			override = size
		case "physical":
			physical = size
		}
	}
	if override.Width > 0 && override.Height > 0 {
		return override, nil
	}
	if physical.Width > 0 && physical.Height > 0 {
		return physical, nil
	}
	return appagent.ScreenSize{}, errors.Errorf("no screen size in output %q", output)
}

func parseSizeLine(line string) (appagent.ScreenSize, string, bool) {
	label := ""
	switch {
	case strings.HasPrefix(line, "Physical size:"):
		label = "physical"
	case strings.HasPrefix(line, "Override size:"):
		label = "override"
	default:
		return appagent.ScreenSize{}, "", false
	}
	_, value, _ := strings.Cut(line, ":")
	wStr, hStr, ok := strings.Cut(strings.TrimSpace(value), "x")
	if !ok {
		return appagent.ScreenSize{}, "", false
	}
	width, err := strconv.Atoi(strings.TrimSpace(wStr))
	if err != nil {
		return appagent.ScreenSize{}, "", false
	}
	height, err := strconv.Atoi(strings.TrimSpace(hStr))
	if err != nil {
		return appagent.ScreenSize{}, "", false
	}
	return appagent.ScreenSize{Width: width, Height: height}, label, true
}
