package adb

import "testing"

func TestParseScreenSizePhysical(t *testing.T) {
	size, err := ParseScreenSize("Physical size: 1080x2400\n")
	if err != nil {
		t.Fatalf("ParseScreenSize returned error: %v", err)
	}
	if size.Width != 1080 || size.Height != 2400 {
		t.Fatalf("unexpected size %#v", size)
	}
}

func TestParseScreenSizePrefersOverride(t *testing.T) {
	output := "Physical size: 1440x3200\nOverride size: 1080x2400\n"
	size, err := ParseScreenSize(output)
	if err != nil {
		t.Fatalf("ParseScreenSize returned error: %v", err)
	}
	if size.Width != 1080 || size.Height != 2400 {
		t.Fatalf("expected override size, got %#v", size)
	}
}

func TestParseScreenSizeIgnoresNoise(t *testing.T) {
	output := "WARNING: linker: app_process has text relocations\nPhysical size: 720x1280"
	size, err := ParseScreenSize(output)
	if err != nil {
		t.Fatalf("ParseScreenSize returned error: %v", err)
	}
	if size.Width != 720 || size.Height != 1280 {
		t.Fatalf("unexpected size %#v", size)
	}
}

func TestParseScreenSizeRejectsGarbage(t *testing.T) {
	for _, output := range []string{"", "no size here", "Physical size: axb"} {
		if _, err := ParseScreenSize(output); err == nil {
			t.Fatalf("expected error for %q", output)
		}
	}
}
