package transport

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadScriptVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		base string
		os   string
	}{
		{"rdp", "windows"},
		{"rdp", "linux"},
		{"rdp", "macos"},
		{"nx", "linux"},
		{"spice", "windows"},
	}
	for _, tc := range tests {
		text, signature, err := LoadScript(tc.base, tc.os)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.base, tc.os, err)
		}
		if text == "" || signature == "" {
			t.Fatalf("%s/%s: empty script or signature", tc.base, tc.os)
		}
	}
}

func TestLoadScriptUnsupportedOS(t *testing.T) {
	t.Parallel()
	if _, _, err := LoadScript("rdp", "beos"); !errors.Is(err, ErrUnsupportedOS) {
		t.Fatalf("expected ErrUnsupportedOS, got %v", err)
	}
	if _, _, err := LoadScript("spice", "macos"); !errors.Is(err, ErrUnsupportedOS) {
		t.Fatalf("expected ErrUnsupportedOS for missing variant, got %v", err)
	}
}

func TestRenderScriptSubstitutesParams(t *testing.T) {
	t.Parallel()
	script, err := RenderScript("rdp", "linux", ScriptParams{
		Address:  "192.168.1.20",
		Port:     3390,
		Username: "bob",
		Password: "pw",
		Domain:   "LAB",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"192.168.1.20", "3390", "bob", "LAB"} {
		if !strings.Contains(script, want) {
			t.Fatalf("rendered script missing %q:\n%s", want, script)
		}
	}
	if strings.Contains(script, "{{") {
		t.Fatalf("unsubstituted placeholder remains:\n%s", script)
	}
}
