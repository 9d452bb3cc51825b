package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Browser.ViewportWidth != 1024 || cfg.Browser.ViewportHeight != 768 {
		t.Fatalf("viewport = %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	}
	if cfg.Capture.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v", cfg.Capture.Timeout)
	}
	if cfg.Output.Quality != 90 || cfg.Output.ScaleMode != "inside" {
		t.Fatalf("output = %+v", cfg.Output)
	}
	if cfg.Browser.Stealth != "headless" {
		t.Fatalf("stealth = %q", cfg.Browser.Stealth)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "html2png.yaml")
	yml := `
browser:
  remote: ws://127.0.0.1:9222/devtools/browser/abc
  disable_js: true
  kill_popups: true
capture:
  timeout: 5s
  plugin_delay: 2s
  lenient: true
output:
  dir: /tmp/shots
  scaled_width: 320
  scaled_height: 240
  scale_mode: outside
store:
  path: jobs.db
sinks:
  - type: webhook
    url: http://example.invalid/hook
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Browser.DisableJS || !cfg.Browser.KillPopups {
		t.Fatalf("browser toggles = %+v", cfg.Browser)
	}
	if cfg.Capture.Timeout != 5*time.Second || cfg.Capture.PluginDelay != 2*time.Second || !cfg.Capture.Lenient {
		t.Fatalf("capture = %+v", cfg.Capture)
	}
	if cfg.Output.ScaleMode != "outside" || cfg.Output.ScaledWidth != 320 {
		t.Fatalf("output = %+v", cfg.Output)
	}
	if len(cfg.Sinks) != 1 || cfg.Sinks[0].Retries != 3 {
		t.Fatalf("sinks = %+v", cfg.Sinks)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]string{
		"stealth":    "browser: {stealth: ghost}",
		"quality":    "output: {quality: 101}",
		"scale_mode": "output: {scale_mode: zoom}",
		"sink type":  "sinks: [{type: ftp}]",
		"sink url":   "sinks: [{type: webhook}]",
	}
	for name, yml := range cases {
		if _, err := Parse([]byte(yml)); err == nil || !strings.HasPrefix(err.Error(), "config:") {
			t.Errorf("%s: expected config error, got %v", name, err)
		}
	}
}
