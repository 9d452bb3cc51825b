package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hazyhaar/html2png/capture"
	"github.com/hazyhaar/html2png/encode"
	"github.com/hazyhaar/html2png/snapshot"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, exitOK},
		{&usageError{msg: "x"}, exitUsage},
		{fmt.Errorf("wrap: %w", capture.ErrConfig), exitUsage},
		{fmt.Errorf("%w: html and url", snapshot.ErrInvalidRequest), exitUsage},
		{&capture.DetectionError{Marker: "m"}, exitDetection},
		{fmt.Errorf("tile: %w", capture.ErrCaptureFailed), exitCapture},
		{&encode.EncodeError{Op: "write", Err: errors.New("disk full")}, exitEncode},
		{fmt.Errorf("%w: no chrome", snapshot.ErrRenderer), exitRenderer},
	}
	for _, c := range cases {
		if got := exitCode(c.err); got != c.want {
			t.Errorf("exitCode(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	cfg, err := loadConfig(options{
		disableJS: true, lenient: true, timeout: 7, pluginDelay: 2,
		addr: ":9999", storePath: "/tmp/jobs.db",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Browser.DisableJS || !cfg.Capture.Lenient {
		t.Errorf("toggles not applied: %+v %+v", cfg.Browser, cfg.Capture)
	}
	if cfg.Capture.Timeout.Seconds() != 7 || cfg.Capture.PluginDelay.Seconds() != 2 {
		t.Errorf("durations = %v %v", cfg.Capture.Timeout, cfg.Capture.PluginDelay)
	}
	if cfg.Server.Addr != ":9999" || cfg.Store.Path != "/tmp/jobs.db" {
		t.Errorf("server/store = %q %q", cfg.Server.Addr, cfg.Store.Path)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := loadConfig(options{configPath: "/nonexistent/html2png.yaml"})
	if exitCode(err) != exitUsage {
		t.Fatalf("missing config: %v", err)
	}
}
