package util

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pterm/pterm"
)

func TestFormatBytesWidth(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		got := formatBytes(tc.in)
		if got != tc.want {
			t.Errorf("formatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
		if len(got) != 8 {
			t.Errorf("formatBytes(%v): width %d, want 8", tc.in, len(got))
		}
	}
}

func TestSplitHost(t *testing.T) {
	testCases := map[string]string{
		"10.0.0.5:51234": "10.0.0.5",
		"[::1]:80":       "::1",
		"10.0.0.9":       "10.0.0.9",
	}
	for in, want := range testCases {
		if got := SplitHost(in); got != want {
			t.Errorf("SplitHost(%q): got %q, want %q", in, got, want)
		}
	}
}

func TestPionLoggerFactoryScopes(t *testing.T) {
	l := PionLoggerFactory{}.NewLogger("ice")
	pl, ok := l.(*pionLogger)
	if !ok {
		t.Fatalf("unexpected logger type %T", l)
	}
	if pl.prefix != "[pion:ice] " {
		t.Errorf("prefix: got %q", pl.prefix)
	}
	// Must not panic at any level.
	l.Tracef("t %d", 1)
	l.Debug("d")
	l.Infof("i %s", "x")
	l.Warn("w")
	l.Errorf("e %v", nil)
}

func TestDebugEnabledFollowsLevel(t *testing.T) {
	saved := pterm.DefaultLogger.Level
	defer func() { pterm.DefaultLogger.Level = saved }()

	testCases := map[pterm.LogLevel]bool{
		pterm.LogLevelDisabled: false,
		pterm.LogLevelInfo:     false,
		pterm.LogLevelWarn:     false,
		pterm.LogLevelDebug:    true,
		pterm.LogLevelTrace:    true,
	}
	for level, want := range testCases {
		pterm.DefaultLogger.Level = level
		if got := DebugEnabled(); got != want {
			t.Errorf("level %v: got %v, want %v", level, got, want)
		}
	}
}

// TestPionLoggerQuietBelowWarning verifies pion's info output only appears
// once debug logging is enabled, while warnings always do.
func TestPionLoggerQuietBelowWarning(t *testing.T) {
	savedLevel, savedWriter := pterm.DefaultLogger.Level, pterm.DefaultLogger.Writer
	defer func() {
		pterm.DefaultLogger.Level = savedLevel
		pterm.DefaultLogger.Writer = savedWriter
	}()

	var buf bytes.Buffer
	pterm.DefaultLogger.Writer = &buf
	pterm.DefaultLogger.Level = pterm.LogLevelInfo
	l := PionLoggerFactory{}.NewLogger("dtls")

	l.Infof("handshake %d", 1)
	if strings.Contains(buf.String(), "handshake") {
		t.Fatalf("info logged without debug: %q", buf.String())
	}
	l.Warn("retransmit")
	if !strings.Contains(buf.String(), "[pion:dtls] retransmit") {
		t.Fatalf("warning missing: %q", buf.String())
	}

	EnableDebug()
	l.Infof("handshake %d", 2)
	if !strings.Contains(buf.String(), "[pion:dtls] handshake 2") {
		t.Fatalf("info missing with debug on: %q", buf.String())
	}
}
