package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("Test", "warn", &buf)
	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	l.Errorf("also shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("INFO line written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN][Test] shown 2\n") || !strings.Contains(out, "[ERROR][Test] also shown\n") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	l.SetLevel("DEBUG")
	l.Debugf("debug")
	if !strings.Contains(buf.String(), "[DEBUG][Test] debug") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARNING": LevelWarn,
		" error ": LevelError,
		"verbose": LevelInfo,
		"":        LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConfigure(t *testing.T) {
	var before bytes.Buffer
	a := NewLogger("A", "ERROR", &before)
	b := NewLogger("B", "INFO", nil)
	t.Cleanup(func() { Configure("INFO", nil) })

	var buf bytes.Buffer
	Configure("DEBUG", &buf)
	a.Debugf("from a")
	b.Debugf("from b")

	out := buf.String()
	if !strings.Contains(out, "[DEBUG][A] from a\n") || !strings.Contains(out, "[DEBUG][B] from b\n") {
		t.Fatalf("expected both loggers redirected at DEBUG, got %q", out)
	}
	if before.Len() != 0 {
		t.Fatalf("expected nothing on the old writer, got %q", before.String())
	}
}
