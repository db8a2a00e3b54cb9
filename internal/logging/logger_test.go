package logging

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLoggerFormatsFieldsAndFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(LevelInfo, log.New(&buf, "", 0))

	l.Debug("hidden")
	l.Info("drain complete", F("records", 3), F("trigger", "period"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line should be filtered: %q", out)
	}
	want := "[INFO] drain complete {records: 3, trigger: period}\n"
	if out != want {
		t.Fatalf("unexpected output %q want %q", out, want)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"WARN":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want %v", in, got, want)
		}
	}
}
