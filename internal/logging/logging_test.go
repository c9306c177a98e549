package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
		err  bool
	}{
		{"", zerolog.InfoLevel, false},
		{"DEBUG", zerolog.DebugLevel, false},
		{" warn ", zerolog.WarnLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if got != tt.want || (err != nil) != tt.err {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v, err=%v", tt.in, got, err, tt.want, tt.err)
		}
	}
}

func TestNew_JSONFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", JSON, &buf)
	log.Info().Msg("hidden")
	log.Warn().Int64("kpi", 7).Msg("shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("got %d lines, want 1: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if entry["message"] != "shown" || entry["kpi"] != float64(7) {
		t.Fatalf("entry = %v", entry)
	}
}

func TestNew_BadLevelWarns(t *testing.T) {
	var buf bytes.Buffer
	New("loud", Console, &buf)
	if !strings.Contains(buf.String(), "using info level") {
		t.Fatalf("missing fallback warning: %q", buf.String())
	}
}
