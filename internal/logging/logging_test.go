package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":  zerolog.DebugLevel,
		" WARN ": zerolog.WarnLevel,
		"":       zerolog.InfoLevel,
		"bogus":  zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestComponentTagsOutput(t *testing.T) {
	var buf bytes.Buffer
	root := New("info", false, &buf)
	log := Component(&root, "bus")
	log.Info().Msg("hello")

	if !strings.Contains(buf.String(), `"component":"bus"`) {
		t.Errorf("expected component field, got %s", buf.String())
	}
}

func TestComponentNilIsSilent(t *testing.T) {
	log := Component(nil, "bus")
	if log.GetLevel() != zerolog.Disabled {
		t.Errorf("expected disabled logger, got %v", log.GetLevel())
	}
}
