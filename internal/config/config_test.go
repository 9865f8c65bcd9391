package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadFormats(t *testing.T) {
	cases := map[string]string{
		"c.yaml": "emergency:\n  poll_interval: 500ms\n  thresholds:\n    min_fps: 24\nculling:\n  margin: 64\n",
		"c.toml": "[emergency]\npoll_interval = \"500ms\"\n[emergency.thresholds]\nmin_fps = 24.0\n[culling]\nmargin = 64.0\n",
		"c.json": `{"emergency": {"poll_interval": "500ms", "thresholds": {"min_fps": 24}}, "culling": {"margin": 64}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Load(writeFile(t, name, body))
			if err != nil {
				t.Fatal(err)
			}
			if cfg.Emergency.PollInterval.D() != 500*time.Millisecond {
				t.Errorf("poll interval = %v", cfg.Emergency.PollInterval)
			}
			if cfg.Emergency.Thresholds.MinFPS != 24 || cfg.Culling.Margin != 64 {
				t.Errorf("values not applied: %+v %+v", cfg.Emergency.Thresholds, cfg.Culling)
			}
			// Unset values keep their defaults.
			if cfg.Emergency.Thresholds.ObjectCount != 1000 || cfg.Feed.BatchSize != 200 {
				t.Errorf("defaults lost: %+v", cfg.Emergency.Thresholds)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Error("empty path accepted")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file accepted")
	}
	if _, err := Load(writeFile(t, "c.ini", "x=1")); err == nil {
		t.Error("unknown extension accepted")
	}
	if _, err := Load(writeFile(t, "c.yaml", "pools:\n  cooldown: soon\n")); err == nil {
		t.Error("bad duration accepted")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Render.FrameSkip = 0
	err := cfg.Validate()
	if !eris.Is(err, ErrInvalid) {
		t.Fatalf("err = %v, want ErrInvalid", err)
	}

	path := writeFile(t, "c.yaml", "emergency:\n  recovery_samples: 0\n")
	if _, err := Load(path); !eris.Is(err, ErrInvalid) {
		t.Errorf("load err = %v, want ErrInvalid", err)
	}
}

func TestMustLoadPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("MustLoad did not panic")
		}
	}()
	MustLoad(filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestEncodeRoundTrip(t *testing.T) {
	want := Default()
	want.Feed.Throttle = Duration(40 * time.Millisecond)
	for _, format := range []string{"yaml", "toml", "json"} {
		var buf bytes.Buffer
		if err := want.Encode(&buf, format); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		var got Config
		if err := Decode(buf.Bytes(), format, &got); err != nil {
			t.Fatalf("%s: %v", format, err)
		}
		if got.Feed.Throttle != want.Feed.Throttle || got.Emergency.Crisis != want.Emergency.Crisis {
			t.Errorf("%s: round trip mismatch: %+v", format, got.Feed)
		}
	}
}
