package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"

	"geoframe/internal/config"
	"geoframe/internal/engine"
)

const smallConfig = `
display:
  screen_width: 320
  screen_height: 240
logging:
  level: error
swarm:
  agents: 100
  spawn_rate: 50
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSimulatePrintsCrisisTransitions(t *testing.T) {
	path := writeConfig(t, "small.yaml", smallConfig)
	out, err := execute(t, "-c", path, "simulate", "--duration", "16s", "--low-at", "5s", "--low-for", "4s")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"crisis entered  reasons=fps", "crisis exited", "crisis    1 entered, 1 exited, state normal", "agents    100"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "crisis entered") > strings.Index(out, "crisis exited") {
		t.Errorf("exit printed before entry:\n%s", out)
	}
}

func TestSimulateSteadyJSON(t *testing.T) {
	path := writeConfig(t, "small.yaml", smallConfig)
	out, err := execute(t, "-c", path, "simulate", "--duration", "3s", "--low-for", "0", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal([]byte(out), &snap); err != nil {
		t.Fatalf("decode snapshot: %v\n%s", err, out)
	}
	if snap.Emergency.Entered != 0 || snap.Emergency.State != "normal" {
		t.Errorf("emergency = %+v, want no crisis", snap.Emergency)
	}
	if snap.Steps == 0 || snap.Agents != 100 {
		t.Errorf("steps %d agents %d", snap.Steps, snap.Agents)
	}
}

func TestSimulateRejectsBadStep(t *testing.T) {
	if _, err := execute(t, "simulate", "--step", "0s"); err == nil {
		t.Error("zero step accepted")
	}
}

func TestConfigShowFormats(t *testing.T) {
	path := writeConfig(t, "small.yaml", smallConfig)
	out, err := execute(t, "-c", path, "config", "show", "--format", "json")
	if err != nil {
		t.Fatal(err)
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(out), &cfg); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if cfg.Display.ScreenWidth != 320 || cfg.Swarm.Agents != 100 {
		t.Errorf("loaded values lost: %+v %+v", cfg.Display, cfg.Swarm)
	}
	if cfg.Emergency.Thresholds.MinFPS != config.Default().Emergency.Thresholds.MinFPS {
		t.Error("defaults not kept for unset fields")
	}

	out, err = execute(t, "config", "show", "-f", "toml", "--log-level", "debug")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "[emergency]") || !strings.Contains(out, "debug") {
		t.Errorf("toml output:\n%s", out)
	}

	if _, err := execute(t, "config", "show", "--format", "ini"); err == nil {
		t.Error("unknown format accepted")
	}
}

func TestConfigValidate(t *testing.T) {
	out, err := execute(t, "config", "validate")
	if err != nil || strings.TrimSpace(out) != "ok" {
		t.Errorf("validate = %q, %v", out, err)
	}
	bad := writeConfig(t, "bad.toml", "[feed]\nbatch_size = 0\n")
	if _, err := execute(t, "-c", bad, "config", "validate"); !eris.Is(err, config.ErrInvalid) {
		t.Errorf("err = %v, want invalid config", err)
	}
}
