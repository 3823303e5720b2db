package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/workerhost/internal/config"
	"github.com/Iron-Ham/workerhost/internal/logging"
)

// executeCommand runs a cobra command with args and returns captured output
func executeCommand(t *testing.T, root *cobra.Command, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "workerhost" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "workerhost")
	}

	want := map[string]bool{"run": false, "config": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out, err := executeCommand(t, rootCmd, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	path := config.ConfigFile()
	if !strings.Contains(out, path) {
		t.Errorf("output %q does not name %s", out, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var written config.Config
	if err := yaml.Unmarshal(data, &written); err != nil {
		t.Fatalf("config file is not YAML: %v", err)
	}
	if written.Worker.Count != config.Default().Worker.Count || written.Process.Locale != "en-US" {
		t.Errorf("written config = %+v", written)
	}

	if _, err := executeCommand(t, rootCmd, "config", "init"); err == nil {
		t.Error("second config init should refuse to overwrite")
	}

	out, err = executeCommand(t, rootCmd, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "Config file: "+path) || !strings.Contains(out, "worker:") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	out, err := executeCommand(t, rootCmd, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, filepath.Join(dir, "workerhost", "config.yaml")) {
		t.Errorf("output does not show the config path:\n%s", out)
	}
	if !strings.Contains(out, "WORKERHOST_WORKER_COUNT") {
		t.Errorf("output does not mention environment overrides:\n%s", out)
	}
}

func TestRunHost(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.Count = 2
	cfg.Worker.StepDelay = 0

	var out bytes.Buffer
	if err := runHost(context.Background(), cfg, logging.NopLogger(), &out, 0); err != nil {
		t.Fatalf("runHost: %v\n%s", err, out.String())
	}

	text := out.String()
	if !strings.Contains(text, "WORKER") || !strings.Contains(text, cfg.Worker.ScriptURL) {
		t.Errorf("missing status table:\n%s", text)
	}
	if strings.Count(text, cfg.Worker.ScriptURL) != 2 {
		t.Errorf("want one row per worker:\n%s", text)
	}
	if !strings.Contains(text, "All workers stopped.") {
		t.Errorf("missing shutdown line:\n%s", text)
	}
}

func TestRunHost_StartFailure(t *testing.T) {
	cfg := config.Default()
	cfg.Worker.StepDelay = 0
	cfg.Worker.FailEvaluation = true

	var out bytes.Buffer
	err := runHost(context.Background(), cfg, logging.NopLogger(), &out, 0)
	if err == nil || !strings.Contains(err.Error(), "start workers") {
		t.Fatalf("runHost error = %v, want a start failure", err)
	}
	if strings.Contains(out.String(), "All workers stopped.") {
		t.Error("a failed run should not report a clean stop")
	}
}

func TestRunCommand_FlagsOverrideConfig(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out, err := executeCommand(t, rootCmd, "run", "--workers", "3", "--script", "https://example.test/app/sw.js", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if got := strings.Count(out, "https://example.test/app/sw.js"); got != 3 {
		t.Errorf("rows = %d, want 3:\n%s", got, out)
	}
}
