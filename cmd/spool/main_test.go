package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// writeTestConfig writes a minimal config under a temp dir and returns its
// path. APIBind is empty so commands never try to reach a daemon.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("TMDB_API_KEY", "test")

	content := fmt.Sprintf(`database_url = %q
input_media_path = %q
output_dir = %q
log_dir = %q
api_bind = ""
`,
		filepath.Join(base, "spool.db"),
		filepath.Join(base, "input"),
		filepath.Join(base, "output"),
		filepath.Join(base, "logs"),
	)
	path := filepath.Join(base, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(base, "input"), 0o755); err != nil {
		t.Fatalf("mkdir input: %v", err)
	}
	return path
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRootShowsHelpWithoutArgs(t *testing.T) {
	cfgPath := writeTestConfig(t)
	out, err := runCommand(t, "--config", cfgPath)
	if err != nil {
		t.Fatalf("execute root: %v", err)
	}
	if out == "" {
		t.Fatal("expected help output")
	}
}

func TestConfigInitSkipsConfigLoad(t *testing.T) {
	target := filepath.Join(t.TempDir(), "config.toml")
	out, err := runCommand(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, statErr := os.Stat(target); statErr != nil {
		t.Fatalf("expected config file at %s: %v", target, statErr)
	}
	if out == "" {
		t.Fatal("expected confirmation output")
	}

	if _, err := runCommand(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when file exists without --overwrite")
	}
	if _, err := runCommand(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestShouldSkipConfigWalksParents(t *testing.T) {
	parent := &cobra.Command{Use: "parent", Annotations: map[string]string{"skipConfigLoad": "true"}}
	child := &cobra.Command{Use: "child"}
	parent.AddCommand(child)
	if !shouldSkipConfig(child) {
		t.Fatal("expected child of annotated parent to skip config load")
	}
	if shouldSkipConfig(&cobra.Command{Use: "plain"}) {
		t.Fatal("expected plain command to load config")
	}
}
