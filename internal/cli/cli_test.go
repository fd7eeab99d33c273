package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/Ning0612/ddb/internal/testutil"
)

// run executes ddb with args and returns stdout
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := New()
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := run(t, args...)
	if err != nil {
		t.Fatalf("ddb %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI_EndToEnd(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	mustRun(t, "init", dir)
	if _, err := os.Stat(filepath.Join(dir, ".ddb")); err != nil {
		t.Fatalf("init did not create the marker: %v", err)
	}
	if _, err := run(t, "init", dir); err == nil {
		t.Error("second init should fail")
	}

	testutil.CreateTestFile(t, dir, "a.txt", []byte("test"))
	testutil.CreateTestFile(t, dir, "sub/b.txt", []byte("b"))

	out := mustRun(t, "-C", dir, "add", "a.txt", "sub")
	if !strings.Contains(out, "A a.txt") || !strings.Contains(out, "A sub/b.txt") {
		t.Errorf("add output = %q", out)
	}

	// nothing buildable: build without a target is a no-op
	if out := mustRun(t, "-C", dir, "build", "-q"); strings.TrimSpace(out) != "" {
		t.Errorf("build output = %q, want nothing", out)
	}

	out = mustRun(t, "-C", dir, "-f", "json", "ls", "-r")
	var entries []map[string]any
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("ls output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 3 {
		t.Errorf("got %d entries, want 3", len(entries))
	}

	mustRun(t, "-C", dir, "mv", "a.txt", "c.txt")
	out = mustRun(t, "-C", dir, "ls")
	if !strings.Contains(out, "c.txt") || strings.Contains(out, "a.txt") {
		t.Errorf("ls after mv = %q", out)
	}

	out = mustRun(t, "-C", dir, "rm", "sub")
	if !strings.Contains(out, "D sub/b.txt") {
		t.Errorf("rm output = %q", out)
	}

	out = mustRun(t, "-C", dir, "stamp")
	if len(strings.TrimSpace(out)) != 64 {
		t.Errorf("stamp = %q", out)
	}
}

func TestCLI_Meta(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	mustRun(t, "init", dir)

	if _, err := run(t, "-C", dir, "meta", "add", "test", "123"); err == nil {
		t.Error("meta add with a singular key should fail")
	}
	mustRun(t, "-C", dir, "meta", "add", "tests", `{"a":1}`)
	mustRun(t, "-C", dir, "meta", "add", "tests", `{"a":2}`)
	mustRun(t, "-C", dir, "meta", "set", "title", "Survey")

	out := mustRun(t, "-C", dir, "-f", "json", "meta", "get", "tests")
	var records []map[string]any
	if err := json.Unmarshal([]byte(out), &records); err != nil {
		t.Fatalf("meta get output is not a list: %v\n%s", err, out)
	}
	if len(records) != 2 {
		t.Errorf("got %d records, want 2", len(records))
	}

	out = mustRun(t, "-C", dir, "-f", "yaml", "meta", "get", "title")
	var record map[string]any
	if err := yaml.Unmarshal([]byte(out), &record); err != nil {
		t.Fatalf("meta get output is not YAML: %v\n%s", err, out)
	}
	if record["data"] != "Survey" {
		t.Errorf("data = %v", record["data"])
	}

	out = mustRun(t, "-C", dir, "meta", "unset", "tests")
	if strings.TrimSpace(out) != "2" {
		t.Errorf("unset output = %q", out)
	}
}

func TestCLI_TagPasswordAttributes(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	mustRun(t, "init", dir)

	if _, err := run(t, "-C", dir, "tag", "pippo"); err == nil {
		t.Error("invalid tag should fail")
	}
	out := mustRun(t, "-C", dir, "tag", "pippo/pluto")
	if strings.TrimSpace(out) != "pippo/pluto" {
		t.Errorf("tag output = %q", out)
	}

	if strings.TrimSpace(mustRun(t, "-C", dir, "password", "verify")) != "true" {
		t.Error("a catalog without passwords accepts the empty password")
	}
	mustRun(t, "-C", dir, "password", "append", "secret")
	if strings.TrimSpace(mustRun(t, "-C", dir, "password", "verify", "secret")) != "true" {
		t.Error("stored password rejected")
	}
	mustRun(t, "-C", dir, "password", "clear")
	if strings.TrimSpace(mustRun(t, "-C", dir, "password", "verify", "secret")) != "false" {
		t.Error("cleared password accepted")
	}

	out = mustRun(t, "-C", dir, "-f", "json", "chattr", "public=true")
	if !strings.Contains(out, `"public": true`) {
		t.Errorf("chattr output = %q", out)
	}
	if _, err := run(t, "-C", dir, "chattr", "public"); err == nil {
		t.Error("chattr without a value should fail")
	}

	out = mustRun(t, "-C", dir, "stac")
	if !strings.Contains(out, `"type":"Collection"`) || !strings.Contains(out, "pippo/pluto") {
		t.Errorf("stac output = %q", out)
	}
}

func TestCLI_MetricsOut(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()
	metricsFile := filepath.Join(dir, "metrics.txt")

	mustRun(t, "--metrics-out", metricsFile, "init", filepath.Join(dir))
	data, err := os.ReadFile(metricsFile)
	if err != nil {
		t.Fatalf("metrics not written: %v", err)
	}
	if !strings.Contains(string(data), "ddb_") {
		t.Errorf("unexpected metrics: %s", data)
	}
}

func TestCLI_Errors(t *testing.T) {
	dir, cleanup := testutil.TempDir(t)
	defer cleanup()

	if _, err := run(t, "-C", dir, "ls"); err == nil {
		t.Error("ls outside a catalog should fail")
	}
	if _, err := run(t, "-f", "xml", "version"); err == nil {
		t.Error("unknown format should fail")
	}
	out := mustRun(t, "version")
	if !strings.HasPrefix(out, "ddb ") {
		t.Errorf("version output = %q", out)
	}

	var stdout, stderr bytes.Buffer
	if code := Execute(context.Background(), []string{"--log-level", "error", "-C", dir, "stamp"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Error:") {
		t.Errorf("stderr = %q", stderr.String())
	}
}
