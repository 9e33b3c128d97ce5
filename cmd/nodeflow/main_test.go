package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ravi-parthasarathy/nodeflow/pkg/natsbridge"
)

const greeterFlow = `digraph greeter {
	start [endpoint="hello", type=set, key="greeting", value="Hello, {{.name}}!"]
	reply [type=reply, reply="{{.greeting}}", buttons="Again:hello"]
	gate  [endpoint="gate", type=assert, expr="name", message="name required"]
	ok    [type=reply, reply="in"]
	start -> reply
	gate -> ok
}`

func writeFlow(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "flow.dot")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("write flow: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := rootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

// ─── parseVars ───────────────────────────────────────────────────────────────

func TestParseVars(t *testing.T) {
	got, err := parseVars([]string{"name=Ada", "expr=a=b", "empty="})
	if err != nil {
		t.Fatalf("parseVars: %v", err)
	}
	want := map[string]any{"name": "Ada", "expr": "a=b", "empty": ""}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %v, want %v", k, got[k], v)
		}
	}
	for _, bad := range []string{"novalue", "=x"} {
		if _, err := parseVars([]string{bad}); err == nil {
			t.Errorf("parseVars(%q): expected error", bad)
		}
	}
}

// ─── commands ────────────────────────────────────────────────────────────────

func TestRun_PrintsReplyAndTrace(t *testing.T) {
	path := writeFlow(t, greeterFlow)
	out, err := execute(t, "run", path, "--var", "name=Ada", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"Hello, Ada!", "[Again] -> hello", "start", "completed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRun_JSON(t *testing.T) {
	path := writeFlow(t, greeterFlow)
	out, err := execute(t, "run", path, "--endpoint", "hello", "--var", "name=Bo", "--json", "--log-level", "error")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	var resp natsbridge.Response
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("unmarshal: %v\n%s", err, out)
	}
	if !resp.OK || resp.Reply == nil || resp.Reply.Text != "Hello, Bo!" {
		t.Errorf("unexpected response: %+v", resp)
	}
	if len(resp.Trace) != 2 {
		t.Errorf("trace length = %d, want 2", len(resp.Trace))
	}
}

func TestRun_FailedProcess(t *testing.T) {
	path := writeFlow(t, greeterFlow)
	out, err := execute(t, "run", path, "--endpoint", "gate", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "name required") {
		t.Fatalf("expected contained failure to surface, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "failed") {
		t.Errorf("expected failed step in trace:\n%s", out)
	}
}

func TestRun_UnknownEndpoint(t *testing.T) {
	path := writeFlow(t, greeterFlow)
	if _, err := execute(t, "run", path, "--endpoint", "nope", "--log-level", "error"); err == nil {
		t.Fatal("expected error for unknown endpoint")
	}
}

func TestLint(t *testing.T) {
	out, err := execute(t, "lint", writeFlow(t, greeterFlow))
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !strings.Contains(out, `OK: flow "greeter" is valid`) || !strings.Contains(out, "gate, hello") {
		t.Errorf("unexpected lint output:\n%s", out)
	}

	_, err = execute(t, "lint", writeFlow(t, `digraph bad { a [type=reply, reply="x"] }`))
	if err == nil {
		t.Fatal("expected lint error")
	}
}

func TestGraph(t *testing.T) {
	path := writeFlow(t, greeterFlow)

	out, err := execute(t, "graph", path)
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if !strings.Contains(out, "Flow: greeter") || !strings.Contains(out, "hello") {
		t.Errorf("unexpected text output:\n%s", out)
	}

	out, err = execute(t, "graph", path, "--format", "dot")
	if err != nil {
		t.Fatalf("graph dot: %v", err)
	}
	if !strings.HasPrefix(out, "digraph greeter {") || !strings.Contains(out, "start -> reply") {
		t.Errorf("unexpected dot output:\n%s", out)
	}

	if _, err := execute(t, "graph", path, "--format", "svg"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestConfigFlowPath(t *testing.T) {
	path := writeFlow(t, greeterFlow)
	cfgPath := filepath.Join(t.TempDir(), "nodeflow.yaml")
	if err := os.WriteFile(cfgPath, []byte("flow: "+path+"\nlog:\n  level: error\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out, err := execute(t, "lint", "--config", cfgPath)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if !strings.Contains(out, "OK:") {
		t.Errorf("unexpected output:\n%s", out)
	}
}
