package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/setl/internal/testutil/testlog"
)

const glider = "3\nOXO\nOOX\nXXX\n"

func writeInputs(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	world := "8\n" +
		"OXOOOOOO\n" +
		"OOXOOOOO\n" +
		"XXXOOOOO\n" +
		"OOOOOOOO\n" +
		"OOOOOOOO\n" +
		"OOOOOOOO\n" +
		"OOOOOOOO\n" +
		"OOOOOOOO\n"
	worldPath := filepath.Join(dir, "world.txt")
	patternPath := filepath.Join(dir, "pattern.txt")
	if err := os.WriteFile(worldPath, []byte(world), 0o644); err != nil {
		t.Fatalf("write world: %v", err)
	}
	if err := os.WriteFile(patternPath, []byte(glider), 0o644); err != nil {
		t.Fatalf("write pattern: %v", err)
	}
	return worldPath, patternPath
}

func TestRunPrintsReport(t *testing.T) {
	testlog.Start(t)
	worldPath, patternPath := writeInputs(t)
	var stdout, stderr bytes.Buffer
	code := run([]string{"-workers", "3", worldPath, "1", patternPath}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	want := []string{"World Size = 8", "Iterations = 1", "Pattern size = 3", "List size = 1", "0:0:0:0"}
	if len(lines) != len(want)+1 {
		t.Fatalf("unexpected report:\n%s", stdout.String())
	}
	for i, w := range want {
		if lines[i] != w {
			t.Fatalf("line %d: got %q want %q", i, lines[i], w)
		}
	}
	if !strings.HasPrefix(lines[len(lines)-1], "Parallel SETL took ") {
		t.Fatalf("missing timing line: %q", lines[len(lines)-1])
	}
}

func TestRunVerifiesAgainstSingleProcess(t *testing.T) {
	testlog.Start(t)
	worldPath, patternPath := writeInputs(t)
	for _, workers := range []string{"1", "2", "5", "9"} {
		var stdout, stderr bytes.Buffer
		code := run([]string{"-workers", workers, "-verify", worldPath, "12", patternPath}, &stdout, &stderr)
		if code != 0 {
			t.Fatalf("workers=%s exit %d: %s", workers, code, stderr.String())
		}
	}
}

func TestRunUsageErrors(t *testing.T) {
	testlog.Start(t)
	worldPath, patternPath := writeInputs(t)
	cases := map[string][]string{
		"missing args":        {worldPath, "3"},
		"bad generations":     {worldPath, "three", patternPath},
		"negative generation": {worldPath, "-1", patternPath},
		"bad transport":       {"-transport", "udp", worldPath, "1", patternPath},
	}
	for name, args := range cases {
		var stdout, stderr bytes.Buffer
		if code := run(args, &stdout, &stderr); code != 1 {
			t.Fatalf("%s: exit %d", name, code)
		}
		if stdout.Len() != 0 {
			t.Fatalf("%s: unexpected stdout %q", name, stdout.String())
		}
	}
}

func TestRunAbortsOnUnreadableWorld(t *testing.T) {
	testlog.Start(t)
	_, patternPath := writeInputs(t)
	var stdout, stderr bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing.txt")
	if code := run([]string{"-workers", "4", missing, "2", patternPath}, &stdout, &stderr); code != 1 {
		t.Fatalf("exit %d", code)
	}
	if !strings.Contains(stderr.String(), "open world") {
		t.Fatalf("stderr should name the failure: %q", stderr.String())
	}
	if stdout.Len() != 0 {
		t.Fatalf("no report expected, got %q", stdout.String())
	}
}

func TestSplitList(t *testing.T) {
	testlog.Start(t)
	got := splitList(" a:1, ,b:2,")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("unexpected list %v", got)
	}
}
