package concatenator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}
}

// fakeFFmpeg writes a script that concatenates the files named in the list
// given after -i, writing the result to its last argument
func fakeFFmpeg(t *testing.T) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "ffmpeg")
	writeFile(t, script, `#!/bin/sh
list=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then list="$arg"; fi
  prev="$arg"
  out="$arg"
done
: > "$out"
sed -e "s/^file '//" -e "s/'$//" "$list" | while read -r f; do cat "$f" >> "$out"; done
`)
	if err := os.Chmod(script, 0755); err != nil {
		t.Fatalf("Failed to chmod script: %v", err)
	}
	return script
}

func TestValidateInputs(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "a.mp4")
	writeFile(t, present, "a")

	tests := []struct {
		name        string
		paths       []string
		expectError bool
	}{
		{name: "empty", paths: nil, expectError: true},
		{name: "all present", paths: []string{present, present}},
		{name: "missing chunk", paths: []string{present, filepath.Join(dir, "b.mp4")}, expectError: true},
		{name: "blank path", paths: []string{present, " "}, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewConcatenator(zaptest.NewLogger(t))
			err := c.validateInputs(tt.paths)
			if tt.expectError && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestCreateConcatFile(t *testing.T) {
	dir := t.TempDir()
	c := NewConcatenator(zaptest.NewLogger(t))

	paths := []string{filepath.Join(dir, "chunk_1.mp4"), filepath.Join(dir, "it's.mp4")}
	listPath, err := c.createConcatFile(paths, dir)
	if err != nil {
		t.Fatalf("createConcatFile failed: %v", err)
	}

	data, err := os.ReadFile(listPath)
	if err != nil {
		t.Fatalf("Failed to read concat file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "file '"+paths[0]+"'" {
		t.Errorf("Expected first line for %s, got %s", paths[0], lines[0])
	}
	if !strings.Contains(lines[1], `it'\''s.mp4`) {
		t.Errorf("Expected escaped quote in second line, got %s", lines[1])
	}
}

func TestBuildArgs(t *testing.T) {
	c := NewConcatenator(zaptest.NewLogger(t))
	args := c.buildArgs("/tmp/list.txt", "/tmp/out.mp4")

	joined := strings.Join(args, " ")
	for _, want := range []string{"-f concat", "-safe 0", "-i /tmp/list.txt", "-c copy", "-y"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Expected args to contain %q, got %s", want, joined)
		}
	}
	if args[len(args)-1] != "/tmp/out.mp4" {
		t.Errorf("Expected output last, got %s", args[len(args)-1])
	}
}

func TestConcatenate_PreservesOrder(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "0.mp4")
	second := filepath.Join(dir, "1.mp4")
	writeFile(t, first, "first\n")
	writeFile(t, second, "second\n")

	c := NewConcatenator(zaptest.NewLogger(t)).SetFFmpegBin(fakeFFmpeg(t))
	out := filepath.Join(dir, "out", "joined.mp4")

	if err := c.Concatenate(context.Background(), []string{second, first}, out); err != nil {
		t.Fatalf("Concatenate failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("Failed to read output: %v", err)
	}
	if string(data) != "second\nfirst\n" {
		t.Errorf("Expected inputs joined in given order, got %q", string(data))
	}

	// The concat list is removed after use
	leftovers, _ := filepath.Glob(filepath.Join(dir, "out", "concat-*.txt"))
	if len(leftovers) != 0 {
		t.Errorf("Expected concat list to be removed, found %v", leftovers)
	}
}

func TestConcatenate_FFmpegFailure(t *testing.T) {
	dir := t.TempDir()
	chunk := filepath.Join(dir, "0.mp4")
	writeFile(t, chunk, "x")

	c := NewConcatenator(zaptest.NewLogger(t)).SetFFmpegBin("false")
	err := c.Concatenate(context.Background(), []string{chunk, chunk}, filepath.Join(dir, "out.mp4"))
	if err == nil {
		t.Fatal("Expected error from failing ffmpeg")
	}
	if !strings.Contains(err.Error(), "ffmpeg concat failed") {
		t.Errorf("Expected ffmpeg failure, got %v", err)
	}
}
