package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "child.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755); err != nil {
		t.Fatalf("Failed to write script: %v", err)
	}
	return path
}

func TestProcessManager_StartStop(t *testing.T) {
	pm := New("sleeper", filepath.Join(t.TempDir(), "logs", "sleeper.log"))

	if err := pm.Start([]string{"sleep", "10"}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if pm.Pid() == 0 {
		t.Fatal("Process should be started")
	}
	if pm.Exited() {
		t.Fatal("Process should still be running")
	}

	if err := pm.Stop(context.Background(), 2*time.Second); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if !pm.Exited() {
		t.Error("Process should have exited after Stop")
	}
}

func TestProcessManager_StopEscalatesToKill(t *testing.T) {
	script := writeScript(t, "trap '' TERM\nwhile true; do sleep 0.1; done")
	pm := New("stubborn", filepath.Join(t.TempDir(), "stubborn.log"))
	if err := pm.Start([]string{script}, nil); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	if err := pm.Stop(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !pm.Exited() {
		t.Fatal("Process ignoring SIGTERM should be killed")
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Stop took too long: %v", elapsed)
	}
}

func TestProcessManager_StopWithoutStart(t *testing.T) {
	pm := New("idle", filepath.Join(t.TempDir(), "idle.log"))
	if err := pm.Stop(context.Background(), time.Second); err != nil {
		t.Errorf("Stop before Start should be a no-op, got %v", err)
	}
	if pm.Done() != nil {
		t.Error("Done should be nil before Start")
	}
}

func TestProcessManager_EmptyCommand(t *testing.T) {
	pm := New("empty", filepath.Join(t.TempDir(), "empty.log"))
	if err := pm.Start(nil, nil); err == nil {
		t.Error("Start(nil) should return error")
	}
}

func TestProcessManager_OutputAndEnv(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "out.log")
	os.WriteFile(logPath, []byte("previous run\n"), 0644)

	script := writeScript(t, `echo "value=$CHILD_VALUE"; echo oops >&2; exit 3`)
	pm := New("printer", logPath)
	if err := pm.Start([]string{script}, []string{"CHILD_VALUE=42"}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pm.Wait(ctx); err == nil {
		t.Error("Expected non-zero exit error")
	}

	tail := pm.LogTail(10)
	got := strings.Join(tail, "|")
	if got != "value=42|oops" {
		t.Errorf("Unexpected log tail %q", got)
	}
	if pm.ExitErr() == nil {
		t.Error("ExitErr should be set")
	}
}

func TestTailFile_Limit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.log")
	var b strings.Builder
	for i := 0; i < 5000; i++ {
		fmt.Fprintf(&b, "line %d\n\n", i)
	}
	os.WriteFile(path, []byte(b.String()), 0644)

	tail := TailFile(path, 3)
	if len(tail) != 3 || tail[2] != "line 4999" || tail[0] != "line 4997" {
		t.Errorf("Unexpected tail %v", tail)
	}
	if TailFile(filepath.Join(t.TempDir(), "missing"), 3) != nil {
		t.Error("Missing file should yield nil")
	}
}
