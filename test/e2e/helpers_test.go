//go:build unix

package e2e

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

const manifest = `targets:
  sh_test:test:
    command: ["sh", "-c", "exit 0"]
  sh_test:test_env:
    command: ["sh", "-c", "test \"$TEST_VAR\" = TEST_VALUE || { echo \"TEST_VAR=$TEST_VAR\" >&2; exit 1; }"]
  sh_test:test_timeout:
    command: ["sh", "-c", "sleep 30"]
  sh_test:test_fail:
    command: ["sh", "-c", "echo broken >&2; exit 4"]
  sh_test:test_args:
    command: ["sh", "-c", "test \"$1\" = hello", "sh"]
`

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "testrig-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testrig")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testrig")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func writeManifest(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testrig.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

// runResult is the outcome of one testrig process.
type runResult struct {
	code   int
	stdout string
	stderr string
}

// runTestrig runs the testrig binary with env appended to the test's own
// environment.
func runTestrig(t *testing.T, env []string, args ...string) runResult {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(getBinary(t), args...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := runResult{stdout: stdout.String(), stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
	default:
		t.Fatalf("run testrig: %v", err)
	}
	return res
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

// startServer runs `testrig serve` and waits until /healthz answers.
func startServer(t *testing.T) string {
	t.Helper()

	addr := freeAddr(t)
	url := "http://" + addr

	out := &lockedBuffer{}
	cmd := exec.Command(getBinary(t), "serve")
	cmd.Env = append(os.Environ(),
		"TESTRIG_LISTEN_ADDR="+addr,
		"TESTRIG_DB_PATH="+filepath.Join(t.TempDir(), "server.db"),
		"TESTRIG_LOG_LEVEL=info",
	)
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return url
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\noutput:\n%s", startupTimeout, out.String())
	return ""
}
