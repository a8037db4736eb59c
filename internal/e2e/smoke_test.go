package e2e

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmokeFlow(t *testing.T) {
	home := t.TempDir()
	binaryPath := buildBinary(t)
	portal := startFakePortal(t)

	stdout, stderr, err := runBM(t, binaryPath, home, "login",
		"--server", portal.URL,
		"--organization", "org-1",
		"--key", "key-1",
	)
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Logged into "+portal.URL)

	stdout, stderr, err = runBM(t, binaryPath, home, "status")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "server: "+portal.URL)
	assert.Contains(t, stdout, "organization: org-1")

	stdout, stderr, err = runBM(t, binaryPath, home, "pool", "show", "orders")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "pool: orders")
	assert.Contains(t, stdout, "pending: 4")

	stdout, stderr, err = runBM(t, binaryPath, home, "logout")
	require.NoError(t, err, "stderr: %s", stderr)
	assert.Contains(t, stdout, "Logged out")

	_, _, err = runBM(t, binaryPath, home, "task", "get", "55")
	require.Error(t, err)
}

func startFakePortal(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v2/maestro/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"version": "3.4.1"}`))
	})
	mux.HandleFunc("/api/v2/workspace/login", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"accessToken": "tok-e2e"}`))
	})
	mux.HandleFunc("/api/v2/datapool/orders", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id": 3, "label": "orders", "consumptionPolicy": "FIFO", "trigger": "NEVER", "active": true}`))
	})
	mux.HandleFunc("/api/v2/datapool/orders/summary", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"countPending": 4, "countProcessing": 0, "countDone": 1, "countError": 0, "countTimeout": 0}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func buildBinary(t *testing.T) string {
	t.Helper()

	binaryPath := filepath.Join(t.TempDir(), "bm-e2e")
	cmd := exec.Command("go", "build", "-o", binaryPath, "./cmd/bm")
	cmd.Dir = repoRoot(t)

	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "build bm binary: %s", string(output))
	return binaryPath
}

func runBM(t *testing.T, binaryPath, home string, args ...string) (string, string, error) {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(),
		"XDG_CONFIG_HOME="+home,
		"BM_CONFIG_DIR=",
		// Keep key storage on the file fallback, away from any real pass(1) setup.
		"PATH="+filepath.Join(home, "no-binaries"),
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func repoRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	require.NoError(t, err)
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}
