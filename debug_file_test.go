//nolint:paralleltest // Tests modify package-level session log state, cannot run in parallel
package mstp

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cleanupSessionLog ensures session log state is clean after tests.
// Must be called in test cleanup to avoid state leakage between tests.
func cleanupSessionLog(t *testing.T) {
	t.Helper()
	logMu.Lock()
	defer logMu.Unlock()
	if sessionLogFile != nil {
		_ = sessionLogFile.Close()
	}
	sessionLogFile = nil
	sessionLogPath = ""
	sessionLogWriter = nil
	rebuildLogger()
}

func TestInitSessionLog_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	_, err = os.Stat(path)
	require.NoError(t, err, "Log file should exist")

	matched, err := regexp.MatchString(`^mstp_\d{8}_\d{6}\.log$`, filepath.Base(path))
	require.NoError(t, err)
	assert.True(t, matched, "Filename should match mstp_YYYYMMDD_HHMMSS.log pattern, got: %s", path)
}

func TestInitSessionLog_WritesHeaderAndDebugLines(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	path, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)

	Debugf("token passed to %d", 7)
	require.NoError(t, CloseSessionLog())

	content, err := os.ReadFile(path) //nolint:gosec // path is from InitSessionLog
	require.NoError(t, err)
	contentStr := string(content)

	assert.Contains(t, contentStr, "=== MS/TP Debug Session Log ===")
	assert.Contains(t, contentStr, "Started:")
	assert.Contains(t, contentStr, "PID:")
	assert.Contains(t, contentStr, "OS:")
	assert.Contains(t, contentStr, "Go Version:")
	assert.Contains(t, contentStr, "Command Line:")
	assert.Contains(t, contentStr, "DBG token passed to 7")
	assert.Contains(t, contentStr, "=== Session ended ===")
}

func TestCloseSessionLog_NilFile(t *testing.T) {
	cleanupSessionLog(t)

	// Should not error or panic when no file is open
	assert.NoError(t, CloseSessionLog())
}

func TestGetSessionLogPath_ReturnsCorrectPath(t *testing.T) {
	cleanupSessionLog(t)
	t.Cleanup(func() { cleanupSessionLog(t) })

	assert.Empty(t, GetSessionLogPath())

	path, err := InitSessionLog(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, path, GetSessionLogPath())

	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())
}

func TestInitSessionLog_InvalidDirectory(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })

	_, err := InitSessionLog(filepath.Join(t.TempDir(), "missing", "dir"))
	require.Error(t, err)
	assert.Empty(t, GetSessionLogPath())
}

func TestInitSessionLog_ReplacesOpenLog(t *testing.T) {
	t.Cleanup(func() { cleanupSessionLog(t) })
	dir := t.TempDir()

	first, err := InitSessionLog(dir)
	require.NoError(t, err)
	second, err := InitSessionLog(dir)
	require.NoError(t, err)

	// same second gives the same name; either way the latest is current
	assert.Equal(t, second, GetSessionLogPath())
	assert.Equal(t, filepath.Dir(first), filepath.Dir(second))
	require.NoError(t, CloseSessionLog())
}
