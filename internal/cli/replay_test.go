package cli

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayMatchesRecordedRun(t *testing.T) {
	profile := writeTestProfile(t)
	dir := filepath.Join(t.TempDir(), "artifacts")

	_, err := executeCommand("run", "--profile", profile, "--artifact-dir", dir)
	require.NoError(t, err)

	out, err := executeCommand("replay", "--artifact", dir, "--profile", profile)
	require.NoError(t, err)
	assert.Contains(t, out, "trace identical:  true")
	assert.Contains(t, out, "replay verdict:   passed")
}

func TestReplayDetectsProfileMismatch(t *testing.T) {
	profile := writeTestProfile(t)
	dir := filepath.Join(t.TempDir(), "artifacts")

	_, err := executeCommand("run", "--profile", profile, "--artifact-dir", dir)
	require.NoError(t, err)

	// Replaying under the default profile runs a different schedule, so
	// the trace comparison must fail rather than silently pass.
	_, err = executeCommand("replay", "--artifact", dir)
	require.Error(t, err)
	assert.Equal(t, ExitViolation, GetExitCode(err))
}

func TestReplayMissingArtifacts(t *testing.T) {
	_, err := executeCommand("replay", "--artifact", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestReplayRequiresArtifactFlag(t *testing.T) {
	_, err := executeCommand("replay")
	require.Error(t, err)
}
