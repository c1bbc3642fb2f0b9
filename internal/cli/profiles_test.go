package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesValidateAcceptsValidProfile(t *testing.T) {
	profile := writeTestProfile(t)

	out, err := executeCommand("profiles", "validate", profile)
	require.NoError(t, err)
	assert.Contains(t, out, `profile "smoke" is valid`)
}

func TestProfilesValidateRejectsInvalidProfile(t *testing.T) {
	yaml := `name: broken
steps: 100
min_steps: 0
seed: 1
ttl_ms: 1000
population:
  proposers: 1
  reviewers: 1
  generics: 0
  worlds: 1
  dwellers: 1
buggify: {}
watchdog_ms: 0
`
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	out, err := executeCommand("profiles", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitViolation, GetExitCode(err))
	assert.Contains(t, out, "invalid_profile")
}

func TestProfilesValidateMissingFile(t *testing.T) {
	_, err := executeCommand("profiles", "validate", "/no/such/file.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitViolation, GetExitCode(err))
}

func TestProfilesShow(t *testing.T) {
	out, err := executeCommand("profiles", "show")
	require.NoError(t, err)

	assert.Contains(t, out, "name:      default")
	assert.Contains(t, out, "steps:     500 (min 100)")
	assert.Contains(t, out, "claim/duplicate-dispatch")
	assert.Contains(t, out, "mutate/reply-drop")
}
