package mailbox

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepliedLogPersistsAcrossReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")

	l, err := NewRepliedLog(path)
	require.NoError(t, err)
	assert.False(t, l.Contains("m1"))

	require.NoError(t, l.Add("m1"))
	require.NoError(t, l.Add("m2"))
	assert.True(t, l.Contains("m1"))

	// Adding the same id twice is a no-op.
	require.NoError(t, l.Add("m1"))

	reloaded, err := NewRepliedLog(path)
	require.NoError(t, err)
	assert.True(t, reloaded.Contains("m1"))
	assert.True(t, reloaded.Contains("m2"))
	assert.False(t, reloaded.Contains("m3"))
}

func TestRepliedLogMissingFileIsEmpty(t *testing.T) {
	l, err := NewRepliedLog(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.False(t, l.Contains("m1"))
}

func TestRepliedLogCorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l, err := NewRepliedLog(path)
	require.NoError(t, err)
	assert.False(t, l.Contains("m1"))
}

func TestRepliedLogRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "replied.json")

	l, err := NewRepliedLog(path)
	require.NoError(t, err)
	require.NoError(t, l.Add("m1"))

	l.Remove("m1")
	assert.False(t, l.Contains("m1"))
}
