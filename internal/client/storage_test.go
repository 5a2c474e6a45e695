package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sessions")
	s, err := NewFileStorage(dir)
	require.NoError(t, err)

	data, err := s.Load(DurableKey)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.Store(DurableKey, []byte(`{"version":2}`)))
	data, err = s.Load(DurableKey)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":2}`, string(data))

	info, err := os.Stat(filepath.Join(dir, DurableKey+".json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, s.Remove(DurableKey))
	require.NoError(t, s.Remove(DurableKey), "removing a missing key is not an error")
	data, err = s.Load(DurableKey)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestMemoryStorageCopies(t *testing.T) {
	s := NewMemoryStorage()
	buf := []byte("abc")
	require.NoError(t, s.Store(EphemeralKey, buf))
	buf[0] = 'x'

	data, err := s.Load(EphemeralKey)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))
}
