package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "token")

	first := New(path)
	assert.False(t, first.Authenticated())
	first.Set("tok-abc123")

	second := New(path)
	token, ok := second.Token()
	require.True(t, ok)
	assert.Equal(t, "tok-abc123", token)
}

func TestClearRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	s := New(path)
	s.Set("tok-abc123")
	require.FileExists(t, path)

	s.Clear()
	assert.False(t, s.Authenticated())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Clearing again is a no-op.
	s.Clear()
}

func TestLoadTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("tok-abc123\n"), 0o600))

	token, ok := New(path).Token()
	require.True(t, ok)
	assert.Equal(t, "tok-abc123", token)
}

func TestMissingFileMeansUnauthenticated(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	assert.False(t, s.Authenticated())
}

func TestInMemory(t *testing.T) {
	s := NewInMemory()
	assert.False(t, s.Authenticated())
	s.Set("tok")
	assert.True(t, s.Authenticated())
	s.Clear()
	assert.False(t, s.Authenticated())
}

func TestConcurrentAccess(t *testing.T) {
	s := NewInMemory()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Set("tok")
		}()
		go func() {
			defer wg.Done()
			s.Token()
			s.Clear()
		}()
	}
	wg.Wait()
}
