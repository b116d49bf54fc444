package xmsg

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAttachment(t *testing.T) {
	a := NewMemoryAttachment([]byte("payload bytes"))
	assert.Equal(t, int64(13), a.Size())

	r, err := a.CreateReader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "payload bytes", string(data))

	// Each recipient gets an independent reader.
	r2, err := a.CreateReader()
	require.NoError(t, err)
	data2, err := io.ReadAll(r2)
	require.NoError(t, err)
	require.NoError(t, r2.Close())
	assert.Equal(t, data, data2)
}

func TestFileAttachment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blob.bin")
	require.NoError(t, os.WriteFile(path, []byte("on disk"), 0o600))

	a := NewFileAttachment(path, false)
	assert.Equal(t, path, a.Filename())
	assert.Equal(t, int64(7), a.Size())

	r, err := a.CreateReader()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "on disk", string(data))

	// Without autoDelete the file survives release.
	require.NoError(t, a.Release())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileAttachmentAutoDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "temp.bin")
	require.NoError(t, os.WriteFile(path, []byte("ephemeral"), 0o600))

	a := NewFileAttachment(path, true)
	require.NoError(t, a.Release())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// Release is idempotent.
	assert.NoError(t, a.Release())
}

func TestFileAttachmentMissingFile(t *testing.T) {
	a := NewFileAttachment(filepath.Join(t.TempDir(), "nope"), false)
	assert.Equal(t, int64(-1), a.Size())
	_, err := a.CreateReader()
	assert.Error(t, err)
}
