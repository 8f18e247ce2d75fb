package fileutil

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPathJoinSafe(t *testing.T) {
	assert.Equal(t, "s3://bucket/models/model.onnx", PathJoinSafe("s3://bucket/", "models", "model.onnx"))
	assert.Equal(t, "/tmp/models/model.onnx", PathJoinSafe("/tmp", "models", "model.onnx"))
}

func TestWriteListCopyDelete(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, WriteFileBytes(filepath.Join(dir, "a.onnx"), []byte("graph")))
	require.NoError(t, WriteFileBytes(filepath.Join(dir, "nested", "b.engine"), []byte("engine")))

	files, err := ListFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.onnx"}, files)

	require.NoError(t, CopyFile(context.Background(), filepath.Join(dir, "nested", "b.engine"), filepath.Join(dir, "copy", "b.engine")))
	copied, err := ReadFileBytes(filepath.Join(dir, "copy", "b.engine"))
	require.NoError(t, err)
	assert.Equal(t, []byte("engine"), copied)

	require.NoError(t, DeleteFile(filepath.Join(dir, "copy")))
	exists, err := FileExists(filepath.Join(dir, "copy"))
	require.NoError(t, err)
	assert.False(t, exists)
}

type failingCloser struct {
	io.Reader
}

func (failingCloser) Close() error {
	return errors.New("close failed")
}

func TestReadAndCloseReportsCloseError(t *testing.T) {
	data, err := readAndClose(failingCloser{strings.NewReader("graph")})
	assert.EqualError(t, err, "close failed")
	assert.Equal(t, []byte("graph"), data)

	data, err = readAndClose(io.NopCloser(strings.NewReader("graph")))
	require.NoError(t, err)
	assert.Equal(t, []byte("graph"), data)
}
