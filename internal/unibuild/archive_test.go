package unibuild

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeSourceTarball creates a release-style tarball with a single
// top-level directory, the shape extractTarball is built for.
func writeSourceTarball(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	path := filepath.Join(dir, "protobuf-3.6.1.tar.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gz := pgzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name:     "protobuf-3.6.1/",
		Typeflag: tar.TypeDir,
		Mode:     0o755,
	}))
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: "protobuf-3.6.1/" + name,
			Mode: 0o755,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return path
}

func TestExtractTarballStripsTopLevelDir(t *testing.T) {
	dir := t.TempDir()
	tarball := writeSourceTarball(t, dir, map[string]string{
		"configure":      "#!/bin/sh\nexit 0\n",
		"src/message.cc": "// c++\n",
	})

	dest := filepath.Join(dir, "src")
	require.NoError(t, extractTarball(tarball, dest))

	data, err := os.ReadFile(filepath.Join(dest, "configure"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\nexit 0\n", string(data))

	_, err = os.Stat(filepath.Join(dest, "src", "message.cc"))
	assert.NoError(t, err)

	// Nothing named after the stripped top dir may remain.
	_, err = os.Stat(filepath.Join(dest, "protobuf-3.6.1"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractTarballRejectsUnknownFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "weird.rar")
	require.NoError(t, os.WriteFile(path, []byte("rar"), 0o644))

	err := extractTarball(path, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported archive format")
}

func TestUntarRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evil.tar")
	f, err := os.Create(path)
	require.NoError(t, err)
	tw := tar.NewWriter(f)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "top/../../escape",
		Mode: 0o644,
		Size: 0,
	}))
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	err = extractTarball(path, filepath.Join(dir, "out"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal file path")
}
