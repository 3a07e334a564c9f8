package unibuild

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)

	assert.Equal(t, "3.6.1", cfg.Version)
	assert.Contains(t, cfg.SourceURL, "protobuf-cpp-3.6.1.tar.gz")
	assert.Equal(t, []string{"arm64"}, cfg.Archs)
	assert.Equal(t, []string{"libprotobuf.a", "libprotobuf-lite.a"}, cfg.Libraries)
	assert.Equal(t, runtime.NumCPU(), cfg.Jobs)
	assert.Equal(t, "8.0", cfg.MinVersion)
	assert.True(t, cfg.CleanBuild)
	assert.True(t, cfg.EmbedBitcode)
	assert.False(t, cfg.PureMerge)
	assert.False(t, cfg.MirrorEnabled)
}

func TestLoadConfigFile(t *testing.T) {
	content := `
# build settings
UNIBUILD_VERSION = "3.20.1"
UNIBUILD_ARCHS = arm64,x86_64
UNIBUILD_JOBS=2
UNIBUILD_CLEAN=0
UNIBUILD_BITCODE=0
UNIBUILD_MIRROR_URL=https://mirror.example.com
not-a-kv-line
`
	path := filepath.Join(t.TempDir(), "unibuild.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "3.20.1", cfg.Version)
	assert.Contains(t, cfg.SourceURL, "v3.20.1")
	assert.Equal(t, []string{"arm64", "x86_64"}, cfg.Archs)
	assert.Equal(t, 2, cfg.Jobs)
	assert.False(t, cfg.CleanBuild)
	assert.False(t, cfg.EmbedBitcode)
	assert.True(t, cfg.MirrorEnabled)
	assert.Equal(t, "https://mirror.example.com", cfg.Value("MIRROR_URL"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unibuild.conf")
	require.NoError(t, os.WriteFile(path, []byte("UNIBUILD_JOBS=2\n"), 0o644))

	t.Setenv("UNIBUILD_JOBS", "7")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Jobs)
}

// Mirror settings share the UNIBUILD_ key space, so they must be settable
// from the environment alone, with no config file present.
func TestLoadMirrorFromEnvironment(t *testing.T) {
	t.Setenv("UNIBUILD_MIRROR_URL", "https://mirror.example.com")
	t.Setenv("UNIBUILD_MIRROR_ACCESS_KEY", "ak")
	t.Setenv("UNIBUILD_MIRROR_SECRET_KEY", "sk")
	t.Setenv("UNIBUILD_MIRROR_BUCKET", "artifacts")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.conf"))
	require.NoError(t, err)

	assert.True(t, cfg.MirrorEnabled)
	assert.Equal(t, "https://mirror.example.com", cfg.Value("MIRROR_URL"))
	assert.Equal(t, "ak", cfg.Value("MIRROR_ACCESS_KEY"))
	assert.Equal(t, "sk", cfg.Value("MIRROR_SECRET_KEY"))
	assert.Equal(t, "artifacts", cfg.Value("MIRROR_BUCKET"))
}

func TestLoadRejectsBadValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unibuild.conf")
	require.NoError(t, os.WriteFile(path, []byte("UNIBUILD_JOBS=zero\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UNIBUILD_JOBS")
}

func TestConfigLayout(t *testing.T) {
	cfg := &Config{WorkRoot: "/work", OutputRoot: "/gen"}
	assert.Equal(t, "/work/cache", cfg.CacheDir())
	assert.Equal(t, "/work/src", cfg.SourceDir())
	assert.Equal(t, "/work/build/arm64", cfg.BuildDir("arm64"))
	assert.Equal(t, "/gen/lib", cfg.MergedLibDir())
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList("a, b  c"))
	assert.Empty(t, splitList("  "))
}
