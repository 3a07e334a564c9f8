package unibuild

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// DefaultConfigFile is consulted when no -c flag is given.
const DefaultConfigFile = "/etc/unibuild.conf"

// Config carries everything the orchestrator needs. It is built once in
// main and passed down explicitly; nothing below this layer reads the
// process environment.
type Config struct {
	Values map[string]string // raw key=value pairs, kept for mirror settings

	// Source of the library being cross-compiled.
	SourceURL string // tarball URL
	Version   string // library version, used in cache keys and artifact names
	Checksum  string // pinned blake3 hex of the tarball, empty disables verification

	// Layout of the generated output tree.
	WorkRoot   string // downloads cache and extracted sources
	OutputRoot string // per-architecture install prefixes and merged libs

	// Build parameters.
	ProtocPath   string   // host code-generator binary, required before configure
	Archs        []string // enabled architecture names, in build order
	Libraries    []string // logical library names to merge, e.g. libprotobuf.a
	Jobs         int      // make parallelism
	MinVersion   string   // minimum OS version baked into compiler flags
	CleanBuild   bool     // remove per-arch build dirs before configure
	EmbedBitcode bool
	PureMerge    bool // skip lipo and always use the built-in fat writer

	// Artifact upload.
	MirrorEnabled bool
}

// Load reads a key=value config file, merges UNIBUILD_* environment
// overrides, and materializes the typed Config with documented defaults.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	values := make(map[string]string)

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	mergeEnvOverrides(values)
	return newConfig(values)
}

// Merge UNIBUILD_* env overrides
func mergeEnvOverrides(values map[string]string) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "UNIBUILD_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				values[parts[0]] = parts[1]
			}
		}
	}
}

func newConfig(values map[string]string) (*Config, error) {
	cfg := &Config{Values: values}

	get := func(key, def string) string {
		if v := values["UNIBUILD_"+key]; v != "" {
			return v
		}
		return def
	}

	cfg.Version = get("VERSION", "3.6.1")
	cfg.SourceURL = get("SOURCE_URL", fmt.Sprintf(
		"https://github.com/protocolbuffers/protobuf/releases/download/v%s/protobuf-cpp-%s.tar.gz",
		cfg.Version, cfg.Version))
	cfg.Checksum = get("CHECKSUM", "")

	cfg.WorkRoot = get("WORK_ROOT", filepath.Join(os.TempDir(), "unibuild"))
	cfg.OutputRoot = get("OUTPUT_ROOT", "gen/protobuf_ios")
	cfg.ProtocPath = get("PROTOC", filepath.Join(cfg.OutputRoot, "..", "protobuf_host", "bin", "protoc"))
	cfg.MinVersion = get("MIN_VERSION", "8.0")

	cfg.Archs = splitList(get("ARCHS", "arm64"))
	if len(cfg.Archs) == 0 {
		return nil, fmt.Errorf("UNIBUILD_ARCHS must name at least one architecture")
	}
	cfg.Libraries = splitList(get("LIBRARIES", "libprotobuf.a libprotobuf-lite.a"))

	jobs := get("JOBS", "")
	if jobs == "" {
		cfg.Jobs = runtime.NumCPU()
	} else {
		n, err := strconv.Atoi(jobs)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid UNIBUILD_JOBS value %q", jobs)
		}
		cfg.Jobs = n
	}

	cfg.CleanBuild = get("CLEAN", "1") != "0"
	cfg.EmbedBitcode = get("BITCODE", "1") != "0"
	cfg.PureMerge = get("PURE_MERGE", "0") == "1"
	cfg.MirrorEnabled = values["UNIBUILD_MIRROR_URL"] != ""

	return cfg, nil
}

// Value looks up a raw setting by its short name, e.g. Value("MIRROR_URL")
// reads the UNIBUILD_MIRROR_URL key. Config file entries and environment
// overrides share the prefixed key space, so both are covered.
func (c *Config) Value(key string) string {
	return c.Values["UNIBUILD_"+key]
}

// splitList accepts both space- and comma-separated lists.
func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// CacheDir is where downloaded tarballs live.
func (c *Config) CacheDir() string { return filepath.Join(c.WorkRoot, "cache") }

// SourceDir is where the library source tree is extracted.
func (c *Config) SourceDir() string { return filepath.Join(c.WorkRoot, "src") }

// BuildDir returns the per-architecture build directory.
func (c *Config) BuildDir(archName string) string {
	return filepath.Join(c.WorkRoot, "build", archName)
}

// MergedLibDir holds the universal outputs, next to the per-arch prefixes.
func (c *Config) MergedLibDir() string { return filepath.Join(c.OutputRoot, "lib") }
