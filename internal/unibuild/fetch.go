package unibuild

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // large tarballs on slow links
	}
}

// FetchSource ensures the library tarball is present in the cache and
// verified, returning its path. Downloads are flock-guarded so two runs
// sharing a cache never fetch the same file concurrently.
func FetchSource(cfg *Config) (string, error) {
	if err := os.MkdirAll(cfg.CacheDir(), 0o755); err != nil {
		return "", fmt.Errorf("failed to create cache directory %s: %w", cfg.CacheDir(), err)
	}

	parts := strings.Split(cfg.SourceURL, "/")
	origFilename := parts[len(parts)-1]
	hashName := fmt.Sprintf("%s-%s", hashString(cfg.SourceURL+cfg.Version), origFilename)
	cachePath := filepath.Join(cfg.CacheDir(), hashName)

	// Drop entries left behind by older versions of the same tarball.
	globPattern := filepath.Join(cfg.CacheDir(), "*-"+origFilename)
	if matches, err := filepath.Glob(globPattern); err == nil {
		for _, match := range matches {
			if match != cachePath {
				debugf("Removing obsolete cached file: %s\n", match)
				_ = os.Remove(match)
			}
		}
	}

	if _, err := os.Stat(cachePath); os.IsNotExist(err) {
		colArrow.Print("-> ")
		colSuccess.Printf("Fetching source: %s\n", origFilename)
		if err := downloadFile(cfg.SourceURL, cachePath); err != nil {
			return "", fmt.Errorf("failed to download %s: %w", cfg.SourceURL, err)
		}
	} else {
		debugf("Already in cache: %s\n", cachePath)
	}

	if err := verifyChecksum(cachePath, cfg.Checksum); err != nil {
		// A corrupt download must not poison later runs.
		_ = os.Remove(cachePath)
		return "", err
	}
	return cachePath, nil
}

// downloadFile fetches a URL into the cache, preferring curl and falling
// back to a native HTTP client with a progress bar.
func downloadFile(url, absPath string) error {
	lockPath := absPath + ".lock"
	lFile, err := os.Create(lockPath)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// Another process may have finished the download while we waited.
	if _, err := os.Stat(absPath); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", absPath)
		_ = os.Remove(lockPath)
		return nil
	}
	defer func() {
		if _, err := os.Stat(absPath); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", url, absPath)

	if _, err := exec.LookPath("curl"); err == nil {
		curlArgs := []string{"-L", "--fail", "-o", absPath}
		if stdoutIsTerminal() {
			curlArgs = append(curlArgs, "-#")
		} else {
			curlArgs = append(curlArgs, "-sS")
		}
		curlArgs = append(curlArgs, url)
		cmd := exec.Command("curl", curlArgs...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err == nil {
			debugf("Download successful with curl.\n")
			return nil
		}
		debugf("curl failed, falling back to native Go HTTP client\n")
	} else {
		debugf("curl not found, using native Go HTTP client\n")
	}

	resp, err := newHTTPClient().Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(absPath)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", absPath, err)
	}
	defer out.Close()

	var dst io.Writer = out
	if stdoutIsTerminal() {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(absPath))
		dst = io.MultiWriter(out, bar)
	}
	if _, err := io.Copy(dst, resp.Body); err != nil {
		_ = os.Remove(absPath)
		return fmt.Errorf("failed to write to destination file: %w", err)
	}
	debugf("Download successful with native Go HTTP client.\n")
	return nil
}

// PrepareSource downloads, verifies and extracts the source tree, unless
// a configure script is already present from an earlier run.
func PrepareSource(cfg *Config) error {
	configure := filepath.Join(cfg.SourceDir(), "configure")
	if _, err := os.Stat(configure); err == nil {
		debugf("Source tree already present at %s\n", cfg.SourceDir())
		return nil
	}

	tarball, err := FetchSource(cfg)
	if err != nil {
		return err
	}
	colArrow.Print("-> ")
	colSuccess.Printf("Extracting %s\n", filepath.Base(tarball))
	if err := extractTarball(tarball, cfg.SourceDir()); err != nil {
		return fmt.Errorf("failed to extract %s: %w", tarball, err)
	}
	if _, err := os.Stat(configure); err != nil {
		return fmt.Errorf("extracted source has no configure script at %s", configure)
	}
	return nil
}
