package unibuild

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ArtifactName is the mirror key for a packaged build, e.g.
// protobuf-3.6.1-arm64.tar.zst.
func ArtifactName(cfg *Config) string {
	return fmt.Sprintf("protobuf-%s-%s.tar.zst", cfg.Version, strings.Join(cfg.Archs, "+"))
}

// PackageArtifacts bundles the merged universal libraries (and the headers
// installed alongside the first architecture) into a .tar.zst under the
// output root, returning its path.
func PackageArtifacts(cfg *Config, artifacts []ArtifactSet) (string, error) {
	outPath := filepath.Join(cfg.OutputRoot, ArtifactName(cfg))
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	zw, err := zstd.NewWriter(out)
	if err != nil {
		return "", err
	}
	tw := tar.NewWriter(zw)

	for _, a := range artifacts {
		if err := addFileToTar(tw, a.Merged, filepath.Join("lib", a.Library)); err != nil {
			return "", err
		}
	}

	// Headers are identical across slices, take the first prefix's copy.
	targets, err := ResolveTargets(cfg.Archs)
	if err != nil {
		return "", err
	}
	includeDir := filepath.Join(targets[0].InstallPrefix(cfg.OutputRoot), "include")
	if _, err := os.Stat(includeDir); err == nil {
		if err := addTreeToTar(tw, includeDir, "include"); err != nil {
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return outPath, nil
}

// InspectBundle lists the contents of a packaged artifact and checks that
// every configured library made it in.
func InspectBundle(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer zr.Close()

	found := make(map[string]bool)
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			fmt.Printf("%10d  %s\n", hdr.Size, hdr.Name)
			found[hdr.Name] = true
		}
	}

	for _, lib := range cfg.Libraries {
		if !found[filepath.ToSlash(filepath.Join("lib", lib))] {
			return fmt.Errorf("bundle %s is missing %s", path, lib)
		}
	}
	return nil
}

func addFileToTar(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func addTreeToTar(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.Join(prefix, rel)
		if info.IsDir() {
			if rel == "." {
				return nil
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = name + "/"
			return tw.WriteHeader(hdr)
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return addFileToTar(tw, path, name)
	})
}
