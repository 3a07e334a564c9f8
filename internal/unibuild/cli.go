package unibuild

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gookit/color"
)

// printHelp prints the commands table
func printHelp() {
	colSuccess.Println("Usage: unibuild <command> [arguments]")
	colSuccess.Println("Configuration: /etc/unibuild.conf or UNIBUILD_* environment overrides")
	fmt.Println()
	color.Info.Println("Available Commands:")

	type cmdInfo struct {
		Cmd  string
		Args string
		Desc string
	}
	cmds := []cmdInfo{
		{"build, b", "", "Fetch, cross-compile and merge the configured architectures"},
		{"fetch, f", "", "Download and verify the source tarball"},
		{"checksum, c", "", "Download the tarball and print its digest for pinning"},
		{"merge, m", "<output> <input...>", "Merge thin static libraries into one universal file"},
		{"upload, u", "", "Package merged libraries and push them to the mirror"},
		{"inspect", "<bundle.tar.zst>", "List a packaged bundle and check it is complete"},
		{"clean", "", "Remove the work tree (cache, sources, build dirs)"},
		{"targets", "", "List known architectures and which are enabled"},
		{"version, --version", "", "Version information"},
		{"help, -h", "", "This help text"},
	}

	maxLen := 0
	for _, c := range cmds {
		length := len(c.Cmd) + len(c.Args)
		if c.Args != "" {
			length++
		}
		if length > maxLen {
			maxLen = length
		}
	}
	columnWidth := maxLen + 4

	for _, c := range cmds {
		var usageString string
		if c.Args != "" {
			usageString = fmt.Sprintf("  %s %s", c.Cmd, c.Args)
		} else {
			usageString = fmt.Sprintf("  %s", c.Cmd)
		}

		fmt.Print("  ")
		color.Bold.Print(c.Cmd)
		if c.Args != "" {
			fmt.Print(" ")
			color.Cyan.Print(c.Args)
		}
		fmt.Print(strings.Repeat(" ", columnWidth-len(usageString)+2))
		fmt.Println(c.Desc)
	}
}

// RunCLI dispatches a command. It returns an error for a non-zero exit;
// main owns the process exit code.
func RunCLI(ctx context.Context, cfg *Config, args []string) error {
	command := "build"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "build", "b":
		return runBuild(ctx, cfg)

	case "fetch", "f":
		path, err := FetchSource(cfg)
		if err != nil {
			return err
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Source ready: %s\n", path)
		return nil

	case "checksum", "c":
		// Fetch without a pin, then print the digest to paste into the config.
		pinned := cfg.Checksum
		cfg.Checksum = ""
		path, err := FetchSource(cfg)
		if err != nil {
			return err
		}
		sum, err := fileChecksum(path)
		if err != nil {
			return err
		}
		fmt.Printf("UNIBUILD_CHECKSUM=%s\n", sum)
		if pinned != "" && pinned != sum {
			colWarn.Printf("Pinned checksum differs: %s\n", pinned)
		}
		return nil

	case "merge", "m":
		if len(args) < 2 {
			return fmt.Errorf("usage: unibuild merge <output> <input...>")
		}
		out, inputs := args[0], args[1:]
		runner := NewExecutor(ctx)
		tc := &XcrunToolchain{Context: ctx}
		if err := mergeUniversal(runner, tc, os.Stdout, cfg.PureMerge, inputs, out); err != nil {
			return err
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Merged %d slice(s) into %s\n", len(inputs), out)
		return nil

	case "upload", "u":
		artifacts, err := artifactsOnDisk(cfg)
		if err != nil {
			return err
		}
		return UploadArtifacts(ctx, cfg, artifacts)

	case "inspect":
		if len(args) != 1 {
			return fmt.Errorf("usage: unibuild inspect <bundle.tar.zst>")
		}
		return InspectBundle(cfg, args[0])

	case "clean":
		if err := os.RemoveAll(cfg.WorkRoot); err != nil {
			return err
		}
		colArrow.Print("-> ")
		colSuccess.Printf("Removed %s\n", cfg.WorkRoot)
		return nil

	case "targets":
		for _, name := range KnownArchNames() {
			marker := " "
			if slices.Contains(cfg.Archs, name) {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil

	case "version", "--version":
		fmt.Printf("unibuild %s (%s, built %s)\n", version, arch, buildDate)
		return nil

	case "help", "-h", "--help":
		printHelp()
		return nil

	default:
		printHelp()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runBuild(ctx context.Context, cfg *Config) error {
	if err := PrepareSource(cfg); err != nil {
		return err
	}

	orch, err := NewOrchestrator(cfg, NewExecutor(ctx), &XcrunToolchain{Context: ctx})
	if err != nil {
		return err
	}
	artifacts, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	for _, a := range artifacts {
		colArrow.Print("-> ")
		colSuccess.Printf("%s: %d slice(s) -> %s\n", a.Library, len(a.Slices), a.Merged)
	}

	if cfg.MirrorEnabled {
		if err := UploadArtifacts(ctx, cfg, artifacts); err != nil {
			// The build itself succeeded; report and move on.
			colWarn.Printf("Mirror upload failed: %v\n", err)
		}
	}
	return nil
}

// artifactsOnDisk rebuilds the ArtifactSet list from a previous run's
// output tree, for the standalone upload command.
func artifactsOnDisk(cfg *Config) ([]ArtifactSet, error) {
	targets, err := ResolveTargets(cfg.Archs)
	if err != nil {
		return nil, err
	}
	var artifacts []ArtifactSet
	for _, lib := range cfg.Libraries {
		merged := filepath.Join(cfg.MergedLibDir(), lib)
		if _, err := os.Stat(merged); err != nil {
			return nil, fmt.Errorf("no merged library at %s, run build first", merged)
		}
		var sl []string
		for _, t := range targets {
			p := t.LibPath(cfg.OutputRoot, lib)
			if _, err := os.Stat(p); err == nil {
				sl = append(sl, p)
			}
		}
		artifacts = append(artifacts, ArtifactSet{Library: lib, Slices: sl, Merged: merged})
	}
	return artifacts, nil
}
