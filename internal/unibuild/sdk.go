package unibuild

import (
	"context"
	"fmt"
	"os/exec"
)

// Toolchain answers the environment queries the orchestrator needs: where
// a target SDK's sysroot lives and where a named tool is. Both answers
// come from opaque external programs, so the interface exists mainly to
// keep the build pipeline testable off-macOS.
type Toolchain interface {
	SysrootPath(sdk string) (string, error)
	FindTool(name string) (string, error)
}

// XcrunToolchain resolves SDK paths and tools through xcrun.
type XcrunToolchain struct {
	Context context.Context
}

func (x *XcrunToolchain) SysrootPath(sdk string) (string, error) {
	out, err := xcrunOutput(x.Context, "--sdk", sdk, "--show-sdk-path")
	if err != nil {
		return "", fmt.Errorf("cannot locate %s SDK: %w", sdk, err)
	}
	return out, nil
}

func (x *XcrunToolchain) FindTool(name string) (string, error) {
	out, err := xcrunOutput(x.Context, "--find", name)
	if err != nil {
		// Fall back to PATH so linux hosts with cctools still work.
		if p, lookErr := exec.LookPath(name); lookErr == nil {
			return p, nil
		}
		return "", fmt.Errorf("cannot locate tool %s: %w", name, err)
	}
	return out, nil
}

func xcrunOutput(ctx context.Context, args ...string) (string, error) {
	e := NewExecutor(ctx)
	return e.Output("xcrun", args...)
}
