package unibuild

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Target describes one architecture the library is cross-compiled for.
// The table below covers every slice the original iOS builds shipped;
// which of them are active is purely a configuration choice.
type Target struct {
	Name       string // architecture name as passed to -arch
	Host       string // --host triple for configure
	SDK        string // xcrun SDK name supplying the sysroot
	MinFlag    string // compiler flag prefix selecting the deployment target
	ExtraCF    []string
	ExtraLD    []string
	Simulator  bool
	PrefixName string // unique install prefix directory name
}

var knownTargets = []Target{
	{
		Name:       "arm64",
		Host:       "arm-apple-darwin",
		SDK:        "iphoneos",
		MinFlag:    "-miphoneos-version-min=",
		PrefixName: "ios_arm64",
	},
	{
		Name:       "armv7",
		Host:       "arm-apple-darwin",
		SDK:        "iphoneos",
		MinFlag:    "-miphoneos-version-min=",
		PrefixName: "ios_armv7",
	},
	{
		Name:       "armv7s",
		Host:       "arm-apple-darwin",
		SDK:        "iphoneos",
		MinFlag:    "-miphoneos-version-min=",
		PrefixName: "ios_armv7s",
	},
	{
		Name:       "i386",
		Host:       "i386-apple-darwin",
		SDK:        "iphonesimulator",
		MinFlag:    "-mios-simulator-version-min=",
		Simulator:  true,
		PrefixName: "ios_i386",
	},
	{
		Name:       "x86_64",
		Host:       "x86_64-apple-darwin",
		SDK:        "iphonesimulator",
		MinFlag:    "-mios-simulator-version-min=",
		Simulator:  true,
		PrefixName: "ios_x86_64",
	},
}

// ResolveTargets maps configured architecture names onto the known table,
// preserving the configured order. Unknown names are an error, as is a
// duplicate (duplicates would collide on the install prefix).
func ResolveTargets(names []string) ([]Target, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no architectures configured")
	}
	seen := make(map[string]bool, len(names))
	out := make([]Target, 0, len(names))
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("architecture %s listed twice", name)
		}
		seen[name] = true
		found := false
		for _, t := range knownTargets {
			if t.Name == name {
				out = append(out, t)
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown architecture %s (known: %s)", name, strings.Join(KnownArchNames(), ", "))
		}
	}
	return out, nil
}

// KnownArchNames lists the names in the target table, in table order.
func KnownArchNames() []string {
	names := make([]string, len(knownTargets))
	for i, t := range knownTargets {
		names[i] = t.Name
	}
	return names
}

// InstallPrefix returns the unique directory this target installs into.
func (t Target) InstallPrefix(outputRoot string) string {
	return filepath.Join(outputRoot, t.PrefixName)
}

// LibPath returns where the given logical library lands after make install.
func (t Target) LibPath(outputRoot, library string) string {
	return filepath.Join(t.InstallPrefix(outputRoot), "lib", library)
}

// baseCFlags is shared by every target; per-arch flags are appended on top.
var baseCFlags = []string{"-DNDEBUG", "-Os", "-pipe", "-fPIC", "-fno-exceptions"}

// ComposeCFlags merges the common base flag set with this target's
// overrides: the arch selector, the sysroot, the deployment target and
// optionally bitcode embedding.
func (t Target) ComposeCFlags(sysroot, minVersion string, bitcode bool) []string {
	flags := append([]string{}, baseCFlags...)
	flags = append(flags, "-arch", t.Name)
	flags = append(flags, t.MinFlag+minVersion)
	flags = append(flags, "-isysroot", sysroot)
	if bitcode && !t.Simulator {
		flags = append(flags, "-fembed-bitcode")
	}
	flags = append(flags, t.ExtraCF...)
	return flags
}

// ComposeLDFlags mirrors ComposeCFlags for the linker.
func (t Target) ComposeLDFlags(sysroot string) []string {
	flags := []string{"-arch", t.Name, "-isysroot", sysroot}
	flags = append(flags, t.ExtraLD...)
	return flags
}
