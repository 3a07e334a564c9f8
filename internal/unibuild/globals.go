package unibuild

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/gookit/color"
	"golang.org/x/term"
)

// Global variables
var (
	Debug     bool
	Verbose   bool
	version   = "dev"     // overridden at build time
	buildDate = "unknown" // overridden at build time
	arch      = runtime.GOARCH
)

// color helpers
var (
	colInfo    = color.Info // style provided by gookit/color
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
)

func debugf(format string, args ...interface{}) {
	if Debug {
		fmt.Fprintf(os.Stderr, "DEBUG: "+format, args...)
	}
}

// cPrintf writes colored output to stdout, or plain text when a log writer
// is supplied (step logs must stay free of ANSI sequences).
func cPrintf(c color.RGBColor, logger io.Writer, format string, args ...interface{}) {
	if logger == nil || logger == os.Stdout {
		colArrow.Print("-> ")
		c.Printf(format, args...)
		return
	}
	fmt.Fprintf(logger, format, args...)
}

// stdoutIsTerminal reports whether stdout is attached to a TTY. Progress
// bars and terminal titles are suppressed when it is not.
func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
