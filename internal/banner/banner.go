// Package banner prints the serve startup header.
package banner

import (
	"fmt"
	"io"
	"strings"

	"github.com/barff/frankd/internal/health"
)

// Logo is the ASCII art logo for frankd
const Logo = `
   ███████╗██████╗  █████╗ ███╗   ██╗██╗  ██╗
   ██╔════╝██╔══██╗██╔══██╗████╗  ██║██║ ██╔╝
   █████╗  ██████╔╝███████║██╔██╗ ██║█████╔╝
   ██╔══╝  ██╔══██╗██╔══██║██║╚██╗██║██╔═██╗
   ██║     ██║  ██║██║  ██║██║ ╚████║██║  ██╗
   ╚═╝     ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═══╝╚═╝  ╚═╝
`

// Tagline is the project tagline
const Tagline = "Keeps your agent session busy"

// Info is what the startup header shows besides health.
type Info struct {
	Version string
	Gateway string
	Target  string
}

// PrintCompact prints a compact single-line banner
func PrintCompact(w io.Writer, version string) {
	fmt.Fprintf(w, "frankd v%s - %s\n", version, Tagline)
}

// Startup prints the logo, the runtime info and a compact health grid.
func Startup(w io.Writer, info Info, report *health.Report) {
	fmt.Fprint(w, Logo)
	fmt.Fprintf(w, "   %s\n\n", Tagline)
	fmt.Fprintf(w, "   Version:  v%s\n", info.Version)
	fmt.Fprintf(w, "   Gateway:  %s\n", info.Gateway)
	fmt.Fprintf(w, "   Target:   %s\n", info.Target)
	fmt.Fprintln(w)

	if report == nil {
		return
	}

	// Features in compact grid
	cols := 3
	colWidth := 16
	for i, f := range report.Features {
		name := f.Name
		if f.Note != "" {
			name += "*"
		}
		fmt.Fprintf(w, "%s %-*s", f.Status.Symbol(), colWidth-2, name)
		if (i+1)%cols == 0 || i == len(report.Features)-1 {
			fmt.Fprintln(w)
		}
	}

	if warnings := report.Warnings(); len(warnings) > 0 {
		fmt.Fprintln(w)
		for _, line := range warnings {
			fmt.Fprintf(w, "  * %s\n", line)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("━", 44))
}
