package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(format string, args ...any) {
	if !flagQuiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// progressPrinter renders in-place transfer progress on a terminal and
// stays silent when stderr is redirected, so logs do not fill with
// carriage-return spam.
type progressPrinter struct {
	w     io.Writer
	tty   bool
	total int64
	drawn bool
}

func newProgressPrinter(total int64) *progressPrinter {
	return &progressPrinter{
		w:     os.Stderr,
		tty:   isatty.IsTerminal(os.Stderr.Fd()) && !flagQuiet,
		total: total,
	}
}

// update redraws the progress line. No-op off-terminal.
func (p *progressPrinter) update(sent int64, percent int) {
	if !p.tty {
		return
	}

	fmt.Fprintf(p.w, "\r%3d%%  %s / %s", percent,
		humanize.IBytes(uint64(sent)), humanize.IBytes(uint64(p.total))) //nolint:gosec // sizes are non-negative

	p.drawn = true
}

// finish terminates the progress line so following output starts clean.
func (p *progressPrinter) finish() {
	if p.drawn {
		fmt.Fprintln(p.w)
	}
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.Join(parts, "  "))
}
