// Package tui renders datalake CLI output.
// Simple, streaming, no full-screen UI: styled lines and a copy progress bar.
package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	lakeerrors "github.com/logflow/datalake/pkg/errors"
	"github.com/logflow/datalake/pkg/ingest"
	"github.com/logflow/datalake/pkg/ingest/schema"
	"github.com/logflow/datalake/pkg/storage/catalog"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	warn    = lipgloss.Color("#FFAA00")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(warn).Bold(true)
	codeStyle    = lipgloss.NewStyle().Foreground(white)
)

const rule = "  ─────────────────────────────────────"

// Printer writes styled output to one writer.
type Printer struct {
	out   io.Writer
	quiet bool
}

// NewPrinter returns a printer writing to out. A quiet printer only prints
// errors and warnings.
func NewPrinter(out io.Writer, quiet bool) *Printer {
	return &Printer{out: out, quiet: quiet}
}

func (p *Printer) line(format string, args ...interface{}) {
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Header prints the tool banner.
func (p *Printer) Header(version string) {
	if p.quiet {
		return
	}
	p.line("")
	p.line("%s%s", titleStyle.Render("  DATALAKE"), mutedStyle.Render(" v"+version))
	p.line("%s", mutedStyle.Render("  File-based table catalog"))
	p.line("")
}

// Added prints the outcome of an ingestion.
func (p *Printer) Added(res *ingest.Result) {
	if res.Warning != nil {
		p.Warning(res.Warning)
	}
	if p.quiet {
		return
	}
	e := res.Entry
	p.line("")
	p.line("%s", successStyle.Render(fmt.Sprintf("  ✓ TABLE ADDED  %s (id %d)", e.LogicalName, e.ID)))
	p.line("%s", mutedStyle.Render(rule))
	p.line("  %s %s", mutedStyle.Render("Data:       "), codeStyle.Render(e.DataPath))
	p.line("  %s %s", mutedStyle.Render("Description:"), codeStyle.Render(e.DescriptionPath))
	p.line("  %s %s", mutedStyle.Render("Format:     "), titleStyle.Render(e.Format.String()))
	p.line("  %s %s", mutedStyle.Render("Size:       "), titleStyle.Render(formatBytes(e.SizeBytes)))
	p.line("  %s %s", mutedStyle.Render("Time:       "), titleStyle.Render(formatDuration(res.Duration)))
	p.line("%s", mutedStyle.Render(rule))
	p.Schema(&schema.Schema{Format: e.Format, Columns: e.Schema})
}

// Entry prints one catalog entry with its schema.
func (p *Printer) Entry(e catalog.Entry) {
	if p.quiet {
		return
	}
	p.line("")
	p.line("  %s %s", titleStyle.Render(e.LogicalName), mutedStyle.Render(fmt.Sprintf("(id %d)", e.ID)))
	p.line("%s", mutedStyle.Render(rule))
	p.line("  %s %s", mutedStyle.Render("Data:       "), codeStyle.Render(e.DataPath))
	p.line("  %s %s", mutedStyle.Render("Description:"), codeStyle.Render(e.DescriptionPath))
	p.line("  %s %s", mutedStyle.Render("Format:     "), titleStyle.Render(e.Format.String()))
	p.line("  %s %s", mutedStyle.Render("Source:     "), codeStyle.Render(e.SourceFile))
	p.line("  %s %s", mutedStyle.Render("Size:       "), titleStyle.Render(formatBytes(e.SizeBytes)))
	p.line("  %s %s", mutedStyle.Render("Created:    "), titleStyle.Render(e.CreatedAt.Format(time.RFC3339)))
	p.line("%s", mutedStyle.Render(rule))
	p.Schema(&schema.Schema{Format: e.Format, Columns: e.Schema})
}

// Schema prints columns with their types.
func (p *Printer) Schema(s *schema.Schema) {
	if p.quiet {
		return
	}
	width := 0
	for _, c := range s.Columns {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}
	for _, c := range s.Columns {
		typ := c.Type.String()
		if c.SourceType != "" {
			typ += mutedStyle.Render(" (" + c.SourceType + ")")
		}
		p.line("  %-*s  %s", width, c.Name, typ)
	}
}

// Tables prints the catalog as an id/name/format table.
func (p *Printer) Tables(entries []catalog.Entry) {
	if len(entries) == 0 {
		p.line("%s", mutedStyle.Render("  No tables."))
		return
	}
	nameWidth := len("NAME")
	for _, e := range entries {
		if len(e.LogicalName) > nameWidth {
			nameWidth = len(e.LogicalName)
		}
	}
	p.line("  %s", titleStyle.Render(fmt.Sprintf("%-4s  %-*s  %-8s  %8s  %s", "ID", nameWidth, "NAME", "FORMAT", "COLUMNS", "CREATED")))
	for _, e := range entries {
		p.line("  %-4d  %-*s  %-8s  %8d  %s",
			e.ID, nameWidth, e.LogicalName, e.Format, len(e.Schema),
			mutedStyle.Render(e.CreatedAt.Format(time.RFC3339)))
	}
}

// Verified prints a verification summary.
func (p *Printer) Verified(tables int, problems []catalog.Problem) {
	if len(problems) == 0 {
		if !p.quiet {
			p.line("%s", successStyle.Render(fmt.Sprintf("  ✓ %d tables verified", tables)))
		}
		return
	}
	p.line("%s", accentStyle.Render(fmt.Sprintf("  ✗ %d problems in %d tables", len(problems), tables)))
	for _, pr := range problems {
		p.line("    %s %s: %s", titleStyle.Render(pr.Table), codeStyle.Render(pr.Path), pr.Reason)
	}
}

// Warning prints a non-fatal error.
func (p *Printer) Warning(err error) {
	p.line("%s %s", warnStyle.Render("  ! warning"), err.Error())
}

// Error prints a failure with its code and step. Warning codes are printed
// as warnings.
func (p *Printer) Error(err error) {
	if lakeerrors.IsWarning(err) {
		p.Warning(err)
		return
	}
	code := lakeerrors.GetCode(err)
	label := "  ✗ " + code.Name()
	if step := lakeerrors.StepOf(err); step != "" {
		label += " at " + step
	}
	p.line("%s", accentStyle.Render(label))
	p.line("    %s", err.Error())
}

// Info prints a muted informational line.
func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.line("%s", mutedStyle.Render("  "+fmt.Sprintf(format, args...)))
}

// CopyProgress returns a progress bar sized for a file copy.
func CopyProgress(out io.Writer, label string, size int64) io.Writer {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("  "+label),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
