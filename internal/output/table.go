package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

// ANSI color codes for severity output (used when Colored=true).
const (
	ansiReset   = "\033[0m"
	ansiBoldRed = "\033[1;31m"
	ansiRed     = "\033[0;31m"
	ansiYellow  = "\033[0;33m"
	ansiBlue    = "\033[0;34m"
)

// TableOptions controls which columns RenderTable renders and how severity is coloured.
type TableOptions struct {
	// Colored wraps severity labels with ANSI codes. Default false (CI-safe).
	Colored bool

	// IncludeTitle adds a TITLE column.
	IncludeTitle bool
}

func severityColor(sev models.Severity) string {
	switch sev {
	case models.SeverityCritical:
		return ansiBoldRed
	case models.SeverityHigh:
		return ansiRed
	case models.SeverityMedium:
		return ansiYellow
	case models.SeverityLow:
		return ansiBlue
	default:
		return ""
	}
}

// ColorSeverity wraps a severity string with ANSI codes when colored is true.
// When colored is false the string is returned unchanged (CI-safe default).
func ColorSeverity(sev models.Severity, colored bool) string {
	s := string(sev)
	code := severityColor(sev)
	if !colored || code == "" {
		return s
	}
	return code + s + ansiReset
}

// ShortenMessage truncates msg to at most max runes, appending "..." when truncated.
// max is treated as at least 4 to guarantee space for the ellipsis.
func ShortenMessage(msg string, max int) string {
	if max < 4 {
		max = 4
	}
	runes := []rune(msg)
	if len(runes) <= max {
		return msg
	}
	return string(runes[:max-3]) + "..."
}

// severityCell returns the severity padded to width characters.
// When colored, ANSI codes wrap only the text; trailing padding spaces are plain
// so subsequent columns stay visually aligned regardless of terminal ANSI support.
func severityCell(sev models.Severity, width int, colored bool) string {
	text := string(sev)
	code := severityColor(sev)
	if !colored || code == "" {
		return fmt.Sprintf("%-*s", width, text)
	}
	spaces := max(width-len(text), 0)
	return code + text + ansiReset + strings.Repeat(" ", spaces)
}

// truncateField shortens s to at most max runes for ID/label columns.
// A single-rune ellipsis replaces the last rune when truncation occurs.
func truncateField(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// RenderTable writes a formatted findings table to w.
//
// Column order:
//
//	FINDING ID  SEVERITY  SCORE  TYPE  RESOURCE  UPDATED  [TITLE]
func RenderTable(w io.Writer, findings []models.FindingSummary, opts TableOptions) {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return
	}

	// Fixed column display widths.
	const (
		wID       = 34
		wSeverity = 10
		wScore    = 5
		wType     = 42
		wResource = 16
		wUpdated  = 24
		wTitle    = 50
	)

	var hb strings.Builder
	hb.WriteString(fmt.Sprintf("%-*s", wID, "FINDING ID"))
	hb.WriteString(fmt.Sprintf("  %-*s", wSeverity, "SEVERITY"))
	hb.WriteString(fmt.Sprintf("  %-*s", wScore, "SCORE"))
	hb.WriteString(fmt.Sprintf("  %-*s", wType, "TYPE"))
	hb.WriteString(fmt.Sprintf("  %-*s", wResource, "RESOURCE"))
	hb.WriteString(fmt.Sprintf("  %-*s", wUpdated, "UPDATED"))
	if opts.IncludeTitle {
		hb.WriteString(fmt.Sprintf("  %-*s", wTitle, "TITLE"))
	}
	header := strings.TrimRight(hb.String(), " ")

	fmt.Fprintln(w, header)
	fmt.Fprintln(w, strings.Repeat("-", len(header)))

	for _, f := range findings {
		var rb strings.Builder
		rb.WriteString(fmt.Sprintf("%-*s", wID, truncateField(f.ID, wID)))
		rb.WriteString("  " + severityCell(f.Label, wSeverity, opts.Colored))
		rb.WriteString(fmt.Sprintf("  %-*.1f", wScore, f.Severity))
		rb.WriteString(fmt.Sprintf("  %-*s", wType, truncateField(f.Type, wType)))
		rb.WriteString(fmt.Sprintf("  %-*s", wResource, truncateField(f.ResourceType, wResource)))
		rb.WriteString(fmt.Sprintf("  %-*s", wUpdated, truncateField(f.UpdatedAt, wUpdated)))
		if opts.IncludeTitle {
			rb.WriteString(fmt.Sprintf("  %-*s", wTitle, ShortenMessage(f.Title, wTitle)))
		}
		fmt.Fprintln(w, strings.TrimRight(rb.String(), " "))
	}
}

// CountBySeverity tallies findings per severity band.
func CountBySeverity(findings []models.FindingSummary) map[models.Severity]int {
	out := make(map[models.Severity]int)
	for _, f := range findings {
		out[f.Label]++
	}
	return out
}

// RenderSummaryLine writes "N findings: X CRITICAL, Y HIGH, ..." omitting
// empty bands.
func RenderSummaryLine(w io.Writer, findings []models.FindingSummary, colored bool) {
	counts := CountBySeverity(findings)
	var parts []string
	for _, sev := range []models.Severity{
		models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow, models.SeverityInfo,
	} {
		if n := counts[sev]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, ColorSeverity(sev, colored)))
		}
	}
	noun := "findings"
	if len(findings) == 1 {
		noun = "finding"
	}
	if len(parts) == 0 {
		fmt.Fprintf(w, "%d %s\n", len(findings), noun)
		return
	}
	fmt.Fprintf(w, "%d %s: %s\n", len(findings), noun, strings.Join(parts, ", "))
}
