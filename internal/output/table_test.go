package output_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
	"github.com/pankaj-dahiya-devops/guardrail/internal/output"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func renderToString(findings []models.FindingSummary, opts output.TableOptions) string {
	var buf bytes.Buffer
	output.RenderTable(&buf, findings, opts)
	return buf.String()
}

func oneFinding(overrides ...func(*models.FindingSummary)) models.FindingSummary {
	f := models.Finding{
		ID:        "0ac8b2f5d2e8c0a1b7f3e4d6c9a8b7f1",
		Type:      "UnauthorizedAccess:EC2/SSHBruteForce",
		Severity:  8,
		Title:     "SSH brute force attacks against i-0123456789abcdef0.",
		UpdatedAt: "2026-03-01T12:00:00.000Z",
		Resource:  models.Resource{ResourceType: models.ResourceTypeInstance},
	}.Summarize()
	for _, fn := range overrides {
		fn(&f)
	}
	return f
}

// ── columns ───────────────────────────────────────────────────────────────────

func TestRenderTable_BaseColumns(t *testing.T) {
	out := renderToString([]models.FindingSummary{oneFinding()}, output.TableOptions{})
	for _, col := range []string{"FINDING ID", "SEVERITY", "SCORE", "TYPE", "RESOURCE", "UPDATED"} {
		if !strings.Contains(out, col) {
			t.Errorf("expected %s column\ngot:\n%s", col, out)
		}
	}
	if strings.Contains(out, "TITLE") {
		t.Errorf("TITLE column must not appear when IncludeTitle=false\ngot:\n%s", out)
	}
	for _, v := range []string{"HIGH", "8.0", "UnauthorizedAccess:EC2/SSHBruteForce", "Instance"} {
		if !strings.Contains(out, v) {
			t.Errorf("expected value %q\ngot:\n%s", v, out)
		}
	}
}

func TestRenderTable_TitleColumn_WhenEnabled(t *testing.T) {
	out := renderToString([]models.FindingSummary{oneFinding()}, output.TableOptions{IncludeTitle: true})
	if !strings.Contains(out, "TITLE") || !strings.Contains(out, "SSH brute force") {
		t.Errorf("expected title column and value\ngot:\n%s", out)
	}
}

func TestRenderTable_LongTitleIsTruncated(t *testing.T) {
	long := strings.Repeat("x", 200)
	out := renderToString([]models.FindingSummary{oneFinding(func(f *models.FindingSummary) { f.Title = long })},
		output.TableOptions{IncludeTitle: true})
	if strings.Contains(out, long) {
		t.Error("expected title to be truncated")
	}
	if !strings.Contains(out, "...") {
		t.Errorf("expected ellipsis\ngot:\n%s", out)
	}
}

func TestRenderTable_LongTypeIsTruncatedWithEllipsis(t *testing.T) {
	out := renderToString([]models.FindingSummary{oneFinding(func(f *models.FindingSummary) {
		f.Type = "CryptoCurrency:EC2/BitcoinTool.B!DNS.VeryLongSuffixForTesting"
	})}, output.TableOptions{})
	if !strings.Contains(out, "…") {
		t.Errorf("expected truncated type\ngot:\n%s", out)
	}
}

// ── empty ─────────────────────────────────────────────────────────────────────

func TestRenderTable_EmptyFindings_PrintsNoFindings(t *testing.T) {
	out := renderToString(nil, output.TableOptions{})
	if strings.TrimSpace(out) != "No findings." {
		t.Errorf("got %q", out)
	}
}

// ── colour ────────────────────────────────────────────────────────────────────

func TestRenderTable_ColoredFalse_NoAnsiCodes(t *testing.T) {
	out := renderToString([]models.FindingSummary{oneFinding()}, output.TableOptions{Colored: false})
	if strings.Contains(out, "\033[") {
		t.Errorf("expected no ANSI codes\ngot:\n%q", out)
	}
}

func TestRenderTable_ColoredTrue_HasAnsiCodes(t *testing.T) {
	out := renderToString([]models.FindingSummary{oneFinding()}, output.TableOptions{Colored: true})
	if !strings.Contains(out, "\033[0;31mHIGH\033[0m") {
		t.Errorf("expected red HIGH\ngot:\n%q", out)
	}
}

func TestColorSeverity_InfoIsPlain(t *testing.T) {
	if got := output.ColorSeverity(models.SeverityInfo, true); got != "INFO" {
		t.Errorf("got %q", got)
	}
}

// ── summary line ──────────────────────────────────────────────────────────────

func TestRenderSummaryLine(t *testing.T) {
	findings := []models.FindingSummary{
		oneFinding(),
		oneFinding(func(f *models.FindingSummary) { f.Label = models.SeverityCritical }),
		oneFinding(),
	}
	var buf bytes.Buffer
	output.RenderSummaryLine(&buf, findings, false)
	if got := strings.TrimSpace(buf.String()); got != "3 findings: 1 CRITICAL, 2 HIGH" {
		t.Errorf("got %q", got)
	}
}

func TestRenderSummaryLine_Empty(t *testing.T) {
	var buf bytes.Buffer
	output.RenderSummaryLine(&buf, nil, false)
	if got := strings.TrimSpace(buf.String()); got != "0 findings" {
		t.Errorf("got %q", got)
	}
}

// ── ShortenMessage unit tests ─────────────────────────────────────────────────

func TestShortenMessage_ShortString_Unchanged(t *testing.T) {
	s := "short message"
	if got := output.ShortenMessage(s, 80); got != s {
		t.Errorf("got %q; want %q", got, s)
	}
}

func TestShortenMessage_TooLong_TruncatedWithEllipsis(t *testing.T) {
	s := strings.Repeat("a", 100)
	got := output.ShortenMessage(s, 80)
	if len([]rune(got)) != 80 || !strings.HasSuffix(got, "...") {
		t.Errorf("got %q (len %d)", got, len([]rune(got)))
	}
}

func TestShortenMessage_VerySmallMax_DoesNotPanic(t *testing.T) {
	if got := output.ShortenMessage("hello world", 2); got == "" {
		t.Error("ShortenMessage with tiny max must return non-empty string")
	}
}
