// Package render provides presentation-layer helpers for gr CLI output.
// It is a pure rendering package: no AWS calls, no isolation logic.
package render

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/pankaj-dahiya-devops/guardrail/internal/models"
)

const unknown = "Unknown"

// ReportMeta carries the per-report values that do not come from the
// investigation.
type ReportMeta struct {
	GeneratedAt time.Time
	ReportID    string
}

// NewReportMeta stamps a report generated at now. The report ID is derived
// from the timestamp in milliseconds.
func NewReportMeta(now time.Time) ReportMeta {
	return ReportMeta{
		GeneratedAt: now.UTC(),
		ReportID:    "RPT-" + strconv.FormatInt(now.UnixMilli(), 10),
	}
}

// RenderIncidentReport writes a Markdown incident report for inv to w.
// Missing fields render as "Unknown".
func RenderIncidentReport(w io.Writer, inv models.Investigation, meta ReportMeta) {
	fmt.Fprintln(w, "# 🚨 Security Incident Report")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "**Generated**: %s\n", meta.GeneratedAt.Format("2006-01-02T15:04:05.000Z07:00"))
	fmt.Fprintf(w, "**Report ID**: %s\n", meta.ReportID)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Executive Summary")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "**Threat Level**: %s/10\n", score(inv.Summary.Severity))
	fmt.Fprintln(w, "**Status**: Active Investigation")
	fmt.Fprintf(w, "**Affected Resource**: %s\n", or(inv.Resource.InstanceID, unknown))
	fmt.Fprintln(w)
	fmt.Fprintln(w, or(inv.Summary.Title, "Security incident detected requiring investigation."))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Threat Details")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- **Attack Type**: %s\n", or(inv.Threat.ActionType, unknown))
	fmt.Fprintf(w, "- **Source IP**: %s\n", or(inv.Threat.AttackerIP, unknown))
	fmt.Fprintf(w, "- **Country**: %s\n", or(inv.Threat.AttackerCountry, unknown))
	fmt.Fprintf(w, "- **Organization**: %s\n", or(inv.Threat.AttackerOrg, unknown))
	fmt.Fprintf(w, "- **ISP**: %s\n", or(inv.Threat.AttackerISP, unknown))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Timeline")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- **First Detected**: %s\n", or(inv.Timeline.FirstSeen, unknown))
	fmt.Fprintf(w, "- **Last Seen**: %s\n", or(inv.Timeline.LastSeen, unknown))
	fmt.Fprintf(w, "- **Total Events**: %s\n", count(inv.Timeline.Count))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Affected Resources")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "- **Resource Type**: %s\n", or(inv.Resource.Type, unknown))
	fmt.Fprintf(w, "- **Instance ID**: %s\n", or(inv.Resource.InstanceID, unknown))
	fmt.Fprintf(w, "- **Platform**: %s\n", or(inv.Resource.Platform, unknown))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "## Recommendations")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "1. **Immediate Actions**:")
	fmt.Fprintf(w, "   - Block source IP %s at the firewall level\n", or(inv.Threat.AttackerIP, "(unknown)"))
	fmt.Fprintln(w, "   - Review security group rules for exposed ports")
	fmt.Fprintln(w, "   - Check CloudWatch logs for any successful authentication attempts")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "2. **Investigation Steps**:")
	fmt.Fprintln(w, "   - Review CloudTrail logs for any API calls from the suspicious IP")
	fmt.Fprintln(w, "   - Check if other resources were targeted")
	fmt.Fprintln(w, "   - Verify no data exfiltration occurred")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "3. **Long-term Improvements**:")
	fmt.Fprintln(w, "   - Implement rate limiting on exposed services")
	fmt.Fprintln(w, "   - Enable AWS WAF for web-facing applications")
	fmt.Fprintln(w, "   - Review and update security group rules quarterly")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "---")
	fmt.Fprintln(w, "*Report generated by guardrail incident response*")
}

// RenderInvestigation writes a compact plain-text view of inv.
func RenderInvestigation(w io.Writer, inv models.Investigation) {
	fmt.Fprintf(w, "FINDING  %s\n", or(inv.Summary.Title, unknown))
	fmt.Fprintf(w, "Type:       %s\n", or(inv.Summary.Type, unknown))
	fmt.Fprintf(w, "Severity:   %s/10 (%s)\n", score(inv.Summary.Severity), models.SeverityFromScore(inv.Summary.Severity))
	fmt.Fprintf(w, "Seen:       %s → %s (%s events)\n",
		or(inv.Timeline.FirstSeen, unknown), or(inv.Timeline.LastSeen, unknown), count(inv.Timeline.Count))
	fmt.Fprintf(w, "Resource:   %s %s\n", or(inv.Resource.Type, unknown), inv.Resource.InstanceID)
	if inv.Threat.AttackerIP != "" {
		fmt.Fprintf(w, "Remote:     %s (%s, %s)\n", inv.Threat.AttackerIP,
			or(inv.Threat.AttackerCountry, unknown), or(inv.Threat.AttackerISP, unknown))
	}
	if inv.Threat.Port > 0 {
		fmt.Fprintf(w, "Port:       %d/%s\n", inv.Threat.Port, or(inv.Threat.Protocol, "?"))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, inv.Recommendation)
}

func or(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func score(v float64) string {
	if v == 0 {
		return unknown
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func count(n int) string {
	if n == 0 {
		return unknown
	}
	return strconv.Itoa(n)
}
