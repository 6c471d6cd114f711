package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/pankaj-dahiya-devops/guardrail/internal/engine"
)

// RenderIsolationResult writes a human-readable summary of res.
func RenderIsolationResult(w io.Writer, res *engine.Result) {
	switch {
	case res.Skipped:
		fmt.Fprintf(w, "SKIPPED  %s\n", res.Body.Message)
		return
	case res.AlreadyIsolated:
		fmt.Fprintf(w, "ALREADY ISOLATED  %s\n", res.Body.InstanceID)
	default:
		fmt.Fprintf(w, "ISOLATED  %s\n", res.Body.InstanceID)
	}

	original := "(none)"
	if len(res.Body.OriginalSecurityGroups) > 0 {
		original = strings.Join(res.Body.OriginalSecurityGroups, ", ")
	}
	fmt.Fprintf(w, "Original security groups: %s\n", original)

	if len(res.Warnings) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Warnings (%d):\n", len(res.Warnings))
	for _, warn := range res.Warnings {
		fmt.Fprintf(w, "  ⚠ %s: %s\n", warn.Kind, warn.Message)
	}
}
