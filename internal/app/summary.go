package app

import (
	"fmt"
	"strings"

	"github.com/brensch/batchfetch/internal/outcome"
	"github.com/brensch/batchfetch/internal/util"
)

// RenderSummary formats a pipeline summary for the terminal.
func RenderSummary(pipeline string, s outcome.Summary) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("=== %s summary ===", pipeline)))
	b.WriteString("\n")

	fmt.Fprintf(&b, "  Total:     %d\n", s.Total)
	status := okStyle
	if !s.OK() {
		status = errorStyle
	}
	fmt.Fprintf(&b, "  Succeeded: %s\n", okStyle.Render(fmt.Sprint(s.Succeeded)))
	fmt.Fprintf(&b, "  Skipped:   %s\n", infoStyle.Render(fmt.Sprint(s.Skipped)))
	fmt.Fprintf(&b, "  Failed:    %s\n", status.Render(fmt.Sprint(s.Failed)))
	fmt.Fprintf(&b, "  Size:      %s\n", util.FormatBytes(s.TotalBytes))
	if s.TotalFiles > 0 {
		fmt.Fprintf(&b, "  Files:     %d\n", s.TotalFiles)
	}
	fmt.Fprintf(&b, "  Duration:  %.2fs\n", s.DurationSeconds())

	if len(s.Failures) > 0 {
		b.WriteString(errorStyle.Render("  Failures:"))
		b.WriteString("\n")
		for _, f := range s.Failures {
			fmt.Fprintf(&b, "    - %s: %s\n", f.Identifier, f.ErrorMessage)
		}
	}
	return b.String()
}
