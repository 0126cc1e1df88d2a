package util

import "fmt"

// FormatBytes renders n using binary units, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	value := float64(n) / float64(div)
	if value >= 100 {
		return fmt.Sprintf("%.0f %ciB", value, "KMGTPE"[exp])
	}
	return fmt.Sprintf("%.1f %ciB", value, "KMGTPE"[exp])
}
