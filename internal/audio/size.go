package audio

import "fmt"

const (
	kilobyte = 1024
	megabyte = kilobyte * 1024
	gigabyte = megabyte * 1024
)

// FormatSize renders a byte count for log lines, e.g. "500 B" or "1.5 MB".
func FormatSize(size int) string {
	switch {
	case size >= gigabyte:
		return fmt.Sprintf("%.1f GB", float64(size)/gigabyte)
	case size >= megabyte:
		return fmt.Sprintf("%.1f MB", float64(size)/megabyte)
	case size >= kilobyte:
		return fmt.Sprintf("%.1f KB", float64(size)/kilobyte)
	default:
		return fmt.Sprintf("%d B", size)
	}
}
