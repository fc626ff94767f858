package shared

import (
	"os"
	"strings"

	"github.com/samber/lo"
)

// ReadLines returns the trimmed, non-blank lines of a text file.
func ReadLines(path string) ([]string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SplitLines(string(buf)), nil
}

func SplitLines(s string) []string {
	lines := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	return lo.Compact(lo.Map(lines, func(line string, _ int) string {
		return strings.TrimSpace(line)
	}))
}
