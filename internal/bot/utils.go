package bot

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lithammer/dedent"
)

func formatReplyText(text string, a ...any) string {
	if len(a) == 0 {
		return strings.TrimSpace(dedent.Dedent(text))
	}
	return fmt.Sprintf(strings.TrimSpace(dedent.Dedent(text)), a...)
}

func parseCommand(s string) (string, []string) {
	parts := strings.Fields(s)
	if len(parts) == 0 {
		return "", nil
	}
	// Commands in groups arrive as /cmd@botname.
	command, _, _ := strings.Cut(parts[0], "@")
	return strings.ToLower(command), parts[1:]
}

// isValidZIP validates US ZIP codes (5 digits).
func isValidZIP(code string) bool {
	if len(code) != 5 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// escapeMarkdown escapes special characters for Telegram Markdown V1
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "*", "\\*")
	text = strings.ReplaceAll(text, "_", "\\_")
	text = strings.ReplaceAll(text, "`", "\\`")
	text = strings.ReplaceAll(text, "[", "\\[")
	return text
}

// priceRegex matches valid price formats:
// - Plain numbers: "18500"
// - With thousands separators: "18,500", "18 500"
// - With a dollar sign: "$18500", "$ 18,500"
// - With a k suffix: "18.5k", "18k"
// The entire input (after trimming) must match the pattern.
var priceRegex = regexp.MustCompile(`(?i)^\$?\s*(\d+(?:[, ]\d{3})*(?:\.\d+)?)\s*(k)?\s*(?:usd|dollars)?$`)

func parsePriceMessage(text string) (int, error) {
	text = strings.TrimSpace(text)
	m := priceRegex.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("no price found")
	}
	priceStr := strings.NewReplacer(",", "", " ", "").Replace(m[1])
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, err
	}
	if m[2] != "" {
		price *= 1000
	}
	// Round to nearest integer
	return int(price + 0.5), nil
}

// parsePhotoNumber reads a 1-based photo number into a 0-based index.
func parsePhotoNumber(s string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(s, "#"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n - 1, true
}

func pluralize(singular string, plural string, count int) string {
	if count == 1 {
		return fmt.Sprintf("%d %s", count, singular)
	}
	return fmt.Sprintf("%d %s", count, plural)
}

// photoList formats 1-based photo numbers as "1, 2 and 4".
func photoList(numbers []int) string {
	parts := make([]string, len(numbers))
	for i, n := range numbers {
		parts[i] = strconv.Itoa(n)
	}
	switch len(parts) {
	case 0:
		return ""
	case 1:
		return parts[0]
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
}
