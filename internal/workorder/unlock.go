package workorder

import (
	"regexp"
	"strings"
)

var unlockCodePattern = regexp.MustCompile(`\s*\[MK:\s*([^\]]*)\]`)

// SplitUnlockCode separates a device unlock code embedded as "[MK: ...]" from
// the issue description.
func SplitUnlockCode(description string) (issue string, code string) {
	m := unlockCodePattern.FindStringSubmatch(description)
	if m == nil {
		return strings.TrimSpace(description), ""
	}
	issue = strings.TrimSpace(unlockCodePattern.ReplaceAllString(description, ""))
	return issue, strings.TrimSpace(m[1])
}

func JoinUnlockCode(issue, code string) string {
	issue = strings.TrimSpace(issue)
	code = strings.TrimSpace(code)
	if code == "" {
		return issue
	}
	if issue == "" {
		return "[MK: " + code + "]"
	}
	return issue + " [MK: " + code + "]"
}

func StripUnlockCode(description string) string {
	issue, _ := SplitUnlockCode(description)
	return issue
}
