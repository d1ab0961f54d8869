package common

import "strings"

// SplitList splits a comma separated list, trims surrounding whitespace and
// drops empty entries. Inner spaces are kept since state names contain them.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
