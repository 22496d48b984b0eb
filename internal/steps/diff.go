package steps

import (
	"github.com/pmezard/go-difflib/difflib"
)

// unifiedDiff renders a unified diff with three lines of context.
func unifiedDiff(path, before, after string, created bool) string {
	from := "a/" + path
	if created {
		from = "/dev/null"
	}
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(before),
		B:        difflib.SplitLines(after),
		FromFile: from,
		ToFile:   "b/" + path,
		Context:  3,
	})
	if err != nil {
		return ""
	}
	return out
}
