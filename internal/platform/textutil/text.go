package textutil

import (
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

var (
	strictPolicy     *bluemonday.Policy
	strictPolicyOnce sync.Once
	upper            = cases.Upper(language.Und)
)

// NormalizeCode folds full-width characters to their narrow forms, trims surrounding space and
// upper-cases the result, so "ｓｕｍｍｅｒ10 " and "SUMMER10" compare equal.
func NormalizeCode(code string) string {
	folded := width.Fold.String(code)
	return upper.String(strings.TrimSpace(folded))
}

// SanitizePlainText strips every HTML element from user supplied text and caps its length in runes.
// A non-positive limit disables the cap.
func SanitizePlainText(value string, limit int) string {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	cleaned := strings.TrimSpace(strictPolicy.Sanitize(value))
	if limit > 0 && utf8.RuneCountInString(cleaned) > limit {
		runes := []rune(cleaned)
		cleaned = strings.TrimSpace(string(runes[:limit]))
	}
	return cleaned
}
