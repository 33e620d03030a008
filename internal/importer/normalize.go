package importer

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// foldDigits maps Extended Arabic-Indic (Persian) and Arabic-Indic digits,
// plus the Arabic decimal separator, to their ASCII forms.
var foldDigits = runes.Map(func(r rune) rune {
	switch {
	case r >= '۰' && r <= '۹':
		return '0' + (r - '۰')
	case r >= '٠' && r <= '٩':
		return '0' + (r - '٠')
	case r == '٫':
		return '.'
	}
	return r
})

// normalizeCell returns the NFC form of s with folded digits and without
// surrounding whitespace.
func normalizeCell(s string) string {
	out, _, err := transform.String(transform.Chain(norm.NFC, foldDigits), s)
	if err != nil {
		out = s
	}
	out = strings.TrimPrefix(out, "\ufeff")
	return strings.TrimSpace(out)
}

func normalizeHeader(s string) string {
	return strings.ToLower(normalizeCell(s))
}
