// Package util provides common utility functions.
package util

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	// Characters that are invalid in file names on at least one supported OS.
	invalidFilenameRe = regexp.MustCompile(`[\\/:*?"<>|]`)
	// Matches runs of whitespace.
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// transliterations for letters that NFKD does not decompose to ASCII.
//
//nolint:gochecknoglobals // Static lookup table
var transliterations = map[rune]string{
	'ß': "ss", 'æ': "ae", 'Æ': "AE", 'ø': "o", 'Ø': "O",
	'œ': "oe", 'Œ': "OE", 'đ': "d", 'Đ': "D", 'ł': "l", 'Ł': "L",
	'þ': "th", 'Þ': "Th", 'ð': "d", 'Ð': "D", 'ı': "i",
	'‘': "'", '’': "'", '“': `"`, '”': `"`, '–': "-", '—': "-", '…': "...",
}

// ASCIIText folds s to ASCII: accents are stripped, a few ligatures are
// spelled out, and anything left is replaced by '_'.
//
//	"Café Müller" -> "Cafe Muller"
//	"Straße"      -> "Strasse"
func ASCIIText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFKD.String(s) {
		switch {
		case r < utf8.RuneSelf:
			b.WriteRune(r)
		case unicode.Is(unicode.Mn, r):
			// combining mark left over from decomposition
		default:
			if t, ok := transliterations[r]; ok {
				b.WriteString(t)
			} else {
				b.WriteByte('_')
			}
		}
	}
	return b.String()
}

// SanitizeFilename makes name safe to use as a single path component on every
// host file system. The result is ASCII, has no separators or reserved
// characters, and never ends in a dot or space.
func SanitizeFilename(name string, substitute string) string {
	s := ASCIIText(name)
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
	s = invalidFilenameRe.ReplaceAllString(s, substitute)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ". ")
	if strings.HasPrefix(s, ".") {
		s = "_" + s[1:]
	}
	return s
}

// Truncate shortens s to at most n bytes, then trims trailing dots and spaces.
// s must already be ASCII.
func Truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, ". ")
}
