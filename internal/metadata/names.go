package metadata

import (
	"regexp"
	"strconv"
	"strings"
)

// Author sort derivation methods.
const (
	SortInvert  = "invert"
	SortCopy    = "copy"
	SortComma   = "comma"
	SortNoComma = "nocomma"
)

//nolint:gochecknoglobals // Static word lists
var (
	authorCopyWords = wordSet("corporation", "company", "co.", "agency", "council",
		"committee", "inc.", "institute", "national", "society", "club", "team",
		"foundation", "association", "university", "press", "publishing")
	authorPrefixes = withDots(wordSet("mr", "mrs", "ms", "dr", "prof", "sir", "dame"))
	authorSuffixes = withDots(wordSet("jr", "sr", "inc", "ph.d", "phd", "md", "m.d",
		"i", "ii", "iii", "iv", "junior", "senior"))

	bracketedRe = regexp.MustCompile(`\s*(\([^)]*\)|\[[^\]]*\]|\{[^}]*\})`)
	seriesRe    = regexp.MustCompile(`^(.*)\s+\[([.0-9]+)\]$`)

	// Leading articles per language, matched case-insensitively.
	titleArticles = map[string][]string{
		"eng": {"a", "the", "an"},
		"fra": {"le", "la", "les", "l'", "un", "une", "des"},
		"deu": {"der", "die", "das", "ein", "eine"},
		"spa": {"el", "la", "lo", "los", "las", "un", "una", "unos", "unas"},
		"ita": {"il", "lo", "la", "i", "gli", "le", "un", "uno", "una", "l'"},
		"nld": {"de", "het", "een"},
	}
)

func wordSet(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}

func withDots(m map[string]bool) map[string]bool {
	for w := range m {
		m[w+"."] = true
	}
	return m
}

// AuthorToAuthorSort derives the sort form of an author name using method
// (one of the Sort* constants; "" means invert).
//
//	"Isaac Asimov"          -> "Asimov, Isaac"
//	"Dr. Martin Luther King Jr." -> "King, Martin Luther Jr."
//	"Acme Publishing Company"   -> "Acme Publishing Company"
func AuthorToAuthorSort(author, method string) string {
	if author == "" {
		return ""
	}
	if method == "" {
		method = SortInvert
	}
	if method == SortCopy {
		return author
	}
	tokens := strings.Fields(bracketedRe.ReplaceAllString(author, ""))
	if len(tokens) < 2 {
		return author
	}
	for _, tok := range tokens {
		if authorCopyWords[strings.ToLower(tok)] {
			return author
		}
	}

	for len(tokens) > 0 && authorPrefixes[strings.ToLower(tokens[0])] {
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		return author
	}

	var suffix []string
	for len(tokens) > 0 && authorSuffixes[strings.ToLower(tokens[len(tokens)-1])] {
		suffix = append([]string{tokens[len(tokens)-1]}, suffix...)
		tokens = tokens[:len(tokens)-1]
	}
	if len(tokens) == 0 {
		return author
	}

	if method == SortComma && strings.Contains(strings.Join(tokens, ""), ",") {
		return author
	}

	out := make([]string, 0, len(tokens)+1)
	out = append(out, tokens[len(tokens)-1])
	out = append(out, tokens[:len(tokens)-1]...)
	if method != SortNoComma && len(tokens) > 1 {
		out[0] += ","
	}
	if len(suffix) > 0 {
		out = append(out, strings.Join(suffix, " "))
	}
	return strings.Join(out, " ")
}

// AuthorsToSortString joins the sort forms of authors with " & ".
func AuthorsToSortString(authors []string, method string) string {
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		if a == "" {
			continue
		}
		parts = append(parts, AuthorToAuthorSort(a, method))
	}
	return strings.Join(parts, " & ")
}

// AuthorsToString joins author names with " & ", doubling literal ampersands.
func AuthorsToString(authors []string) string {
	parts := make([]string, 0, len(authors))
	for _, a := range authors {
		if a == "" {
			continue
		}
		parts = append(parts, strings.ReplaceAll(a, "&", "&&"))
	}
	return strings.Join(parts, " & ")
}

// StringToAuthors is the inverse of AuthorsToString.
func StringToAuthors(raw string) []string {
	if raw == "" {
		return nil
	}
	raw = strings.ReplaceAll(raw, "&&", "\uffff")
	var out []string
	for _, a := range strings.Split(raw, "&") {
		a = strings.TrimSpace(strings.ReplaceAll(a, "\uffff", "&"))
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// ignoredTitleStarts are quote marks skipped before looking for an article.
const ignoredTitleStarts = "'\"‘’‚‛“”„′″"

// TitleSort moves a leading article to the end of title. lang is a
// three-letter language code; "" means English.
//
//	"The Left Hand of Darkness" -> "Left Hand of Darkness, The"
func TitleSort(title, lang string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return title
	}
	if r := []rune(title); strings.ContainsRune(ignoredTitleStarts, r[0]) {
		title = strings.TrimSpace(string(r[1:]))
	}
	if lang == "" {
		lang = "eng"
	}
	articles, ok := titleArticles[lang]
	if !ok {
		articles = titleArticles["eng"]
	}
	for _, art := range articles {
		if len(title) < len(art) || !strings.EqualFold(title[:len(art)], art) {
			continue
		}
		rest := title[len(art):]
		if strings.HasSuffix(art, "'") {
			if rest == "" {
				continue
			}
			return strings.TrimSpace(rest) + ", " + title[:len(art)]
		}
		if rest == "" || (rest[0] != ' ' && rest[0] != '\t') {
			continue
		}
		trimmed := strings.TrimSpace(rest)
		if trimmed == "" {
			continue
		}
		return trimmed + ", " + title[:len(art)]
	}
	return title
}

// ParseSeriesValue splits "Name [3.5]" into the series name and its index.
// The index is nil when val carries none.
func ParseSeriesValue(val string) (string, *float64) {
	s := strings.TrimSpace(val)
	if s == "" {
		return "", nil
	}
	m := seriesRe.FindStringSubmatch(s)
	if m == nil {
		return s, nil
	}
	idx, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return s, nil
	}
	return strings.TrimSpace(m[1]), &idx
}

// FormatSeriesIndex renders an index the way it is shown to users: whole
// numbers without a fraction.
func FormatSeriesIndex(idx float64) string {
	if idx == float64(int64(idx)) {
		return strconv.FormatInt(int64(idx), 10)
	}
	return strconv.FormatFloat(idx, 'f', -1, 64)
}
