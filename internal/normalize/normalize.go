// Package normalize canonicalises language values to the three-letter
// ISO 639-2 codes stored in the library.
package normalize

import (
	"strings"
)

type language struct {
	code  string // ISO 639-2/T
	short string // ISO 639-1
	name  string
	alt   []string // bibliographic codes and alternate names
}

//nolint:gochecknoglobals // Static lookup table for language normalization
var languages = []language{
	{"eng", "en", "English", nil},
	{"spa", "es", "Spanish", []string{"castilian", "español"}},
	{"fra", "fr", "French", []string{"fre", "français"}},
	{"deu", "de", "German", []string{"ger", "deutsch"}},
	{"ita", "it", "Italian", []string{"italiano"}},
	{"por", "pt", "Portuguese", []string{"português"}},
	{"nld", "nl", "Dutch", []string{"dut", "flemish"}},
	{"rus", "ru", "Russian", nil},
	{"jpn", "ja", "Japanese", nil},
	{"zho", "zh", "Chinese", []string{"chi", "mandarin", "cantonese"}},
	{"kor", "ko", "Korean", nil},
	{"ara", "ar", "Arabic", nil},
	{"hin", "hi", "Hindi", nil},
	{"pol", "pl", "Polish", nil},
	{"swe", "sv", "Swedish", nil},
	{"nor", "no", "Norwegian", nil},
	{"nob", "nb", "Norwegian Bokmål", []string{"bokmal"}},
	{"nno", "nn", "Norwegian Nynorsk", []string{"nynorsk"}},
	{"dan", "da", "Danish", nil},
	{"fin", "fi", "Finnish", nil},
	{"tur", "tr", "Turkish", nil},
	{"ell", "el", "Greek", []string{"gre", "modern greek"}},
	{"heb", "he", "Hebrew", nil},
	{"ces", "cs", "Czech", []string{"cze"}},
	{"hun", "hu", "Hungarian", nil},
	{"ron", "ro", "Romanian", []string{"rum", "moldavian"}},
	{"tha", "th", "Thai", nil},
	{"vie", "vi", "Vietnamese", nil},
	{"ind", "id", "Indonesian", nil},
	{"msa", "ms", "Malay", []string{"may"}},
	{"ukr", "uk", "Ukrainian", nil},
	{"cat", "ca", "Catalan", []string{"valencian"}},
	{"hrv", "hr", "Croatian", nil},
	{"slk", "sk", "Slovak", []string{"slo"}},
	{"bul", "bg", "Bulgarian", nil},
	{"lit", "lt", "Lithuanian", nil},
	{"lav", "lv", "Latvian", nil},
	{"est", "et", "Estonian", nil},
	{"slv", "sl", "Slovenian", []string{"slovene"}},
	{"srp", "sr", "Serbian", nil},
	{"fas", "fa", "Persian", []string{"per", "farsi"}},
	{"ben", "bn", "Bengali", nil},
	{"tam", "ta", "Tamil", nil},
	{"tel", "te", "Telugu", nil},
	{"mar", "mr", "Marathi", nil},
	{"guj", "gu", "Gujarati", nil},
	{"urd", "ur", "Urdu", nil},
	{"pan", "pa", "Punjabi", []string{"panjabi"}},
	{"nep", "ne", "Nepali", nil},
	{"mya", "my", "Burmese", []string{"bur"}},
	{"khm", "km", "Khmer", nil},
	{"swa", "sw", "Swahili", nil},
	{"afr", "af", "Afrikaans", nil},
	{"zul", "zu", "Zulu", nil},
	{"cym", "cy", "Welsh", []string{"wel"}},
	{"gle", "ga", "Irish", nil},
	{"gla", "gd", "Scottish Gaelic", []string{"gaelic"}},
	{"eus", "eu", "Basque", []string{"baq"}},
	{"glg", "gl", "Galician", nil},
	{"isl", "is", "Icelandic", []string{"ice"}},
	{"mkd", "mk", "Macedonian", []string{"mac"}},
	{"bos", "bs", "Bosnian", nil},
	{"sqi", "sq", "Albanian", []string{"alb"}},
	{"hye", "hy", "Armenian", []string{"arm"}},
	{"kat", "ka", "Georgian", []string{"geo"}},
	{"kaz", "kk", "Kazakh", nil},
	{"mon", "mn", "Mongolian", nil},
	{"tgl", "tl", "Tagalog", []string{"fil", "filipino"}},
	{"bod", "bo", "Tibetan", []string{"tib"}},
	{"lat", "la", "Latin", nil},
	{"epo", "eo", "Esperanto", nil},
	{"grc", "", "Ancient Greek", nil},
	{"und", "", "Undetermined", nil},
}

//nolint:gochecknoglobals // Built once from the table above
var (
	byKey  = buildIndex()
	byCode = buildCodeIndex()
)

func buildIndex() map[string]string {
	m := make(map[string]string, len(languages)*4)
	for _, l := range languages {
		m[l.code] = l.code
		if l.short != "" {
			m[l.short] = l.code
		}
		m[strings.ToLower(l.name)] = l.code
		for _, a := range l.alt {
			m[a] = l.code
		}
	}
	return m
}

func buildCodeIndex() map[string]language {
	m := make(map[string]language, len(languages))
	for _, l := range languages {
		m[l.code] = l
	}
	return m
}

// LanguageCode converts a language code, locale, or English name to the
// canonical three-letter code. Returns "" for unrecognised input.
//
//	"en" -> "eng", "en_GB" -> "eng", "ger" -> "deu", "French" -> "fra"
func LanguageCode(raw string) string {
	s := strings.ToLower(strings.TrimSpace(sanitizeString(raw)))
	if s == "" {
		return ""
	}
	if code, ok := byKey[s]; ok {
		return code
	}
	// Strip region from locale tags.
	if i := strings.IndexAny(s, "-_"); i > 0 {
		if code, ok := byKey[s[:i]]; ok {
			return code
		}
	}
	return ""
}

// CanonicalizeLanguage returns LanguageCode(raw) when it is recognised and
// the trimmed input otherwise, so unknown codes survive a round trip.
func CanonicalizeLanguage(raw string) string {
	if code := LanguageCode(raw); code != "" {
		return code
	}
	return strings.TrimSpace(raw)
}

// LanguageName returns the English display name of a language value.
// Returns empty string for unrecognised values.
func LanguageName(raw string) string {
	code := LanguageCode(raw)
	if code == "" {
		return ""
	}
	return byCode[code].name
}

// ISO6391 returns the two-letter code for raw, or "" when there is none.
func ISO6391(raw string) string {
	code := LanguageCode(raw)
	if code == "" {
		return ""
	}
	return byCode[code].short
}

// sanitizeString removes null bytes, which some metadata sources include as
// string terminators.
func sanitizeString(s string) string {
	return strings.Map(func(r rune) rune {
		if r == 0 {
			return -1
		}
		return r
	}, s)
}
