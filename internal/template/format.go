package template

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

type formatSpec struct {
	fill     rune
	align    byte
	sign     byte
	zero     bool
	width    int
	grouping byte
	prec     int
	typ      byte
}

func parseFormatSpec(spec string) (formatSpec, error) {
	fs := formatSpec{fill: ' ', prec: -1}
	rs := []rune(spec)
	i := 0
	isAlign := func(r rune) bool { return r == '<' || r == '>' || r == '^' || r == '=' }
	switch {
	case len(rs) >= 2 && isAlign(rs[1]):
		fs.fill, fs.align = rs[0], byte(rs[1])
		i = 2
	case len(rs) >= 1 && isAlign(rs[0]):
		fs.align = byte(rs[0])
		i = 1
	}
	if i < len(rs) && (rs[i] == '+' || rs[i] == '-' || rs[i] == ' ') {
		fs.sign = byte(rs[i])
		i++
	}
	if i < len(rs) && rs[i] == '#' {
		i++
	}
	if i < len(rs) && rs[i] == '0' {
		fs.zero = true
		i++
	}
	start := i
	for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
		i++
	}
	if i > start {
		fs.width, _ = strconv.Atoi(string(rs[start:i]))
	}
	if i < len(rs) && (rs[i] == ',' || rs[i] == '_') {
		fs.grouping = byte(rs[i])
		i++
	}
	if i < len(rs) && rs[i] == '.' {
		i++
		start = i
		for i < len(rs) && rs[i] >= '0' && rs[i] <= '9' {
			i++
		}
		if i == start {
			return fs, fmt.Errorf("format specifier %q is missing a precision", spec)
		}
		fs.prec, _ = strconv.Atoi(string(rs[start:i]))
	}
	if i < len(rs) {
		if !strings.ContainsRune("sdfFeEgGn%x", rs[i]) {
			return fs, fmt.Errorf("unknown format code %q", rs[i])
		}
		fs.typ = byte(rs[i])
		i++
	}
	if i != len(rs) {
		return fs, fmt.Errorf("invalid format specifier %q", spec)
	}
	return fs, nil
}

// FormatSpec formats val with a format specifier of the form
// [[fill]align][sign][0][width][,][.precision][type]. Numeric types parse
// val as a number first.
func FormatSpec(val, spec string) (string, error) {
	fs, err := parseFormatSpec(spec)
	if err != nil {
		return "", err
	}
	if fs.typ == 0 || fs.typ == 's' {
		if fs.prec >= 0 && utf8.RuneCountInString(val) > fs.prec {
			val = string([]rune(val)[:fs.prec])
		}
		align := fs.align
		if align == 0 {
			align = '<'
		}
		return pad(val, "", fs.width, fs.fill, align), nil
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return "", fmt.Errorf("value %q is not a number", val)
	}
	neg := math.Signbit(f) && f != 0
	f = math.Abs(f)

	var body string
	switch fs.typ {
	case 'd':
		body = strconv.FormatInt(int64(math.Round(f)), 10)
	case 'x':
		body = strconv.FormatInt(int64(math.Round(f)), 16)
	case 'f', 'F':
		body = strconv.FormatFloat(f, 'f', precOr(fs.prec, 6), 64)
	case 'e', 'E':
		body = strconv.FormatFloat(f, byte(fs.typ), precOr(fs.prec, 6), 64)
	case 'g', 'G', 'n':
		body = strconv.FormatFloat(f, 'g', fs.prec, 64)
	case '%':
		body = strconv.FormatFloat(f*100, 'f', precOr(fs.prec, 6), 64) + "%"
	}
	if fs.grouping != 0 {
		body = group(body, fs.grouping)
	}

	var sign string
	switch {
	case neg:
		sign = "-"
	case fs.sign == '+':
		sign = "+"
	case fs.sign == ' ':
		sign = " "
	}

	align, fill := fs.align, fs.fill
	if fs.zero && align == 0 {
		align, fill = '=', '0'
	}
	if align == 0 {
		align = '>'
	}
	return pad(body, sign, fs.width, fill, align), nil
}

func precOr(p, def int) int {
	if p < 0 {
		return def
	}
	return p
}

func group(body string, sep byte) string {
	intPart, frac := body, ""
	if i := strings.IndexAny(body, ".%eE"); i >= 0 {
		intPart, frac = body[:i], body[i:]
	}
	if len(intPart) <= 3 {
		return body
	}
	var sb strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		sb.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(sep)
		}
		sb.WriteString(intPart[i : i+3])
	}
	return sb.String() + frac
}

func pad(body, sign string, width int, fill rune, align byte) string {
	n := width - utf8.RuneCountInString(body) - utf8.RuneCountInString(sign)
	if n <= 0 {
		return sign + body
	}
	padding := strings.Repeat(string(fill), n)
	switch align {
	case '<':
		return sign + body + padding
	case '^':
		left := strings.Repeat(string(fill), n/2)
		return left + sign + body + strings.Repeat(string(fill), n-n/2)
	case '=':
		return sign + padding + body
	default:
		return padding + sign + body
	}
}

// dateTokens matches the codes understood by FormatDate. Longer runs are
// tried first.
var dateTokens = regexp.MustCompile(`(?:s{1,2}|m{1,2}|h{1,2}|ap|AP|d{1,4}|M{1,4}|yyyy|yy)`)

// FormatDate renders t with a date format made of the codes d, dd, ddd,
// dddd, M, MM, MMM, MMMM, yy, yyyy, h, hh, m, mm, s, ss, ap and AP. The
// format "iso" renders RFC 3339.
func FormatDate(t time.Time, format string) string {
	if t.IsZero() {
		return ""
	}
	switch format {
	case "":
		format = "dd MMM yyyy"
	case "iso":
		return t.Format(time.RFC3339)
	}
	ampm := strings.Contains(strings.ToLower(format), "ap")
	return dateTokens.ReplaceAllStringFunc(format, func(tok string) string {
		switch tok {
		case "d":
			return strconv.Itoa(t.Day())
		case "dd":
			return fmt.Sprintf("%02d", t.Day())
		case "ddd":
			return t.Format("Mon")
		case "dddd":
			return t.Format("Monday")
		case "M":
			return strconv.Itoa(int(t.Month()))
		case "MM":
			return fmt.Sprintf("%02d", int(t.Month()))
		case "MMM":
			return t.Format("Jan")
		case "MMMM":
			return t.Format("January")
		case "yy":
			return fmt.Sprintf("%02d", t.Year()%100)
		case "yyyy":
			return fmt.Sprintf("%04d", t.Year())
		case "h", "hh":
			h := t.Hour()
			if ampm {
				h %= 12
				if h == 0 {
					h = 12
				}
			}
			if tok == "hh" {
				return fmt.Sprintf("%02d", h)
			}
			return strconv.Itoa(h)
		case "m":
			return strconv.Itoa(t.Minute())
		case "mm":
			return fmt.Sprintf("%02d", t.Minute())
		case "s":
			return strconv.Itoa(t.Second())
		case "ss":
			return fmt.Sprintf("%02d", t.Second())
		case "ap":
			if t.Hour() < 12 {
				return "am"
			}
			return "pm"
		case "AP":
			if t.Hour() < 12 {
				return "AM"
			}
			return "PM"
		}
		return tok
	})
}

//nolint:gochecknoglobals // Static lookup table
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2006",
	"January 2006",
	"2006-01",
	"2006",
}

// ParseDate parses the date forms produced by FormatDate's common formats
// and ISO dates.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatRaw renders a stored field value as program text.
func FormatRaw(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case map[string]string:
		keys := slices.Sorted(maps.Keys(v))
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v[k]
		}
		return strings.Join(parts, ",")
	case float64:
		return FormatFloat(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case time.Time:
		if v.IsZero() {
			return ""
		}
		return v.Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
