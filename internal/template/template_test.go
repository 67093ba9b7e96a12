package template

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book() MapValues {
	return MapValues{
		"title":        "The Dispossessed",
		"authors":      "Ursula K. Le Guin",
		"tags":         "sf, anarchism, classic",
		"series":       "Hainish Cycle",
		"series_index": "5",
		"rating":       "8",
		"pubdate":      "03 Jan 1974",
		"empty":        "",
	}
}

func newEngine() *Engine {
	return New(Options{Now: func() time.Time { return time.Date(2024, 5, 6, 12, 0, 0, 0, time.UTC) }})
}

func TestRender_SingleFunctionMode(t *testing.T) {
	tests := []struct {
		tmpl string
		want string
	}{
		{"{title}", "The Dispossessed"},
		{"{title} by {authors}", "The Dispossessed by Ursula K. Le Guin"},
		{"{series:|[|] }{title}", "[Hainish Cycle] The Dispossessed"},
		{"{empty:|[|]}x", "x"},
		{"{series_index:05.1f}", "005.0"},
		{"{series_index:0>3d}", "005"},
		{"{title:.3}", "The"},
		{"{tags:count(,)}", "3"},
		{`{tags:sublist(0,1,\,)}`, "sf"},
		{`{tags:list_item(1,\,)}`, "anarchism"},
		{"{title:uppercase()}", "THE DISPOSSESSED"},
		{"{title:'uppercase($)'}", "THE DISPOSSESSED"},
		{`{authors:'ifempty($, "Anon")'}`, "Ursula K. Le Guin"},
		{`{empty:'ifempty($, "Anon")'}`, "Anon"},
		{"{title:shorten(4,...,4)}", "The ...ssed"},
		{"{series:lookup(Hain,title,authors)|<|>}", "<The Dispossessed>"},
		{`\{literal\}`, "{literal}"},
		{"plain text", "plain text"},
	}
	e := newEngine()
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			assert.Equal(t, tt.want, e.Render(tt.tmpl, book()))
		})
	}
}

func TestRender_ProgramMode(t *testing.T) {
	tests := []struct {
		prog string
		want string
	}{
		{"if $rating >=# 6 then 'good' else 'bad' fi", "good"},
		{"x = 3; y = x * 2 + 1; y", "7"},
		{"1 + 2 * 3", "7"},
		{"(1 + 2) * 3", "9"},
		{"-2 + 5", "3"},
		{"10 / 4", "2.5"},
		{"strcat($title, ' (', $series_index, ')')", "The Dispossessed (5)"},
		{"if 'anarch' in $tags then 'yes' fi", "yes"},
		{"if 'nope' in $tags then 'yes' fi", ""},
		{"if '^classic$' inlist $tags then 'yes' fi", "yes"},
		{"$$rating", "8"},
		{"sublist($tags, -1, 0, ',')", "classic"},
		{"list_union('a, b', 'B, c', ',')", "a, b, c"},
		{"list_join(' & ', 'a, b', ',', 'c', ',')", "a & b & c"},
		{"format_date($pubdate, 'yyyy-MM-dd')", "1974-01-03"},
		{"format_date('2020-03-04T05:06:07Z', 'h:mm ap')", "5:06 am"},
		{"format_date('not a date', 'yyyy')", ""},
		{"days_between('2020-01-11', '2020-01-01')", "10.0"},
		{"today()", "2024-05-06"},
		{"for t in $tags: n = add(n, 1) rof; n", "3"},
		{"for t in 'a|b' separator '|': s = strcat(s, t) rof; s", "ab"},
		{"cmp(2, 10, 'lt', 'eq', 'gt')", "lt"},
		{"strcmp('B', 'a', 'lt', 'eq', 'gt')", "gt"},
		{"switch($series, '^Hain', 'H', '^Earth', 'E', 'other')", "H"},
		{"switch('x', '^Hain', 'H', 'other')", "other"},
		{"lookup($series, 'Hain', 'title', 'authors')", "The Dispossessed"},
		{"in_list($tags, ',', '^sci', 'science', '^anar', 'politics', 'none')", "politics"},
		{"str_in_list($tags, ',', 'SF', 'yes', 'no')", "yes"},
		{"select('isbn:123, amazon:B0', 'amazon')", "B0"},
		{`re($title, '^The (.*)$', '\1, The')`, "Dispossessed, The"},
		{"format_number(1234.5, '{0:,.2f}')", "1,234.50"},
		{"format_number('', '{0:,.2f}')", ""},
		{"titlecase('hello world')", "Hello World"},
		{"capitalize('hELLO')", "Hello"},
		{"uppercase(lowercase('MiXeD'))", "MIXED"},
		{"substr('abcdef', 1, -1)", "bcde"},
		{"strlen('héllo')", "5"},
		{"!'' && 'x'", "1"},
		{"'' || ''", ""},
		{"if $empty then 'a' elif $title then 'b' else 'c' fi", "b"},
		{"'abc' == 'ABC'", "1"},
		{"2 <# 10", "1"},
		{"'2' < '10'", ""},
		{"first_non_empty($empty, '', 'x')", "x"},
		{"test($empty, 'yes', 'no')", "no"},
		{"ifempty($empty, 'dflt')", "dflt"},
		{"contains($title, 'dispo', 'y', 'n')", "y"},
		{"assign(z, 'q'); z", "q"},
		{"count($tags, ',')", "3"},
		{"list_item($tags, 1, ',')", "anarchism"},
		{"and('a', ''); or('', 'b')", "1"},
		{"not('')", "1"},
		{"multiply(2, 3, 4)", "24"},
		{"subtract(10, 2.5)", "7.5"},
		{"field('series')", "Hainish Cycle"},
		{"raw_field('empty', 'none')", ""},
		{"# a comment line\n'after'", "after"},
		{`'it\'s'`, "it's"},
		{"", ""},
	}
	e := newEngine()
	for _, tt := range tests {
		t.Run(tt.prog, func(t *testing.T) {
			got, err := e.Evaluate("program: "+tt.prog, book())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRender_Errors(t *testing.T) {
	tests := []struct {
		tmpl    string
		contain string
	}{
		{"{nosuch}", `no such field "nosuch"`},
		{"program: nofunc()", "unknown function nofunc"},
		{"program: if 1 then 'a'", `expected "fi"`},
		{"{title", "unmatched"},
		{"program: divide(1, 0)", "division by zero"},
		{"program: uppercase('a', 'b')", "incorrect number of arguments"},
		{"{title:|only-prefix}", "prefix and a suffix"},
		{"{title:q}", "unknown format code"},
		{"program: 'abc' + 1", "not a number"},
		{"program: 'unterminated", "unterminated string"},
		{"program: assign('x', 1)", "must be a variable"},
	}
	e := newEngine()
	for _, tt := range tests {
		t.Run(tt.tmpl, func(t *testing.T) {
			out := e.Render(tt.tmpl, book())
			assert.True(t, strings.HasPrefix(out, ErrorPrefix), out)
			assert.Contains(t, out, tt.contain)
		})
	}
}

func TestCheck(t *testing.T) {
	e := newEngine()
	require.NoError(t, e.Check("{title} - {authors}"))
	require.NoError(t, e.Check("program: if $x then 1 fi"))
	require.Error(t, e.Check("program: if"))
}

func TestCustomFuncs(t *testing.T) {
	fs := Builtins().Clone()
	fs["shout"] = Func{MinArgs: 1, MaxArgs: 1, Call: func(_ *Env, a []string) (string, error) {
		return strings.ToUpper(a[0]) + "!", nil
	}}
	e := New(Options{Funcs: fs})
	assert.Equal(t, "THE DISPOSSESSED!", e.Render("program: shout($title)", book()))
	assert.Equal(t, "THE DISPOSSESSED!", e.Render("{title:shout()}", book()))

	_, ok := Builtins()["shout"]
	assert.False(t, ok, "builtins must not be shared")
}

func TestEngine_Concurrent(t *testing.T) {
	e := newEngine()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := MapValues{"n": fmt.Sprint(i)}
			for range 50 {
				assert.Equal(t, fmt.Sprint(i*2), e.Render("program: $n * 2", v))
			}
		}()
	}
	wg.Wait()
}

func TestFormatSpec(t *testing.T) {
	tests := []struct {
		val, spec, want string
	}{
		{"3.14159", ".2f", "3.14"},
		{"42", "05d", "00042"},
		{"42", "+d", "+42"},
		{"-42", "6d", "   -42"},
		{"-42", "06d", "-00042"},
		{"1234567", ",d", "1,234,567"},
		{"0.25", ".1%", "25.0%"},
		{"255", "x", "ff"},
		{"abc", ">5", "  abc"},
		{"abc", "*^7", "**abc**"},
		{"abcdef", ".3", "abc"},
		{"abc", "5", "abc  "},
	}
	for _, tt := range tests {
		t.Run(tt.val+":"+tt.spec, func(t *testing.T) {
			got, err := FormatSpec(tt.val, tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := FormatSpec("abc", "d")
	require.Error(t, err)
	_, err = FormatSpec("12", "q")
	require.Error(t, err)
}

func TestFormatDate(t *testing.T) {
	ts := time.Date(2021, 7, 9, 14, 5, 3, 0, time.UTC)
	tests := []struct {
		format, want string
	}{
		{"dd MMM yyyy", "09 Jul 2021"},
		{"", "09 Jul 2021"},
		{"d/M/yy", "9/7/21"},
		{"dddd, MMMM d", "Friday, July 9"},
		{"hh:mm:ss AP", "02:05:03 PM"},
		{"h:m:s", "14:5:3"},
		{"iso", "2021-07-09T14:05:03Z"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDate(ts, tt.format))
		})
	}
	assert.Empty(t, FormatDate(time.Time{}, "yyyy"))
}

func TestParseDate(t *testing.T) {
	for _, s := range []string{"2021-07-09", "09 Jul 2021", "2021-07-09T14:05:03Z", "2021-07-09 14:05:03"} {
		d, ok := ParseDate(s)
		require.True(t, ok, s)
		assert.Equal(t, 2021, d.Year())
		assert.Equal(t, time.July, d.Month())
		assert.Equal(t, 9, d.Day())
	}
	_, ok := ParseDate("someday")
	assert.False(t, ok)
}

func TestFormatRaw(t *testing.T) {
	assert.Equal(t, "", FormatRaw(nil))
	assert.Equal(t, "a, b", FormatRaw([]string{"a", "b"}))
	assert.Equal(t, "amazon:B0,isbn:1", FormatRaw(map[string]string{"isbn": "1", "amazon": "B0"}))
	assert.Equal(t, "3.5", FormatRaw(3.5))
	assert.Equal(t, "4", FormatRaw(4.0))
	assert.Equal(t, "true", FormatRaw(true))
}
