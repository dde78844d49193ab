package fetchz

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// DefaultSeparator is the pattern used by Split and Strip when none is given:
// any run of characters that are not letters, digits or underscores, in any
// script.
const DefaultSeparator = `[^\p{L}\p{N}_]+`

// Split returns a stage that splits a string around every match of pattern.
// An empty pattern means DefaultSeparator.
//
//	fetchz.Run(ctx, "nov-dec-jan", fetchz.Split("")) // [nov dec jan]
//
// Split panics if pattern is not a valid regular expression.
func Split(pattern string) Processor[string, []string] {
	if pattern == "" {
		pattern = DefaultSeparator
	}
	re := regexp.MustCompile(pattern)
	return Transform("split("+pattern+")", func(_ context.Context, s string) []string {
		return re.Split(s, -1)
	})
}

// Strip returns a stage that removes leading and trailing matches of pattern.
// An empty pattern means DefaultSeparator.
//
//	fetchz.Run(ctx, ">>> Hello, World! <<<", fetchz.Strip(`[^\w!]`)) // "Hello, World!"
//
// Strip panics if pattern is not a valid regular expression.
func Strip(pattern string) Processor[string, string] {
	if pattern == "" {
		pattern = DefaultSeparator
	}
	re := regexp.MustCompile(pattern)
	return Transform("strip("+pattern+")", func(_ context.Context, s string) string {
		return strip(re, s)
	})
}

func strip(re *regexp.Regexp, s string) string {
	for {
		loc := re.FindStringIndex(s)
		if loc == nil || loc[0] != 0 || loc[1] == 0 {
			break
		}
		s = s[loc[1]:]
	}
	for s != "" {
		matches := re.FindAllStringIndex(s, -1)
		if len(matches) == 0 {
			break
		}
		last := matches[len(matches)-1]
		if last[1] != len(s) || last[0] == last[1] {
			break
		}
		s = s[:last[0]]
	}
	return s
}

var nonWord = regexp.MustCompile(DefaultSeparator)

// Capitalize returns a stage that upper-cases the first character of every
// word and lower-cases the rest, keeping the separators in place. A word that
// starts with a digit keeps its letters in lower case.
//
//	fetchz.Run(ctx, "nov-dec-feb", fetchz.Capitalize()) // "Nov-Dec-Feb"
//	fetchz.Run(ctx, "2nd-feb", fetchz.Capitalize())     // "2nd-Feb"
func Capitalize() Processor[string, string] {
	return Transform("capitalize", func(_ context.Context, s string) string {
		var b strings.Builder
		last := 0
		for _, loc := range nonWord.FindAllStringIndex(s, -1) {
			b.WriteString(capitalize(s[last:loc[0]]))
			b.WriteString(s[loc[0]:loc[1]])
			last = loc[1]
		}
		b.WriteString(capitalize(s[last:]))
		return b.String()
	})
}

func capitalize(word string) string {
	if word == "" {
		return ""
	}
	_, size := utf8.DecodeRuneInString(word)
	return cases.Upper(language.Und).String(word[:size]) + cases.Lower(language.Und).String(word[size:])
}
