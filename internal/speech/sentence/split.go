// Package sentence splits replies into sentences so speech engines can
// synthesize long text incrementally.
package sentence

import (
	"strings"
	"unicode"
)

// Words that end in a period without ending the sentence.
var abbreviations = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true, "sr": true, "jr": true,
	"st": true, "vs": true, "etc": true, "inc": true, "ltd": true, "co": true, "corp": true,
	"e.g": true, "i.e": true, "u.s": true, "u.k": true, "vol": true, "fig": true,
	"jan": true, "feb": true, "mar": true, "apr": true, "jun": true, "jul": true, "aug": true,
	"sep": true, "sept": true, "oct": true, "nov": true, "dec": true,
	"approx": true, "ft": true, "lb": true, "oz": true,
}

// Split breaks text into sentences at '.', '!' and '?' followed by
// whitespace or the end of the text, and at line breaks. A lone period
// after an abbreviation or an initial does not end a sentence. Segments are
// trimmed and blank ones dropped.
func Split(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = appendSentences(out, []rune(line))
	}
	return out
}

func appendSentences(out []string, rs []rune) []string {
	start := 0
	for i := 0; i < len(rs); i++ {
		if !isTerminal(rs[i]) {
			continue
		}

		j := i
		onlyDot := true
		for j < len(rs) && isTerminal(rs[j]) {
			if rs[j] != '.' {
				onlyDot = false
			}
			j++
		}
		run := j - i
		for j < len(rs) && isCloser(rs[j]) {
			j++
		}

		switch {
		case j < len(rs) && !unicode.IsSpace(rs[j]):
			// 3.14, e.g, example.com
		case onlyDot && run == 1 && isAbbreviation(lastWord(rs[start:i])):
		default:
			out = appendTrimmed(out, string(rs[start:j]))
			start = j
		}
		i = j - 1
	}
	return appendTrimmed(out, string(rs[start:]))
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

func lastWord(rs []rune) string {
	i := len(rs)
	for i > 0 && !unicode.IsSpace(rs[i-1]) {
		i--
	}
	return strings.ToLower(strings.TrimLeft(string(rs[i:]), `"'([“‘`))
}

func isAbbreviation(word string) bool {
	rs := []rune(word)
	if len(rs) == 1 && unicode.IsLetter(rs[0]) {
		return true
	}
	return abbreviations[word]
}

func appendTrimmed(out []string, s string) []string {
	if s = strings.TrimSpace(s); s != "" {
		out = append(out, s)
	}
	return out
}
