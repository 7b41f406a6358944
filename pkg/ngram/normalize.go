package ngram

import (
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Class is the character classification used only to choose ngram width
// (spec §3 "Character class").
type Class int

const (
	ClassOther Class = iota
	ClassLatin
	ClassKana
	ClassCJK
)

// NormalizeConfig controls optional folding beyond mandatory NFKC.
type NormalizeConfig struct {
	CaseFold  bool // ASCII case fold, off by default
	WidthFold bool // full/half-width fold, off by default
}

// Normalize applies NFKC unconditionally, plus optional width/case folding,
// and replaces invalid UTF-8 with U+FFFD code point by code point (spec
// §4.1 Failure modes). The result is deterministic across platforms.
func Normalize(s string, cfg NormalizeConfig) string {
	s = sanitizeUTF8(s)
	s = norm.NFKC.String(s)
	if cfg.WidthFold {
		s = width.Fold.String(s)
	}
	if cfg.CaseFold {
		s = foldASCIICase(s)
	}
	return s
}

func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	out := make([]rune, 0, len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, '�')
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return string(out)
}

func foldASCIICase(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

// ClassOf classifies a single code point for run-boundary purposes.
func ClassOf(r rune) Class {
	switch {
	case isKana(r):
		return ClassKana
	case isCJK(r):
		return ClassCJK
	case r < 0x80 && (unicode.IsLetter(r) || unicode.IsDigit(r)):
		return ClassLatin
	case unicode.Is(unicode.Latin, r):
		return ClassLatin
	default:
		return ClassOther
	}
}

func isKana(r rune) bool {
	return unicode.In(r, unicode.Hiragana, unicode.Katakana) ||
		(r >= 0x31F0 && r <= 0x31FF) // Katakana phonetic extensions
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han) ||
		(r >= 0xAC00 && r <= 0xD7A3) // Hangul syllables, grouped with CJK width handling
}
