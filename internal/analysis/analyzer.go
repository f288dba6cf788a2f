package analysis

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Standard prefixes produced by the Annotating analyzer.
const (
	PrefixText     = "t"
	PrefixWord     = "w"
	PrefixSentence = "s"
)

// Token is one annotation anchored to an inclusive position interval.
// Parent is the index of the parent token in the same slice, or -1.
type Token struct {
	Prefix string
	Value  string
	Start  uint64
	End    uint64
	Parent int
}

// Term returns the dictionary key "prefix:value".
func (t Token) Term() string {
	return t.Prefix + ":" + t.Value
}

// SplitTerm splits a "prefix:value" key. Prefixes never contain ':'.
func SplitTerm(term string) (prefix, value string, ok bool) {
	i := strings.IndexByte(term, ':')
	if i <= 0 {
		return "", "", false
	}
	return term[:i], term[i+1:], true
}

// ValidPrefix reports whether p can be used as a token prefix.
func ValidPrefix(p string) error {
	if p == "" {
		return fmt.Errorf("empty prefix")
	}
	if strings.ContainsRune(p, ':') {
		return fmt.Errorf("prefix %q contains ':'", p)
	}
	return nil
}

// Analyzer defines the interface for text analysis.
type Analyzer interface {
	Analyze(text string) []Token
}

// Annotating splits on non-alphanumeric characters and emits, per word
// position, a surface token (t) and a lowercased token (w). Every sentence
// becomes one multi-position s token that parents its words.
type Annotating struct{}

func NewAnnotating() *Annotating {
	return &Annotating{}
}

// Analyze tokenizes text into annotated tokens.
func (a *Annotating) Analyze(text string) []Token {
	var tokens []Token
	var current strings.Builder
	var position uint64
	sentence := -1
	sentenceNum := 0

	openSentence := func() {
		if sentence >= 0 {
			return
		}
		tokens = append(tokens, Token{
			Prefix: PrefixSentence,
			Value:  strconv.Itoa(sentenceNum),
			Start:  position,
			End:    position,
			Parent: -1,
		})
		sentence = len(tokens) - 1
		sentenceNum++
	}
	closeSentence := func() {
		sentence = -1
	}
	flush := func() {
		if current.Len() == 0 {
			return
		}
		openSentence()
		word := current.String()
		tokens = append(tokens,
			Token{Prefix: PrefixText, Value: word, Start: position, End: position, Parent: sentence},
			Token{Prefix: PrefixWord, Value: strings.ToLower(word), Start: position, End: position, Parent: sentence},
		)
		tokens[sentence].End = position
		position++
		current.Reset()
	}

	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			current.WriteRune(r)
		case r == '.' || r == '!' || r == '?':
			flush()
			closeSentence()
		default:
			flush()
		}
	}
	flush()

	return tokens
}

// Positions returns the number of distinct positions covered by tokens.
func Positions(tokens []Token) uint64 {
	if len(tokens) == 0 {
		return 0
	}
	lo, hi := tokens[0].Start, tokens[0].End
	for _, t := range tokens[1:] {
		lo = min(lo, t.Start)
		hi = max(hi, t.End)
	}
	return hi - lo + 1
}
