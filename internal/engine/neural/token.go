package neural

import (
	"strings"
	"unicode"
)

// Token is a word or a run of pause punctuation.
type Token struct {
	Text  string `json:"text"`
	Punct bool   `json:"punct"`
}

// Tokenizer splits utterance text into tokens for a voice language.
type Tokenizer interface {
	Tokenize(text, language string) []Token
}

// WordTokenizer splits on whitespace and on the punctuation marks that carry a
// pause. Other symbols stay attached to their word. Language is ignored.
type WordTokenizer struct{}

func isPausePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', '…':
		return true
	}
	return false
}

func (WordTokenizer) Tokenize(text, _ string) []Token {
	var (
		tokens []Token
		word   strings.Builder
		punct  strings.Builder
	)
	flushWord := func() {
		if word.Len() > 0 {
			tokens = append(tokens, Token{Text: word.String()})
			word.Reset()
		}
	}
	flushPunct := func() {
		if punct.Len() > 0 {
			tokens = append(tokens, Token{Text: punct.String(), Punct: true})
			punct.Reset()
		}
	}

	runes := []rune(text)
	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			flushWord()
			flushPunct()
		case isPausePunct(r) && !inNumber(runes, i):
			flushWord()
			punct.WriteRune(r)
		default:
			flushPunct()
			word.WriteRune(r)
		}
	}
	flushWord()
	flushPunct()
	return tokens
}

// inNumber keeps decimal and grouping separators such as "1,000.50" inside the word.
func inNumber(runes []rune, i int) bool {
	if runes[i] != '.' && runes[i] != ',' {
		return false
	}
	return i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1])
}

// pauseKey maps a punctuation token onto the pause table key.
func pauseKey(punct string) string {
	if strings.Contains(punct, "…") || strings.Contains(punct, "...") {
		return "…"
	}
	r := []rune(punct)
	if len(r) == 0 {
		return ""
	}
	return string(r[len(r)-1])
}
