// Package textnorm normalizes paper titles and abstracts for fingerprinting,
// embedding and term extraction.
package textnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// Normalize strips markup, case-folds and collapses whitespace.
func Normalize(s string) string {
	s = StripMarkup(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup removes HTML and JATS tags from abstracts that carry them.
// Plain text is returned unchanged.
func StripMarkup(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	// Block-level tags would otherwise glue adjacent words together.
	doc.Find("p, div, br, li, jats\\:p, jats\\:title, jats\\:sec").Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml(" ")
	})
	return doc.Text()
}

// Fingerprint returns the content hash of a document.
func Fingerprint(title, abstract string) string {
	sum := sha256.Sum256([]byte(Normalize(title) + "\n" + Normalize(abstract)))
	return hex.EncodeToString(sum[:])
}

// Text returns the normalized text that is embedded and tokenized.
// Empty when both title and abstract are blank.
func Text(title, abstract string) string {
	t, a := Normalize(title), Normalize(abstract)
	switch {
	case t == "":
		return a
	case a == "":
		return t
	default:
		return t + ". " + a
	}
}

// Tokenize splits s into lower-case alphanumeric tokens of at least two
// characters, dropping stop words and purely numeric tokens.
func Tokenize(s string) []string {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || IsStopWord(w) || isNumeric(w) {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

func isNumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
