package embedding

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Special tokens of BERT-style vocabularies.
const (
	TokenCLS = "[CLS]"
	TokenSEP = "[SEP]"
	TokenUNK = "[UNK]"
	TokenPAD = "[PAD]"

	maxWordChars = 100
)

// Tokenizer is a WordPiece tokenizer over a BERT vocabulary.
type Tokenizer struct {
	vocab     map[string]int
	size      int
	lowercase bool
	cls, sep  int
	unk       int
}

// LoadVocab reads a vocab.txt file with one token per line; the line
// number is the token ID.
func LoadVocab(path string, lowercase bool) (*Tokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()

	var tokens []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		tokens = append(tokens, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return NewTokenizer(tokens, lowercase)
}

// NewTokenizer builds a tokenizer from an ordered token list.
func NewTokenizer(tokens []string, lowercase bool) (*Tokenizer, error) {
	vocab := make(map[string]int, len(tokens))
	for i, tok := range tokens {
		if _, dup := vocab[tok]; !dup {
			vocab[tok] = i
		}
	}
	t := &Tokenizer{vocab: vocab, size: len(tokens), lowercase: lowercase}
	for _, special := range []struct {
		name string
		dst  *int
	}{{TokenCLS, &t.cls}, {TokenSEP, &t.sep}, {TokenUNK, &t.unk}} {
		id, ok := vocab[special.name]
		if !ok {
			return nil, fmt.Errorf("vocabulary is missing %s", special.name)
		}
		*special.dst = id
	}
	return t, nil
}

// VocabSize returns the number of vocabulary entries, which bounds every
// token ID.
func (t *Tokenizer) VocabSize() int { return t.size }

// Encode returns token IDs framed by [CLS] and [SEP], keeping at most
// maxLen IDs in total. The second result reports whether tokens were
// dropped.
func (t *Tokenizer) Encode(text string, maxLen int) ([]int, bool) {
	ids := []int{t.cls}
	truncated := false
	limit := maxLen - 1 // room for [SEP]

	for _, word := range t.basicTokenize(text) {
		for _, id := range t.wordPiece(word) {
			if len(ids) >= limit {
				truncated = true
				break
			}
			ids = append(ids, id)
		}
		if truncated {
			break
		}
	}
	return append(ids, t.sep), truncated
}

// Tokens returns the WordPiece strings for text, without special tokens.
func (t *Tokenizer) Tokens(text string) []string {
	inverse := make(map[int]string, len(t.vocab))
	for tok, id := range t.vocab {
		inverse[id] = tok
	}
	var out []string
	for _, word := range t.basicTokenize(text) {
		for _, id := range t.wordPiece(word) {
			out = append(out, inverse[id])
		}
	}
	return out
}

// basicTokenize cleans text and splits it on whitespace and punctuation.
// CJK ideographs become single-character words.
func (t *Tokenizer) basicTokenize(text string) []string {
	if t.lowercase {
		text = stripAccents(strings.ToLower(text))
	}

	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case r == 0 || r == unicode.ReplacementChar || isControl(r):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunctuation(r) || isCJK(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}

// wordPiece splits a word into the longest vocabulary prefixes, marking
// continuations with "##". Words that cannot be split map to [UNK].
func (t *Tokenizer) wordPiece(word string) []int {
	runes := []rune(word)
	if len(runes) > maxWordChars {
		return []int{t.unk}
	}

	var ids []int
	for start := 0; start < len(runes); {
		end := len(runes)
		found := -1
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int{t.unk}
		}
		ids = append(ids, found)
		start = end
	}
	return ids
}

func stripAccents(s string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(s) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isControl(r rune) bool {
	if r == '\t' || r == '\n' || r == '\r' {
		return false
	}
	return unicode.IsControl(r) || unicode.In(r, unicode.Cf)
}

func isPunctuation(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}

func isCJK(r rune) bool {
	return (r >= 0x4E00 && r <= 0x9FFF) ||
		(r >= 0x3400 && r <= 0x4DBF) ||
		(r >= 0x20000 && r <= 0x2A6DF) ||
		(r >= 0x2A700 && r <= 0x2B73F) ||
		(r >= 0x2B740 && r <= 0x2B81F) ||
		(r >= 0x2B820 && r <= 0x2CEAF) ||
		(r >= 0xF900 && r <= 0xFAFF) ||
		(r >= 0x2F800 && r <= 0x2FA1F)
}
