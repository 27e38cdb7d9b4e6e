package embedding

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// CLIP special tokens and vocabulary size.
const (
	clipStartToken = 49406
	clipEndToken   = 49407
	clipVocabSize  = 49408
)

// Tokenizer produces token IDs for a CLIP text encoder.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64)
}

// CLIPTokenizer maps lowercased words to CLIP token IDs. Words found in the vocabulary
// (as "word</w>") use their ID; the rest hash into the vocabulary range.
type CLIPTokenizer struct {
	vocab map[string]int64
}

// NewCLIPTokenizer returns a tokenizer using vocab, which may be nil.
func NewCLIPTokenizer(vocab map[string]int64) *CLIPTokenizer {
	return &CLIPTokenizer{vocab: vocab}
}

// LoadVocab reads a vocab.json (token → id) file.
func LoadVocab(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read vocab: %w", err)
	}
	var vocab map[string]int64
	if err := json.Unmarshal(data, &vocab); err != nil {
		return nil, fmt.Errorf("failed to parse vocab %s: %w", path, err)
	}
	return vocab, nil
}

// Tokenize wraps the word IDs of text in start/end tokens and zero-pads to maxTokens.
func (t *CLIPTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask []int64) {
	if maxTokens < 2 {
		maxTokens = 77
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)

	inputIDs[0] = clipStartToken
	attentionMask[0] = 1
	pos := 1
	for _, word := range SplitWords(strings.ToLower(text)) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = t.tokenID(word)
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = clipEndToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask
}

func (t *CLIPTokenizer) tokenID(word string) int64 {
	if id, ok := t.vocab[word+"</w>"]; ok {
		return id
	}
	if id, ok := t.vocab[word]; ok {
		return id
	}
	return int64(HashString(word)%(clipStartToken-1)) + 1
}

// SplitWords splits text into words and single punctuation marks.
func SplitWords(text string) []string {
	var words []string
	var word strings.Builder
	flush := func() {
		if word.Len() > 0 {
			words = append(words, word.String())
			word.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			word.WriteRune(r)
		}
	}
	flush()
	return words
}

// HashString returns a deterministic non-negative hash of s.
func HashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	if h < 0 {
		return 0
	}
	return h
}
