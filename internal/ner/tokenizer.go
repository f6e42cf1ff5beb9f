package ner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Tokenizer turns text into fixed-length model inputs with byte offsets.
type Tokenizer interface {
	EncodeWithOffsets(text string, seqLen int) ([]int64, []int64, []tokenOffset)
	// PieceCount reports how many sub-word tokens word expands to.
	PieceCount(word string) int
}

// WordPieceTokenizer implements a minimal BERT-compatible tokenizer.
type WordPieceTokenizer struct {
	vocab        map[string]int64
	lowerCase    bool
	clsID        int64
	sepID        int64
	padID        int64
	unkID        int64
	continuation string
}

// LoadWordPieceTokenizer builds the tokenizer from vocab.txt.
func LoadWordPieceTokenizer(path string, lowerCase bool) (*WordPieceTokenizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var idx int64
	for sc.Scan() {
		token := strings.TrimSpace(sc.Text())
		if token == "" {
			continue
		}
		vocab[token] = idx
		idx++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan vocab: %w", err)
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("vocab %s is empty", path)
	}
	return newTokenizerFromVocab(vocab, lowerCase), nil
}

// LoadTokenizerFromDir loads a tokenizer from vocab.txt or tokenizer.json.
func LoadTokenizerFromDir(dir string, lowerCase bool) (Tokenizer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("tokenizer dir is empty")
	}
	candidates := []string{
		filepath.Join(dir, "vocab.txt"),
		filepath.Join(dir, "tokenizer", "vocab.txt"),
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return LoadWordPieceTokenizer(path, lowerCase)
		}
	}

	jsonCandidates := []string{
		filepath.Join(dir, "tokenizer.json"),
		filepath.Join(dir, "tokenizer", "tokenizer.json"),
	}
	for _, path := range jsonCandidates {
		if _, err := os.Stat(path); err == nil {
			return loadTokenizerFromJSON(path, lowerCase)
		}
	}
	return nil, fmt.Errorf("tokenizer assets not found in %s (vocab.txt or tokenizer.json)", dir)
}

func loadTokenizerFromJSON(path string, lowerCase bool) (Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer.json: %w", err)
	}
	var raw struct {
		Model struct {
			Type                    string `json:"type"`
			Vocab                   any    `json:"vocab"`
			ContinuingSubwordPrefix string `json:"continuing_subword_prefix"`
		} `json:"model"`
		Normalizer *struct {
			Lowercase *bool `json:"lowercase"`
		} `json:"normalizer"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode tokenizer.json: %w", err)
	}
	if t := strings.ToLower(strings.TrimSpace(raw.Model.Type)); t != "" && t != "wordpiece" {
		return nil, fmt.Errorf("unsupported tokenizer model type %q", raw.Model.Type)
	}
	vocab := vocabFromAny(raw.Model.Vocab)
	if len(vocab) == 0 {
		return nil, fmt.Errorf("tokenizer.json missing vocab")
	}
	if raw.Normalizer != nil && raw.Normalizer.Lowercase != nil {
		lowerCase = *raw.Normalizer.Lowercase
	}
	tok := newTokenizerFromVocab(vocab, lowerCase)
	if p := raw.Model.ContinuingSubwordPrefix; p != "" {
		tok.continuation = p
	}
	return tok, nil
}

func newTokenizerFromVocab(vocab map[string]int64, lowerCase bool) *WordPieceTokenizer {
	return &WordPieceTokenizer{
		vocab:        vocab,
		lowerCase:    lowerCase,
		continuation: "##",
		clsID:        vocab["[CLS]"],
		sepID:        vocab["[SEP]"],
		padID:        vocab["[PAD]"],
		unkID:        vocab["[UNK]"],
	}
}

func vocabFromAny(raw any) map[string]int64 {
	switch v := raw.(type) {
	case map[string]any:
		out := make(map[string]int64, len(v))
		for k, val := range v {
			if num, ok := asInt64(val); ok {
				out[k] = num
			}
		}
		return out
	case []any:
		out := make(map[string]int64, len(v))
		for i, item := range v {
			switch pair := item.(type) {
			case []any:
				if len(pair) == 0 {
					continue
				}
				token, ok := pair[0].(string)
				if !ok || token == "" {
					continue
				}
				out[token] = int64(i)
			case string:
				if pair != "" {
					out[pair] = int64(i)
				}
			}
		}
		return out
	default:
		return nil
	}
}

func asInt64(v any) (int64, bool) {
	switch num := v.(type) {
	case float64:
		return int64(num), true
	case int64:
		return num, true
	case int:
		return int64(num), true
	default:
		return 0, false
	}
}

type tokenOffset struct {
	Start int
	End   int
}

type wordSpan struct {
	Text  string
	Start int
	End   int
}

// EncodeWithOffsets converts text into token IDs, attention mask and the byte
// offsets of each token in text. Special and padding tokens get offset -1.
func (t *WordPieceTokenizer) EncodeWithOffsets(text string, seqLen int) ([]int64, []int64, []tokenOffset) {
	if seqLen <= 0 {
		return nil, nil, nil
	}

	words := splitWordsWithOffsets(text)
	tokens := []int64{t.clsID}
	offsets := []tokenOffset{{Start: -1, End: -1}}

	for _, w := range words {
		if len(tokens) >= seqLen-1 {
			break
		}
		for _, p := range t.wordPieceOffsets(t.normalize(w.Text)) {
			tokens = append(tokens, p.id)
			offsets = append(offsets, tokenOffset{
				Start: w.Start + p.start,
				End:   w.Start + p.end,
			})
			if len(tokens) >= seqLen-1 {
				break
			}
		}
	}

	tokens = append(tokens, t.sepID)
	offsets = append(offsets, tokenOffset{Start: -1, End: -1})

	attn := make([]int64, seqLen)
	for i := 0; i < len(tokens) && i < seqLen; i++ {
		attn[i] = 1
	}

	for len(tokens) < seqLen {
		tokens = append(tokens, t.padID)
		offsets = append(offsets, tokenOffset{Start: -1, End: -1})
	}

	return tokens, attn, offsets
}

// PieceCount reports how many sub-word tokens word expands to.
func (t *WordPieceTokenizer) PieceCount(word string) int {
	return len(t.wordPieceOffsets(t.normalize(word)))
}

// normalize lowercases ASCII-only so byte offsets stay aligned with the input.
func (t *WordPieceTokenizer) normalize(word string) string {
	if !t.lowerCase {
		return word
	}
	b := []byte(word)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

type wordPieceOffset struct {
	id    int64
	start int
	end   int
}

func (t *WordPieceTokenizer) wordPieceOffsets(token string) []wordPieceOffset {
	if id, ok := t.vocab[token]; ok {
		return []wordPieceOffset{{id: id, start: 0, end: len(token)}}
	}

	var pieces []wordPieceOffset
	start := 0
	for start < len(token) {
		end := len(token)
		matched := false
		for end > start {
			sub := token[start:end]
			if start > 0 {
				sub = t.continuation + sub
			}
			if id, ok := t.vocab[sub]; ok {
				pieces = append(pieces, wordPieceOffset{id: id, start: start, end: end})
				start = end
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []wordPieceOffset{{id: t.unkID, start: 0, end: len(token)}}
		}
	}
	if len(pieces) == 0 {
		return []wordPieceOffset{{id: t.unkID, start: 0, end: len(token)}}
	}
	return pieces
}

func splitWordsWithOffsets(text string) []wordSpan {
	if text == "" {
		return nil
	}
	var spans []wordSpan
	start := -1
	for idx, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				spans = append(spans, wordSpan{
					Text:  text[start:idx],
					Start: start,
					End:   idx,
				})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		spans = append(spans, wordSpan{
			Text:  text[start:],
			Start: start,
			End:   len(text),
		})
	}
	return spans
}

type window struct {
	Start int
	End   int
}

// splitWindows cuts text at word boundaries into byte ranges whose sub-word
// count fits into seqLen together with [CLS] and [SEP].
func splitWindows(tok Tokenizer, text string, seqLen int) []window {
	budget := seqLen - 2
	if budget <= 0 {
		budget = 1
	}
	words := splitWordsWithOffsets(text)
	if len(words) == 0 {
		return nil
	}

	var out []window
	cur := window{Start: -1}
	used := 0
	for _, w := range words {
		n := tok.PieceCount(w.Text)
		if cur.Start >= 0 && used+n > budget {
			out = append(out, cur)
			cur = window{Start: -1}
			used = 0
		}
		if cur.Start < 0 {
			cur.Start = w.Start
		}
		cur.End = w.End
		used += n
	}
	if cur.Start >= 0 {
		out = append(out, cur)
	}
	return out
}
