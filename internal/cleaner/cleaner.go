// Package cleaner normalises extracted document text and strips ordinary
// named entities (people, nationalities, places, numbers) before clinical NER.
package cleaner

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/straja-ai/medner/internal/entities"
)

// Recognizer finds ordinary named entities in text.
type Recognizer interface {
	Recognize(text string) (*entities.Map, error)
}

// RecognizerFunc adapts a function to Recognizer.
type RecognizerFunc func(text string) (*entities.Map, error)

func (f RecognizerFunc) Recognize(text string) (*entities.Map, error) { return f(text) }

// Mode selects how recognized surfaces are removed from the text.
type Mode string

const (
	// ModeSubstring removes every literal, case-sensitive occurrence, including
	// occurrences inside longer words ("Max" is also cut out of "Maximum").
	ModeSubstring Mode = "substring"
	// ModeWord removes only whole-word occurrences.
	ModeWord Mode = "word"
)

// ParseMode maps a config value to a Mode; empty means ModeSubstring.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeSubstring:
		return ModeSubstring, nil
	case ModeWord:
		return ModeWord, nil
	default:
		return "", fmt.Errorf("unknown redaction mode %q", s)
	}
}

var (
	urlRe     = regexp.MustCompile(`http\S+|www\S+|https\S+`)
	emailRe   = regexp.MustCompile(`\S+@\S+`)
	specialRe = regexp.MustCompile(`[^A-Za-z0-9\s]+`)
)

// Cleaner runs the cleaning pipeline with one Recognizer.
type Cleaner struct {
	recognizer Recognizer
	mode       Mode
}

// Stats describes what one Clean call removed.
type Stats struct {
	Recognized int
	Redacted   map[entities.Category]int
}

// New returns a Cleaner using r for entity recognition.
func New(r Recognizer, mode Mode) *Cleaner {
	if mode == "" {
		mode = ModeSubstring
	}
	return &Cleaner{recognizer: r, mode: mode}
}

// Clean returns the lowercase, redacted form of text.
func (c *Cleaner) Clean(text string) (string, error) {
	out, _, err := c.CleanWithStats(text)
	return out, err
}

// CleanWithStats is Clean plus per-category redaction counts.
func (c *Cleaner) CleanWithStats(text string) (string, Stats, error) {
	if c == nil || c.recognizer == nil {
		return "", Stats{}, errors.New("cleaner not initialized")
	}

	text = Normalize(text)

	found, err := c.recognizer.Recognize(text)
	if err != nil {
		return "", Stats{}, fmt.Errorf("recognize entities: %w", err)
	}

	buckets := entities.Filter(found)
	stats := Stats{
		Recognized: found.Len(),
		Redacted:   make(map[entities.Category]int, len(entities.Categories)),
	}
	for _, cat := range entities.Categories {
		for _, surface := range buckets[cat] {
			if surface == "" {
				continue
			}
			var n int
			text, n = c.remove(text, surface)
			stats.Redacted[cat] += n
		}
	}

	return strings.ToLower(collapse(text)), stats, nil
}

func (c *Cleaner) remove(text, surface string) (string, int) {
	if c.mode == ModeWord {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(surface) + `\b`)
		n := len(re.FindAllStringIndex(text, -1))
		if n == 0 {
			return text, 0
		}
		return re.ReplaceAllLiteralString(text, ""), n
	}
	n := strings.Count(text, surface)
	if n == 0 {
		return text, 0
	}
	return strings.ReplaceAll(text, surface, ""), n
}

// Normalize collapses whitespace and strips URLs, e-mail addresses and every
// character other than ASCII letters, digits and spaces. Casing is preserved.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(text string) string {
	text = collapse(text)
	for {
		// Stripping punctuation can glue a new "http"/"www" token together,
		// so repeat until nothing changes.
		next := strip(text)
		if next == text {
			return text
		}
		text = next
	}
}

func strip(text string) string {
	text = urlRe.ReplaceAllString(text, "")
	text = emailRe.ReplaceAllString(text, "")
	text = specialRe.ReplaceAllString(text, "")
	return collapse(text)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
