package faq

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"
)

const DefaultCutoff = 0.6

type Entry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Load reads a JSON array of entries. A missing or unreadable file yields an
// empty set so the bot keeps answering through the model.
func Load(path string) []Entry {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("path", path).Msg("faq file not found, continuing without faq")
		} else {
			log.Warn().Err(err).Str("path", path).Msg("failed to read faq file")
		}
		return nil
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("faq file is not a json array of entries")
		return nil
	}

	out := entries[:0]
	for _, e := range entries {
		if strings.TrimSpace(e.Question) == "" || strings.TrimSpace(e.Answer) == "" {
			continue
		}
		out = append(out, e)
	}
	log.Info().Int("entries", len(out)).Str("path", path).Msg("faq loaded")
	return out
}

// Matcher finds the entry whose question is closest to the caller's text.
type Matcher struct {
	entries   []Entry
	questions [][]string
	cutoff    float64
}

type Option func(*Matcher)

func WithCutoff(cutoff float64) Option {
	return func(m *Matcher) {
		if cutoff > 0 && cutoff <= 1 {
			m.cutoff = cutoff
		}
	}
}

func NewMatcher(entries []Entry, opts ...Option) *Matcher {
	m := &Matcher{
		entries:   append([]Entry(nil), entries...),
		questions: make([][]string, len(entries)),
		cutoff:    DefaultCutoff,
	}
	for i, e := range m.entries {
		m.questions[i] = splitRunes(normalize(e.Question))
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Match returns the answer of the best-scoring entry when its similarity
// ratio reaches the cutoff. Equal scores keep the earlier entry.
func (m *Matcher) Match(text string) (string, bool) {
	if m == nil || len(m.entries) == 0 {
		return "", false
	}
	query := normalize(text)
	if query == "" {
		return "", false
	}
	queryRunes := splitRunes(query)

	best, bestScore := -1, 0.0
	for i, question := range m.questions {
		score := Similarity(question, queryRunes)
		if score < m.cutoff {
			continue
		}
		if best < 0 || score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return "", false
	}
	return m.entries[best].Answer, true
}

// Similarity is the sequence-matcher ratio 2*M/T over two rune sequences.
func Similarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	return difflib.NewMatcher(a, b).Ratio()
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
