// Package summarizer picks representative sentences out of document text.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

const DefaultSentences = 3

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// FrequencySummarizer ranks sentences by the normalized frequency of their
// non-stopword terms.
type FrequencySummarizer struct {
	stopwords map[string]struct{}
}

func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{stopwords: defaultStopwords()}
}

// Summarize returns up to maxSentences of the highest scoring sentences in
// their original order.
func (s *FrequencySummarizer) Summarize(text string, maxSentences int) (string, error) {
	if maxSentences <= 0 {
		maxSentences = DefaultSentences
	}
	sentences := splitSentences(text)
	if len(sentences) <= maxSentences {
		return strings.Join(sentences, " "), nil
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.terms(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type ranked struct {
		idx   int
		score float64
	}
	scores := make([]ranked, len(sentences))
	for i, sent := range sentences {
		terms := s.terms(sent)
		score := 0.0
		for _, tok := range terms {
			score += freq[tok] / maxF
		}
		if n := len(tokens(sent)); n > 0 {
			score /= math.Sqrt(float64(n))
		}
		scores[i] = ranked{i, score}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, len(selected))
	for i, idx := range selected {
		out[i] = sentences[idx]
	}
	return strings.Join(out, " "), nil
}

// BestSentence returns the sentence of text sharing the most terms with
// query, or "" when none share any.
func (s *FrequencySummarizer) BestSentence(text, query string) string {
	want := make(map[string]struct{})
	for _, tok := range s.terms(query) {
		want[tok] = struct{}{}
	}
	best, bestHits := "", 0
	for _, sent := range splitSentences(text) {
		hits := 0
		seen := make(map[string]struct{})
		for _, tok := range s.terms(sent) {
			if _, ok := want[tok]; !ok {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			hits++
		}
		if hits > bestHits {
			best, bestHits = sent, hits
		}
	}
	return best
}

func splitSentences(text string) []string {
	var out []string
	for _, m := range sentencePattern.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// terms are tokens minus stopwords.
func (s *FrequencySummarizer) terms(text string) []string {
	all := tokens(text)
	out := all[:0]
	for _, t := range all {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "should", "now", "what", "which", "who", "how", "do", "does", "i", "you", "we", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
