package summarizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize_ShortTextReturnedWhole(t *testing.T) {
	s := NewFrequencySummarizer()
	out, err := s.Summarize("One sentence. Two sentences!", 3)
	require.NoError(t, err)
	assert.Equal(t, "One sentence. Two sentences!", out)

	out, err = s.Summarize("   ", 3)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSummarize_KeepsOriginalOrder(t *testing.T) {
	text := "Vectors power retrieval. The weather was mild. Retrieval ranks vectors by cosine. " +
		"Lunch was late. Cosine retrieval of vectors is fast"
	out, err := NewFrequencySummarizer().Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Vectors power retrieval. Retrieval ranks vectors by cosine.", out)
}

func TestSummarize_TrailingSentenceWithoutPunctuation(t *testing.T) {
	sentences := splitSentences("First. Second? third without stop")
	assert.Equal(t, []string{"First.", "Second?", "third without stop"}, sentences)
}

func TestBestSentence(t *testing.T) {
	s := NewFrequencySummarizer()
	text := "Go has goroutines. Channels connect goroutines safely. The end."
	assert.Equal(t, "Channels connect goroutines safely.", s.BestSentence(text, "how do channels and goroutines work"))
	assert.Equal(t, "", s.BestSentence(text, "the"))
}
