package scoring

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDFMonotonicInDocFreq(t *testing.T) {
	s := New(1000, 50)
	rare := s.IDF(1)
	common := s.IDF(900)
	assert.Greater(t, rare, common, "rarer terms must score a higher IDF")
	assert.Greater(t, common, 0.0)
}

func TestIDFClampsDocFreq(t *testing.T) {
	s := New(10, 50)
	// df above N must behave as df == N, never produce NaN or negative IDF.
	assert.Equal(t, s.IDF(10), s.IDF(500))
	assert.False(t, math.IsNaN(s.IDF(500)))
	assert.GreaterOrEqual(t, s.IDF(500), 0.0)
}

func TestScoreMatchesFormula(t *testing.T) {
	s := New(100, 20)
	tf, df, docLen := 3, 10, 40

	idf := math.Log((100.0-10.0+0.5)/(10.0+0.5) + 1)
	norm := 1 - B + B*(40.0/20.0)
	want := idf * (3.0 * (K1 + 1)) / (3.0 + K1*norm)

	assert.InDelta(t, want, s.Score(tf, df, docLen), 1e-12)
}

func TestScoreZeroTermFreq(t *testing.T) {
	s := New(100, 20)
	assert.Zero(t, s.Score(0, 10, 40))
	assert.Zero(t, s.Score(-1, 10, 40))
}

func TestDegenerateStatsClamped(t *testing.T) {
	s := New(0, 0)
	got := s.Score(2, 1, 5)
	assert.False(t, math.IsNaN(got))
	assert.False(t, math.IsInf(got, 0))
}

func TestLongerDocScoresLower(t *testing.T) {
	s := New(1000, 100)
	short := s.Score(2, 10, 50)
	long := s.Score(2, 10, 500)
	assert.Greater(t, short, long, "length normalization must penalize long documents")
}

func TestScoreTerms(t *testing.T) {
	s := New(100, 20)
	sum := s.ScoreTerms([]int{2, 3}, []int{5, 8}, 30)
	assert.InDelta(t, s.Score(2, 5, 30)+s.Score(3, 8, 30), sum, 1e-12)
}
