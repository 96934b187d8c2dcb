// File: internal/matching/matching_test.go
package matching

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   \t ", ""},
		{"casefold", "Toko MAJU", "toko maju"},
		{"punctuation stripped", "Jl. Sudirman No.12, Blok-A", "jl sudirman no 12 blok a"},
		{"collapse whitespace", "toko   maju \n jaya", "toko maju jaya"},
		{"digits kept", "ID: 1234567", "id 1234567"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"short words dropped", "cv ab toko", []string{"toko"}},
		{"digits kept regardless of length", "rt 05 no 7", []string{"05", "7"}},
		{"mixed", "Toko Maju 12", []string{"toko", "maju", "12"}},
		{"nothing qualifies falls back to whole string", "ab cd", []string{"ab cd"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokens(tc.in))
		})
	}
}

func TestEvaluateScoring(t *testing.T) {
	q := NewQuery("1234567", "Toko Maju", "Jl. Sudirman 12")

	c := q.Evaluate(0, "TOKO MAJU - 1234567 - Jl. Sudirman No. 12, Jakarta")
	assert.True(t, c.Flags.ID)
	assert.True(t, c.Flags.Name)
	assert.True(t, c.Flags.Address)
	assert.Equal(t, 6, c.Score)

	c = q.Evaluate(1, "Toko Maju, somewhere else entirely 99")
	assert.False(t, c.Flags.ID)
	assert.True(t, c.Flags.Name)
	assert.False(t, c.Flags.Address)
	assert.Equal(t, 2, c.Score)
}

func TestSelectNoCandidates(t *testing.T) {
	q := NewQuery("1234567", "Toko Maju", "")
	res := q.Select(nil)
	assert.False(t, res.OK)
	assert.Equal(t, "no results", res.Reason)
}

func TestSelectSingleCandidateRejectedWhenNothingMatches(t *testing.T) {
	// The sole candidate contains neither the id, any name token, nor any
	// address token, so it must be rejected even though it is the only one.
	q := NewQuery("1234567", "Toko Maju", "Jl. Sudirman")
	c := q.Evaluate(0, "Warung Lain di Jalan Berbeda")
	require.Equal(t, 0, c.Score)

	res := q.Select([]Candidate{c})
	assert.False(t, res.OK)
	assert.Equal(t, "single result mismatch", res.Reason)
}

func TestSelectSingleCandidateAcceptability(t *testing.T) {
	tests := []struct {
		name     string
		id       string
		business string
		address  string
		card     string
		wantOK   bool
	}{
		{"id given and matched", "1234567", "", "", "usaha 1234567", true},
		{"id given but unmatched name matched", "1234567", "Toko Maju", "", "toko maju jaya", true},
		{"name matched address given but unmatched", "", "Toko Maju", "Jl. Anggrek", "toko maju di jalan lain", false},
		{"name and address matched", "", "Toko Maju", "Jl. Anggrek", "toko maju jl anggrek 5", true},
		{"only address given and matched", "", "", "Jl. Anggrek 5", "kios kecil jl anggrek 5", true},
		{"only address given unmatched", "", "", "Jl. Anggrek 5", "kios kecil jalan lain", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := NewQuery(tc.id, tc.business, tc.address)
			res := q.Select([]Candidate{q.Evaluate(0, tc.card)})
			assert.Equal(t, tc.wantOK, res.OK)
		})
	}
}

func TestSelectAmbiguousTie(t *testing.T) {
	// Two candidates with identical top score > 0 is a tie: no match.
	q := NewQuery("", "Toko Maju", "")
	cands := []Candidate{
		q.Evaluate(0, "Toko Maju cabang satu"),
		q.Evaluate(1, "Toko Maju cabang dua"),
	}
	require.Equal(t, cands[0].Score, cands[1].Score)
	require.Greater(t, cands[0].Score, 0)

	res := q.Select(cands)
	assert.False(t, res.OK)
	assert.Equal(t, "ambiguous match", res.Reason)
	assert.Len(t, res.Considered, 2)
}

func TestSelectHigherScoreWins(t *testing.T) {
	// One candidate matches the id in its text, another matches only the
	// name tokens; the id match scores higher and wins.
	q := NewQuery("1234567", "Toko Maju", "")
	withID := q.Evaluate(0, "usaha besar 1234567")
	nameOnly := q.Evaluate(1, "toko maju lama")
	require.NotEqual(t, withID.Score, nameOnly.Score)

	res := q.Select([]Candidate{nameOnly, withID})
	require.True(t, res.OK)
	assert.Equal(t, 0, res.Chosen.Index)
	assert.True(t, res.Chosen.Flags.ID)
}

func TestSelectIDMatchesRestrictPool(t *testing.T) {
	// When any candidate matches the id, non-id candidates are excluded even
	// if they score higher on name+address.
	q := NewQuery("1234567", "Toko Maju", "Jl. Anggrek")
	idOnly := q.Evaluate(0, "unrelated text 1234567")
	nameAddr := q.Evaluate(1, "toko maju jl anggrek")
	require.Greater(t, idOnly.Score, 0)
	require.Equal(t, 3, nameAddr.Score)

	res := q.Select([]Candidate{idOnly, nameAddr})
	require.True(t, res.OK)
	assert.Equal(t, 0, res.Chosen.Index)
}

func TestSelectAllZeroScores(t *testing.T) {
	q := NewQuery("1234567", "Toko Maju", "")
	cands := []Candidate{
		q.Evaluate(0, "warung a"),
		q.Evaluate(1, "warung b"),
	}
	res := q.Select(cands)
	assert.False(t, res.OK)
	assert.Equal(t, "no matching result", res.Reason)
}

func TestSummaryTruncates(t *testing.T) {
	long := strings.Repeat("toko maju ", 40)
	q := NewQuery("", "Toko Maju", "")
	c := q.Evaluate(2, long)

	s := c.Summary()
	assert.Contains(t, s, "card#3")
	assert.Contains(t, s, "nama=Y")
	assert.Contains(t, s, "...")
	assert.LessOrEqual(t, len(s), 220)
}

func TestJoinTokens(t *testing.T) {
	assert.Equal(t, "-", JoinTokens(nil))
	assert.Equal(t, "toko, maju", JoinTokens([]string{"toko", "maju"}))
}
