// File: internal/matching/matching.go
//
// Package matching scores rendered result cards against an input record and
// picks the one confident match, or reports that there is none. The policy is
// deliberately conservative: a sole candidate that matches nothing is
// rejected, and a tie between the two best candidates is treated as
// ambiguous. Precision is worth more than recall here because a wrong pick
// submits data against the wrong business.
package matching

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// Score weights per matched field.
const (
	scoreID      = 3
	scoreName    = 2
	scoreAddress = 1
)

// snippetMaxLen bounds the card text echoed into the log summary.
const snippetMaxLen = 140

// Flags records which of the record's identifying fields were found in a
// candidate's text.
type Flags struct {
	ID      bool
	Name    bool
	Address bool
}

// Candidate is one rendered card under consideration. Candidates are
// ephemeral: rebuilt from the live surface for every record.
type Candidate struct {
	// Index is the position of the card in the rendered list.
	Index int
	// Text is the raw rendered text of the card.
	Text string

	Flags Flags
	Score int
}

// Normalize casefolds, strips punctuation and collapses whitespace so that
// cosmetic differences never break a comparison.
func Normalize(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(value))
	lastSpace := false
	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// Tokens splits a field into comparison tokens: words of length >= 3 plus
// pure digit runs. When nothing qualifies the whole normalized string is the
// single token, so short names still participate.
func Tokens(value string) []string {
	normalized := Normalize(value)
	if normalized == "" {
		return nil
	}
	var filtered []string
	for _, token := range strings.Fields(normalized) {
		if len(token) >= 3 || isDigits(token) {
			filtered = append(filtered, token)
		}
	}
	if len(filtered) == 0 {
		return []string{normalized}
	}
	return filtered
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// containsTokens reports whether every token appears as a substring of the
// haystack. An empty token list never matches.
func containsTokens(haystack string, tokens []string) bool {
	if len(tokens) == 0 {
		return false
	}
	for _, token := range tokens {
		if !strings.Contains(haystack, token) {
			return false
		}
	}
	return true
}

// Query is the identifying part of an input record, pre-normalized once per
// record.
type Query struct {
	rawID      string
	rawName    string
	rawAddress string

	idNorm        string
	nameTokens    []string
	addressTokens []string
}

// NewQuery prepares the record fields for candidate evaluation.
func NewQuery(id, name, address string) Query {
	return Query{
		rawID:         id,
		rawName:       name,
		rawAddress:    address,
		idNorm:        Normalize(id),
		nameTokens:    Tokens(name),
		addressTokens: Tokens(address),
	}
}

// IDNorm exposes the normalized id for log context.
func (q Query) IDNorm() string { return q.idNorm }

// NameTokens exposes the name tokens for log context.
func (q Query) NameTokens() []string { return q.nameTokens }

// AddressTokens exposes the address tokens for log context.
func (q Query) AddressTokens() []string { return q.addressTokens }

// Evaluate builds a Candidate from a card's rendered text.
func (q Query) Evaluate(index int, text string) Candidate {
	haystack := Normalize(text)
	flags := Flags{
		ID:      q.idNorm != "" && strings.Contains(haystack, q.idNorm),
		Name:    containsTokens(haystack, q.nameTokens),
		Address: containsTokens(haystack, q.addressTokens),
	}
	score := 0
	if flags.ID {
		score += scoreID
	}
	if flags.Name {
		score += scoreName
	}
	if flags.Address {
		score += scoreAddress
	}
	return Candidate{Index: index, Text: text, Flags: flags, Score: score}
}

// acceptable is the single-candidate (and best-candidate) admission policy:
//   - an id was given and matched; or
//   - the name matched, and either no address was given or the address (or
//     id) matched too; or
//   - only an address was given and it matched.
//
// This rejects same-named cards when the given address does not line up,
// which is intentional.
func (q Query) acceptable(flags Flags) bool {
	if q.rawID != "" && flags.ID {
		return true
	}
	if q.rawName != "" && flags.Name {
		if q.rawAddress != "" {
			return flags.Address || flags.ID
		}
		return true
	}
	if q.rawName == "" && q.rawAddress != "" && flags.Address {
		return true
	}
	return false
}

// Result is the outcome of a selection pass.
type Result struct {
	// Chosen is the selected candidate when OK is true.
	Chosen Candidate
	OK     bool
	// Reason explains a rejection for the audit trail.
	Reason string
	// Considered holds the candidates that drove the decision, for logging.
	Considered []Candidate
}

// Select applies the disambiguation policy to the evaluated candidates.
func (q Query) Select(candidates []Candidate) Result {
	switch len(candidates) {
	case 0:
		return Result{Reason: "no results"}
	case 1:
		c := candidates[0]
		if q.acceptable(c.Flags) {
			return Result{Chosen: c, OK: true, Considered: candidates}
		}
		return Result{Reason: "single result mismatch", Considered: candidates}
	}

	// With several candidates, an id match trumps everything else: restrict
	// the field to id matches when any exist.
	var pool []Candidate
	for _, c := range candidates {
		if c.Flags.ID {
			pool = append(pool, c)
		}
	}
	if pool == nil {
		pool = append(pool, candidates...)
	}

	// Stable ordering: score descending, original card order preserved.
	sorted := make([]Candidate, len(pool))
	copy(sorted, pool)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	if sorted[0].Score == 0 {
		return Result{Reason: "no matching result", Considered: sorted}
	}
	if len(sorted) > 1 && sorted[0].Score == sorted[1].Score {
		return Result{Reason: "ambiguous match", Considered: sorted[:2]}
	}
	best := sorted[0]
	if !q.acceptable(best.Flags) {
		return Result{Reason: "best match failed validation", Considered: sorted[:1]}
	}
	return Result{Chosen: best, OK: true, Considered: sorted[:1]}
}

// Summary renders a candidate as a one-line log entry.
func (c Candidate) Summary() string {
	snippet := strings.Join(strings.Fields(c.Text), " ")
	if len(snippet) > snippetMaxLen {
		snippet = snippet[:snippetMaxLen-3] + "..."
	}
	return fmt.Sprintf("card#%d score=%d idsbr=%s nama=%s alamat=%s text='%s'",
		c.Index+1, c.Score, yn(c.Flags.ID), yn(c.Flags.Name), yn(c.Flags.Address), snippet)
}

func yn(b bool) string {
	if b {
		return "Y"
	}
	return "N"
}

// JoinTokens formats a token list for log fields.
func JoinTokens(tokens []string) string {
	if len(tokens) == 0 {
		return "-"
	}
	return strings.Join(tokens, ", ")
}
