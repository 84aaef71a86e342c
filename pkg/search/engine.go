// Package search ranks corpus documents against free-text queries with a
// deterministic weighted scoring function. Given the same snapshot, query,
// and options, Search always returns the same ordered results.
package search

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/workflowhub/kbservice/pkg/models"
)

const (
	// DefaultLimit caps the result set when the caller does not.
	DefaultLimit = 20

	// maxQueryRunes bounds scoring work per request.
	maxQueryRunes = 256

	// minTokenRunes: shorter tokens are too noisy to score.
	minTokenRunes = 3
)

// Weights holds the scoring constants. The defaults are tuned empirically;
// callers may adjust them as long as exact-title matches keep outranking
// substring matches, which keep outranking keyword-only matches.
type Weights struct {
	ExactTitle           float64
	TitleSubstring       float64
	TitleToken           float64
	DescriptionSubstring float64
	DescriptionToken     float64
	KeywordToken         float64
	HeadingOccurrence    float64
	CategorySubstring    float64
	FuzzyTitleToken      float64

	// ConciseMultiplier boosts documents below ConciseWordCount words.
	ConciseMultiplier float64
	ConciseWordCount  int

	// Fuzzy matching applies to tokens longer than FuzzyMinTokenRunes with
	// edit distance at most FuzzyMaxDistance.
	FuzzyMinTokenRunes int
	FuzzyMaxDistance   int
}

func DefaultWeights() Weights {
	return Weights{
		ExactTitle:           1000,
		TitleSubstring:       500,
		TitleToken:           100,
		DescriptionSubstring: 200,
		DescriptionToken:     50,
		KeywordToken:         75,
		HeadingOccurrence:    30,
		CategorySubstring:    40,
		FuzzyTitleToken:      25,
		ConciseMultiplier:    1.2,
		ConciseWordCount:     500,
		FuzzyMinTokenRunes:   5,
		FuzzyMaxDistance:     2,
	}
}

// Options filters and caps a search.
type Options struct {
	Category models.Category
	Limit    int
}

// Result pairs a matched document with its score.
type Result struct {
	Document *models.WorkflowDocument
	Score    float64
}

type Engine struct {
	weights Weights
}

func NewEngine(weights Weights) *Engine {
	return &Engine{weights: weights}
}

// Search scores every candidate document and returns the matches ordered by
// descending score, ties broken by ascending id, capped at opts.Limit.
// Zero-score documents are excluded.
func (e *Engine) Search(snap *models.Snapshot, query string, opts Options) []Result {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	q := normalizeQuery(query)
	if q == "" {
		return nil
	}

	tokens := queryTokens(q)

	var results []Result

	for i := range snap.Documents {
		doc := &snap.Documents[i]

		if opts.Category != "" && doc.Category != opts.Category {
			continue
		}

		score := e.score(doc, q, tokens)
		if score <= 0 {
			continue
		}

		results = append(results, Result{Document: doc, Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}

		return results[i].Document.ID < results[j].Document.ID
	})

	if len(results) > limit {
		results = results[:limit]
	}

	return results
}

func (e *Engine) score(doc *models.WorkflowDocument, q string, tokens []string) float64 {
	var score float64

	title := strings.ToLower(doc.Title)
	description := strings.ToLower(doc.Description)
	category := strings.ToLower(string(doc.Category))

	if title == q {
		score += e.weights.ExactTitle
	}

	if strings.Contains(title, q) {
		score += e.weights.TitleSubstring
	}

	if strings.Contains(description, q) {
		score += e.weights.DescriptionSubstring
	}

	if strings.Contains(category, q) {
		score += e.weights.CategorySubstring
	}

	titleTokens := strings.Fields(title)

	for _, token := range tokens {
		if strings.Contains(title, token) {
			score += e.weights.TitleToken
		}

		if strings.Contains(description, token) {
			score += e.weights.DescriptionToken
		}

		if matchesKeyword(doc.Keywords, token) {
			score += e.weights.KeywordToken
		}

		for _, heading := range doc.Headings {
			occurrences := strings.Count(strings.ToLower(heading), token)
			score += float64(occurrences) * e.weights.HeadingOccurrence
		}

		score += e.fuzzyTitleScore(titleTokens, token)
	}

	if score > 0 && doc.WordCount < e.weights.ConciseWordCount {
		score *= e.weights.ConciseMultiplier
	}

	return score
}

// fuzzyTitleScore tolerates typos: query tokens longer than the threshold
// earn credit for title tokens within the edit-distance budget.
func (e *Engine) fuzzyTitleScore(titleTokens []string, token string) float64 {
	if len([]rune(token)) < e.weights.FuzzyMinTokenRunes {
		return 0
	}

	var score float64

	for _, titleToken := range titleTokens {
		if levenshtein.ComputeDistance(token, titleToken) <= e.weights.FuzzyMaxDistance {
			score += e.weights.FuzzyTitleToken
		}
	}

	return score
}

// matchesKeyword matches substrings in either direction so "price" hits the
// keyword "pricing" and "ecommerce-pricing" alike.
func matchesKeyword(keywords []string, token string) bool {
	for _, keyword := range keywords {
		k := strings.ToLower(keyword)
		if strings.Contains(k, token) || strings.Contains(token, k) {
			return true
		}
	}

	return false
}

func normalizeQuery(query string) string {
	q := strings.ToLower(strings.TrimSpace(query))

	if runes := []rune(q); len(runes) > maxQueryRunes {
		q = string(runes[:maxQueryRunes])
	}

	return q
}

func queryTokens(q string) []string {
	var tokens []string

	for _, field := range strings.Fields(q) {
		if len([]rune(field)) >= minTokenRunes {
			tokens = append(tokens, field)
		}
	}

	return tokens
}
