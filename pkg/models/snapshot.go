package models

import (
	"sort"
	"time"
)

// Snapshot is an immutable, fully-loaded view of the document corpus and
// rule set at a point in time. It is published atomically and superseded,
// never mutated, by the next load.
type Snapshot struct {
	Documents  []WorkflowDocument
	Rules      []AntiPatternRule
	BuiltAt    time.Time
	SourceHash string
	Warnings   []string

	byID       map[string]*WorkflowDocument
	categories []string
}

// NewSnapshot builds the derived lookup structures once; the snapshot must
// not be modified afterwards.
func NewSnapshot(docs []WorkflowDocument, rules []AntiPatternRule, sourceHash string, warnings []string) *Snapshot {
	snap := &Snapshot{
		Documents:  docs,
		Rules:      rules,
		BuiltAt:    time.Now().UTC(),
		SourceHash: sourceHash,
		Warnings:   warnings,
		byID:       make(map[string]*WorkflowDocument, len(docs)),
	}

	seen := make(map[Category]bool)

	for i := range snap.Documents {
		doc := &snap.Documents[i]
		snap.byID[doc.ID] = doc

		if !seen[doc.Category] {
			seen[doc.Category] = true
			snap.categories = append(snap.categories, string(doc.Category))
		}
	}

	sort.Strings(snap.categories)

	return snap
}

// DocumentByID returns the document with the given id, if present.
func (s *Snapshot) DocumentByID(id string) (*WorkflowDocument, bool) {
	doc, ok := s.byID[id]

	return doc, ok
}

// Categories returns the sorted set of categories present in the corpus.
func (s *Snapshot) Categories() []string {
	out := make([]string, len(s.categories))
	copy(out, s.categories)

	return out
}

// DocumentCount returns the number of documents in the snapshot.
func (s *Snapshot) DocumentCount() int {
	return len(s.Documents)
}
