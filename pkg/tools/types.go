package tools

import "github.com/workflowhub/kbservice/pkg/models"

// SearchMatch is one ranked search hit, trimmed to what callers render.
type SearchMatch struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Category    models.Category `json:"category"`
	Score       float64         `json:"score"`
}

// SearchResult is the result payload of search_workflows.
type SearchResult struct {
	Matches []SearchMatch `json:"matches"`
	Total   int           `json:"total"`
}

// CategoriesResult is the result payload of list_categories.
type CategoriesResult struct {
	Categories []string `json:"categories"`
}

// RulesResult is the result payload of get_anti_patterns.
type RulesResult struct {
	Rules []models.AntiPatternRule `json:"rules"`
}
