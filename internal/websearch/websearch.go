// Package websearch looks up background context for an email via the
// Google Programmable Search API.
package websearch

import (
	"context"
	"fmt"

	customsearch "google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"
)

// Result is one search hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// Searcher queries a Programmable Search Engine.
type Searcher struct {
	service  *customsearch.Service
	engineID string
}

// New creates a searcher for the given API key and engine id.
func New(ctx context.Context, apiKey, engineID string) (*Searcher, error) {
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating search service: %w", err)
	}
	return &Searcher{service: svc, engineID: engineID}, nil
}

// Search returns the top three hits for a query.
func (s *Searcher) Search(ctx context.Context, query string) ([]Result, error) {
	resp, err := s.service.Cse.List().
		Cx(s.engineID).
		Q(query).
		Num(3).
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		results = append(results, Result{
			Title:   item.Title,
			Link:    item.Link,
			Snippet: item.Snippet,
		})
	}

	return results, nil
}
